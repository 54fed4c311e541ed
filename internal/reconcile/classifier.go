package reconcile

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/drop-minter/internal/ledger"
)

// Classifier decides whether a deposit pays exactly the price
type Classifier struct {
	price decimal.Decimal
}

// NewClassifier creates a classifier for a price in lovelace
func NewClassifier(priceLovelace uint64) Classifier {
	return Classifier{price: decimal.NewFromBigInt(new(big.Int).SetUint64(priceLovelace), 0)}
}

// Qualifies reports whether d carries lovelace only, in exactly the price amount
func (c Classifier) Qualifies(d ledger.Deposit) bool {
	if len(d.Amounts) != 1 {
		return false
	}

	a := d.Amounts[0]
	if a.Unit != ledger.Lovelace {
		return false
	}

	qty, err := decimal.NewFromString(a.Quantity)
	if err != nil {
		return false
	}
	return qty.Equal(c.price)
}
