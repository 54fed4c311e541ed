package ledger

import "fmt"

// Lovelace is the unit name of the base settlement currency
const Lovelace = "lovelace"

// Amount is one (unit, quantity) entry of an output's value
type Amount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

// Deposit is an unspent output observed at the watched address
type Deposit struct {
	TxHash      string
	OutputIndex int
	Amounts     []Amount
}

// ID returns the composite deposit identifier "<tx>#<index>"
func (d Deposit) ID() string {
	return fmt.Sprintf("%s#%d", d.TxHash, d.OutputIndex)
}

// Input is a transaction input as reported by the indexer
type Input struct {
	Address     string
	TxHash      string
	OutputIndex int
}
