package blockfrost

import "github.com/suspectuso/drop-minter/internal/ledger"

// AddressTransaction is an entry of /addresses/{address}/transactions
type AddressTransaction struct {
	TxHash      string `json:"tx_hash"`
	TxIndex     int    `json:"tx_index"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

// TxUTXOs is the response of /txs/{hash}/utxos
type TxUTXOs struct {
	Hash    string     `json:"hash"`
	Inputs  []TxInput  `json:"inputs"`
	Outputs []TxOutput `json:"outputs"`
}

func (t *TxUTXOs) spendsFrom(address string) bool {
	for _, in := range t.Inputs {
		if in.Address == address && !in.Collateral && !in.Reference {
			return true
		}
	}
	return false
}

// TxInput is a transaction input
type TxInput struct {
	Address     string          `json:"address"`
	Amount      []ledger.Amount `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	OutputIndex int             `json:"output_index"`
	Collateral  bool            `json:"collateral"`
	Reference   bool            `json:"reference"`
}

// TxOutput is a transaction output
type TxOutput struct {
	Address     string          `json:"address"`
	Amount      []ledger.Amount `json:"amount"`
	OutputIndex int             `json:"output_index"`
}

// Health is the response of /health
type Health struct {
	IsHealthy bool `json:"is_healthy"`
}

// APIError is the error body returned by Blockfrost
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorName  string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return "blockfrost: " + e.ErrorName + ": " + e.Message
}
