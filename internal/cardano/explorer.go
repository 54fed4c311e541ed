package cardano

import "strings"

// Explorer builds cardanoscan links for one network
type Explorer string

// NewExplorer returns the explorer for mainnet, preprod or preview
func NewExplorer(network string) Explorer {
	switch network {
	case "preprod", "preview":
		return Explorer("https://" + network + ".cardanoscan.io")
	default:
		return Explorer("https://cardanoscan.io")
	}
}

// Tx links a transaction
func (e Explorer) Tx(hash string) string {
	return string(e) + "/transaction/" + hash
}

// Address links a payment address or, for stake addresses, the stake key page
func (e Explorer) Address(addr string) string {
	if strings.HasPrefix(addr, "stake") {
		return string(e) + "/stakekey/" + addr
	}
	return string(e) + "/address/" + addr
}

// Short abbreviates a long address or hash for display
func Short(s string, n int) string {
	if len(s) <= 2*n+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}
