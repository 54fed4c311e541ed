package cardano

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrNoStakeCredential = errors.New("address has no stake credential")
	ErrNoPaymentKey      = errors.New("address has no payment key hash")
)

const credentialLen = 28

// Shelley address types (high nibble of the header byte)
const (
	typeBaseKeyKey       = 0x0
	typeBaseScriptKey    = 0x1
	typeBaseKeyScript    = 0x2
	typeBaseScriptScript = 0x3
	typePointerKey       = 0x4
	typePointerScript    = 0x5
	typeEnterpriseKey    = 0x6
	typeEnterpriseScript = 0x7
	typeRewardKey        = 0xe
	typeRewardScript     = 0xf
)

// MainnetID is the network id carried in mainnet address headers
const MainnetID = 1

// Address is a decoded Shelley address
type Address struct {
	HRP   string
	Bytes []byte
}

// ParseAddress decodes a bech32 Shelley address (addr..., stake...).
// Byron base58 addresses are rejected.
func ParseAddress(s string) (Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 1+credentialLen {
		return Address{}, fmt.Errorf("%w: payload too short (%d bytes)", ErrInvalidAddress, len(raw))
	}

	a := Address{HRP: hrp, Bytes: raw}
	switch a.Type() {
	case typeBaseKeyKey, typeBaseScriptKey, typeBaseKeyScript, typeBaseScriptScript:
		if len(raw) != 1+2*credentialLen {
			return Address{}, fmt.Errorf("%w: base address length %d", ErrInvalidAddress, len(raw))
		}
	case typeEnterpriseKey, typeEnterpriseScript, typeRewardKey, typeRewardScript:
		if len(raw) != 1+credentialLen {
			return Address{}, fmt.Errorf("%w: address length %d", ErrInvalidAddress, len(raw))
		}
	case typePointerKey, typePointerScript:
		// variable-length pointer follows the payment credential
	default:
		return Address{}, fmt.Errorf("%w: unsupported header 0x%02x", ErrInvalidAddress, raw[0])
	}

	return a, nil
}

// Type returns the address type nibble
func (a Address) Type() byte {
	return a.Bytes[0] >> 4
}

// Network returns the network id nibble
func (a Address) Network() byte {
	return a.Bytes[0] & 0x0f
}

// StakeCredential returns the stake credential hash and whether it is a script hash
func (a Address) StakeCredential() ([]byte, bool, error) {
	switch a.Type() {
	case typeBaseKeyKey, typeBaseScriptKey:
		return a.Bytes[1+credentialLen:], false, nil
	case typeBaseKeyScript, typeBaseScriptScript:
		return a.Bytes[1+credentialLen:], true, nil
	case typeRewardKey:
		return a.Bytes[1:], false, nil
	case typeRewardScript:
		return a.Bytes[1:], true, nil
	default:
		return nil, false, ErrNoStakeCredential
	}
}

// StakeAddress renders the stake credential as a bech32 reward address
func (a Address) StakeAddress() (string, error) {
	cred, script, err := a.StakeCredential()
	if err != nil {
		return "", err
	}

	header := byte(typeRewardKey<<4) | a.Network()
	if script {
		header = byte(typeRewardScript<<4) | a.Network()
	}

	payload := make([]byte, 0, 1+credentialLen)
	payload = append(payload, header)
	payload = append(payload, cred...)

	data, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}

	hrp := "stake_test"
	if a.Network() == MainnetID {
		hrp = "stake"
	}
	return bech32.Encode(hrp, data)
}

// PaymentKeyHash returns the payment verification key hash, if the payment part is a key
func (a Address) PaymentKeyHash() ([]byte, error) {
	switch a.Type() {
	case typeBaseKeyKey, typeBaseKeyScript, typePointerKey, typeEnterpriseKey:
		return a.Bytes[1 : 1+credentialLen], nil
	default:
		return nil, ErrNoPaymentKey
	}
}

// Deriver derives credentials from address strings
type Deriver struct{}

// StakeAddress returns the stake address for any address carrying a stake credential
func (Deriver) StakeAddress(addr string) (string, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	return a.StakeAddress()
}

// PaymentKeyHash returns the hex payment key hash of addr
func (Deriver) PaymentKeyHash(addr string) (string, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	h, err := a.PaymentKeyHash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h), nil
}
