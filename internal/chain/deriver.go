package chain

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type AddressDeriver struct {
	XPub string
}

// Derive expects XPub at path m/44'/60'/0'/0 and derives the EVM address of
// child index i. The same address is valid on every EVM network.
func (d AddressDeriver) Derive(index uint32) (string, error) {
	if d.XPub == "" {
		return "", errors.New("xpub is not configured")
	}
	if index >= hdkeychain.HardenedKeyStart {
		return "", errors.New("derivation index out of range")
	}

	key, err := hdkeychain.NewKeyFromString(d.XPub)
	if err != nil {
		return "", err
	}
	if key.IsPrivate() {
		return "", errors.New("extended key must be public")
	}
	child, err := key.Derive(index)
	if err != nil {
		return "", err
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}

	uncompressed := pubKey.SerializeUncompressed()
	addr := common.BytesToAddress(crypto.Keccak256(uncompressed[1:])[12:])
	return addr.Hex(), nil
}

// IsAddress reports whether s is a hex EVM address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}
