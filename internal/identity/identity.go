// Package identity loads the signing key used once during bootstrap and
// produces personal-sign signatures over server-issued nonces.
package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrKeyFileMissing is returned by LoadFile when the key file does not exist.
var ErrKeyFileMissing = errors.New("key file not found")

// Identity is a secp256k1 keypair and its derived address.
type Identity struct {
	key     *ecdsa.PrivateKey
	Address common.Address
}

// Parse builds an Identity from a hex encoded private key, with or without 0x.
func Parse(hexKey string) (Identity, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return Identity{}, errors.New("empty private key")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return Identity{}, fmt.Errorf("parse private key: %w", err)
	}
	return Identity{key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// LoadFile reads a private key from path.
func LoadFile(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Identity{}, fmt.Errorf("%w: %s", ErrKeyFileMissing, path)
		}
		return Identity{}, fmt.Errorf("read key file: %w", err)
	}
	return Parse(string(data))
}

// AddressHex returns the checksummed address.
func (id Identity) AddressHex() string {
	return id.Address.Hex()
}

// SignMessage signs msg with the EIP-191 personal message prefix and returns
// the 65-byte signature as 0x-prefixed hex with v in {27, 28}.
func (id Identity) SignMessage(msg []byte) (string, error) {
	if id.key == nil {
		return "", errors.New("identity has no private key")
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), id.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
