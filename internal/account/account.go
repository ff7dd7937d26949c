// Package account holds the probe sender accounts and rotates between them.
package account

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account holds a sender account's key and address.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key.
// The key may carry a 0x prefix.
func NewAccountFromHex(hexKey string) (*Account, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewAccount(privateKey), nil
}

// Pair is a sender account and the address it probes.
type Pair struct {
	Sender   *Account
	Receiver common.Address
}

// NewPair parses a sender key and receiver address.
func NewPair(senderKeyHex, receiverHex string) (*Pair, error) {
	sender, err := NewAccountFromHex(senderKeyHex)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(receiverHex) {
		return nil, fmt.Errorf("invalid receiver address %q", receiverHex)
	}
	return &Pair{
		Sender:   sender,
		Receiver: common.HexToAddress(receiverHex),
	}, nil
}

// Well-known test private keys (from Anvil/Hardhat default accounts).
var TestPrivateKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", // Account 0
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", // Account 1
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a", // Account 2
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", // Account 3
}
