package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NewReveal draws a random 32-byte raffle reveal and returns it with its
// commitment keccak256(reveal). The seller publishes the commitment when
// opening a raffle and keeps the reveal secret until closing.
func NewReveal() (reveal, commitment common.Hash, err error) {
	if _, err := rand.Read(reveal[:]); err != nil {
		return common.Hash{}, common.Hash{}, fmt.Errorf("crypto: reading randomness: %w", err)
	}
	return reveal, ethcrypto.Keccak256Hash(reveal.Bytes()), nil
}

// VerifyReveal reports whether reveal opens commitment.
func VerifyReveal(reveal, commitment common.Hash) bool {
	return ethcrypto.Keccak256Hash(reveal.Bytes()) == commitment
}
