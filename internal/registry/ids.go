package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identifiers are keccak256 over 32-byte words so any observer holding the
// inputs can recompute them.

func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

func uintWord(n uint64) []byte {
	return common.BigToHash(new(big.Int).SetUint64(n)).Bytes()
}

// ListingID derives the id of a seller's nonce-th listing on a registry.
func ListingID(registry common.Address, nonce uint64, seller common.Address) common.Hash {
	return crypto.Keccak256Hash(word(registry.Bytes()), uintWord(nonce), word(seller.Bytes()))
}

// AuctionID derives the auction record id for a listing.
func AuctionID(listingID common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("AUCTION"), listingID.Bytes())
}

// RaffleID derives the raffle record id for a listing.
func RaffleID(listingID common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("RAFFLE"), listingID.Bytes())
}

// EscrowID derives the escrow id for a listing. discriminator is the module
// id for auction and raffle sales and the left-padded buyer for fixed price.
func EscrowID(listingID, discriminator common.Hash, blockHeight uint64) common.Hash {
	return crypto.Keccak256Hash([]byte("ESCROW"), listingID.Bytes(), discriminator.Bytes(), uintWord(blockHeight))
}

// BuyerDiscriminator pads a buyer address to the escrow id discriminator.
func BuyerDiscriminator(buyer common.Address) common.Hash {
	return common.BytesToHash(buyer.Bytes())
}

// Commitment is the value a seller publishes when opening a raffle.
func Commitment(reveal common.Hash) common.Hash {
	return crypto.Keccak256Hash(reveal.Bytes())
}

// RaffleSeed mixes the seller's reveal with the block's unpredictable value
// and the listing id.
func RaffleSeed(reveal, prevRandao, listingID common.Hash) *big.Int {
	return new(big.Int).SetBytes(crypto.Keccak256(reveal.Bytes(), prevRandao.Bytes(), listingID.Bytes()))
}
