package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// requestDomain separates API request digests from any other signed data.
var requestDomain = ethcrypto.Keccak256([]byte("bazaar/api-request/v1"))

// ErrBadSignature is returned when a request signature cannot be recovered.
var ErrBadSignature = errors.New("crypto: malformed request signature")

// Signer signs API requests with a secp256k1 key. The recovered signer of a
// request is the account the request acts for.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// GenerateSigner creates a signer over a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the account controlled by the signer.
func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex returns the key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(ethcrypto.FromECDSA(s.privateKey))
}

// RequestDigest is keccak256(domain ‖ timestamp ‖ method ‖ path ‖ keccak256(body)).
func RequestDigest(unixTS int64, method, path string, body []byte) common.Hash {
	return ethcrypto.Keccak256Hash(
		requestDomain,
		[]byte(strconv.FormatInt(unixTS, 10)),
		[]byte(strings.ToUpper(method)),
		[]byte(path),
		ethcrypto.Keccak256(body),
	)
}

// SignRequest returns the 65-byte signature over the request digest, hex
// encoded with 0x prefix.
func (s *Signer) SignRequest(unixTS int64, method, path string, body []byte) (string, error) {
	digest := RequestDigest(unixTS, method, path, body)
	sig, err := ethcrypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign request: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequestSigner returns the account that produced signature over the
// request.
func RecoverRequestSigner(signature string, unixTS int64, method, path string, body []byte) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	digest := RequestDigest(unixTS, method, path, body)
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
