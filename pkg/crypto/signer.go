package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer manages a secp256k1 key pair for signing order digests
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	address    common.Address
}

// Signature is an Ethereum ECDSA signature split into its components.
// V carries the legacy 27/28 offset expected by the matching service.
type Signature struct {
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
	V uint8       `json:"v"`
}

// GenerateKey creates a new random secp256k1 key pair
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return FromECDSA(privateKey)
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return FromECDSA(privateKey)
}

func FromECDSA(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKeyECDSA,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the Ethereum address derived from the public key
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
// WARNING: Keep this secret! Never expose to users or logs
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest and returns it in [R || S || V] format with V in {0,1}
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}

	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return signature, nil
}

// SignDigest signs a digest and returns the split signature
func (s *Signer) SignDigest(digest common.Hash) (Signature, error) {
	raw, err := s.Sign(digest.Bytes())
	if err != nil {
		return Signature{}, err
	}
	return SignatureToRSV(raw)
}

// SignMessage hashes message with Keccak256 before signing it
func (s *Signer) SignMessage(message []byte) (Signature, error) {
	return s.SignDigest(crypto.Keccak256Hash(message))
}

// VerifySignature verifies that signature was created by address for given hash
func VerifySignature(address common.Address, hash common.Hash, sig Signature) bool {
	recovered, err := RecoverAddress(hash, sig)
	if err != nil {
		return false
	}
	return recovered == address
}

// RecoverAddress recovers the signer's address from a digest and signature
func RecoverAddress(hash common.Hash, sig Signature) (common.Address, error) {
	publicKeyBytes, err := crypto.Ecrecover(hash.Bytes(), RSVToSignature(sig))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// SignatureToRSV splits a 65-byte signature into R, S, V components
func SignatureToRSV(signature []byte) (Signature, error) {
	if len(signature) != 65 {
		return Signature{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	v := signature[64]
	if v < 27 {
		v += 27
	}
	return Signature{
		R: common.BytesToHash(signature[:32]),
		S: common.BytesToHash(signature[32:64]),
		V: v,
	}, nil
}

// RSVToSignature combines R, S, V into a 65-byte signature with V in {0,1}
func RSVToSignature(sig Signature) []byte {
	signature := make([]byte, 65)
	copy(signature[:32], sig.R.Bytes())
	copy(signature[32:64], sig.S.Bytes())
	v := sig.V
	if v >= 27 {
		v -= 27
	}
	signature[64] = v
	return signature
}

// RPCSignature returns the 0x-prefixed r||s||v hex form used by eth_sign
func (sig Signature) RPCSignature() string {
	out := make([]byte, 65)
	copy(out, RSVToSignature(sig))
	out[64] = sig.V
	return hexutil.Encode(out)
}

// GenerateSalt returns a uniformly random 256-bit value
func GenerateSalt() (*big.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return new(big.Int).SetBytes(buf[:]), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
