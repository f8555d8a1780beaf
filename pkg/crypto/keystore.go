package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// ErrInvalidCredential is returned when a password cannot unlock the signing key.
var ErrInvalidCredential = errors.New("invalid credential")

// KeystoreWallet signs digests with a key held in an encrypted keystore (v3) document.
// The key is decrypted per call and never cached.
type KeystoreWallet struct {
	keyJSON []byte
	address common.Address
}

func NewKeystoreWallet(keyJSON []byte) (*KeystoreWallet, error) {
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	if !common.IsHexAddress(header.Address) {
		return nil, fmt.Errorf("keystore has invalid address %q", header.Address)
	}
	return &KeystoreWallet{
		keyJSON: append([]byte(nil), keyJSON...),
		address: common.HexToAddress(header.Address),
	}, nil
}

func LoadKeystoreWallet(path string) (*KeystoreWallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}
	return NewKeystoreWallet(data)
}

// EncryptKeystore seals the signer's key with password. light selects the cheap scrypt profile.
func EncryptKeystore(s *Signer, password string, light bool) ([]byte, error) {
	n, p := keystore.StandardScryptN, keystore.StandardScryptP
	if light {
		n, p = keystore.LightScryptN, keystore.LightScryptP
	}
	return EncryptKeystoreCost(s, password, n, p)
}

// EncryptKeystoreCost seals the signer's key with explicit scrypt parameters.
// The wallet reads them back from the key file on every unlock.
func EncryptKeystoreCost(s *Signer, password string, scryptN, scryptP int) ([]byte, error) {
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    s.Address(),
		PrivateKey: s.privateKey,
	}
	data, err := keystore.EncryptKey(key, password, scryptN, scryptP)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt key: %w", err)
	}
	return data, nil
}

func (w *KeystoreWallet) Address() common.Address {
	return w.address
}

// IsPasswordValid reports whether password unlocks the key.
func (w *KeystoreWallet) IsPasswordValid(password string) bool {
	_, err := w.unlock(password)
	return err == nil
}

// SignDigest unlocks the key for signer and signs digest.
func (w *KeystoreWallet) SignDigest(digest common.Hash, password string, signer common.Address) (Signature, error) {
	if signer != w.address {
		return Signature{}, fmt.Errorf("no key for %s: %w", signer.Hex(), ErrInvalidCredential)
	}
	s, err := w.unlock(password)
	if err != nil {
		return Signature{}, err
	}
	return s.SignDigest(digest)
}

// SignMessage hashes message with Keccak256 and signs it.
func (w *KeystoreWallet) SignMessage(message []byte, password string, signer common.Address) (Signature, error) {
	if signer != w.address {
		return Signature{}, fmt.Errorf("no key for %s: %w", signer.Hex(), ErrInvalidCredential)
	}
	s, err := w.unlock(password)
	if err != nil {
		return Signature{}, err
	}
	return s.SignMessage(message)
}

// SignTx signs an ethereum transaction for chainID with the key of signer.
func (w *KeystoreWallet) SignTx(tx *types.Transaction, chainID *big.Int, password string, signer common.Address) (*types.Transaction, error) {
	if signer != w.address {
		return nil, fmt.Errorf("no key for %s: %w", signer.Hex(), ErrInvalidCredential)
	}
	s, err := w.unlock(password)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (w *KeystoreWallet) unlock(password string) (*Signer, error) {
	key, err := keystore.DecryptKey(w.keyJSON, password)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}
	return FromECDSA(key.PrivateKey)
}
