// Package e2ee holds per-session key material and the encrypt/decrypt
// contract used by clients before payloads enter the pipeline. The hub
// itself never calls into this package: it transports opaque blobs.
package e2ee

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// Errors returned by the key ring.
var (
	ErrNoKeyPair          = errors.New("e2ee: no key pair generated")
	ErrDecryptionFailed   = errors.New("e2ee: decryption failed")
	ErrCiphertextTooShort = errors.New("e2ee: ciphertext too short")
)

// KeyRing owns one long-lived asymmetric key pair. It is constructed
// explicitly and injected into whatever session needs it; only the
// public half ever leaves the process (published via the registry).
type KeyRing struct {
	publicKey  *[32]byte
	privateKey *[32]byte
}

// NewKeyRing generates a fresh key pair.
func NewKeyRing() (*KeyRing, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &KeyRing{publicKey: pub, privateKey: priv}, nil
}

// EmptyKeyRing returns a ring with no key material, for processes that
// only transport ciphertext. DecryptMine on it fails with ErrNoKeyPair.
func EmptyKeyRing() *KeyRing {
	return &KeyRing{}
}

// PublicKey returns the public half for publication.
func (k *KeyRing) PublicKey() ([32]byte, error) {
	if k.publicKey == nil {
		return [32]byte{}, ErrNoKeyPair
	}
	return *k.publicKey, nil
}

// EncryptFor seals plaintext to a recipient's public key. The recipient
// needs only their own key pair to open it.
func EncryptFor(plaintext []byte, recipientPublicKey [32]byte) ([]byte, error) {
	ciphertext, err := box.SealAnonymous(nil, plaintext, &recipientPublicKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return ciphertext, nil
}

// DecryptMine opens a payload sealed to this ring's public key.
func (k *KeyRing) DecryptMine(ciphertext []byte) ([]byte, error) {
	if k.privateKey == nil {
		return nil, ErrNoKeyPair
	}
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, k.publicKey, k.privateKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SymmetricKeySize is the size of a bulk-encryption key.
const SymmetricKeySize = 32

const nonceSize = 24

// GenerateSymmetricKey produces a per-conversation key. It is
// transported out of band, sealed with EncryptFor.
func GenerateSymmetricKey() ([SymmetricKeySize]byte, error) {
	var key [SymmetricKeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("generating symmetric key: %w", err)
	}
	return key, nil
}

// EncryptSymmetric encrypts data under key with a freshly random nonce
// prepended to the ciphertext.
func EncryptSymmetric(data []byte, key [SymmetricKeySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], data, &nonce, &key), nil
}

// DecryptSymmetric reverses EncryptSymmetric.
func DecryptSymmetric(data []byte, key [SymmetricKeySize]byte) ([]byte, error) {
	if len(data) < nonceSize {
		return nil, ErrCiphertextTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plaintext, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
