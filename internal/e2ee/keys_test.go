package e2ee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealedBoxRoundTrip(t *testing.T) {
	alice, err := NewKeyRing()
	require.NoError(t, err)
	bob, err := NewKeyRing()
	require.NoError(t, err)

	bobPub, err := bob.PublicKey()
	require.NoError(t, err)

	ciphertext, err := EncryptFor([]byte("meet at noon"), bobPub)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "meet at noon")

	plaintext, err := bob.DecryptMine(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", string(plaintext))

	// Sealed to bob, not alice.
	_, err = alice.DecryptMine(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptMineWithoutKeyPair(t *testing.T) {
	ring := EmptyKeyRing()
	_, err := ring.DecryptMine([]byte("anything"))
	assert.ErrorIs(t, err, ErrNoKeyPair)

	_, err = ring.PublicKey()
	assert.ErrorIs(t, err, ErrNoKeyPair)
}

func TestSymmetricRoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	ct1, err := EncryptSymmetric([]byte("bulk payload"), key)
	require.NoError(t, err)
	ct2, err := EncryptSymmetric([]byte("bulk payload"), key)
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2, "fresh nonce per ciphertext")

	plaintext, err := DecryptSymmetric(ct1, key)
	require.NoError(t, err)
	assert.Equal(t, "bulk payload", string(plaintext))
}

func TestSymmetricTamperDetection(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	ciphertext, err := EncryptSymmetric([]byte("payload"), key)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0x01

	_, err = DecryptSymmetric(ciphertext, key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSymmetricShortCiphertext(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	_, err = DecryptSymmetric([]byte("short"), key)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSymmetricWrongKey(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)
	other, err := GenerateSymmetricKey()
	require.NoError(t, err)

	ciphertext, err := EncryptSymmetric([]byte("payload"), key)
	require.NoError(t, err)
	_, err = DecryptSymmetric(ciphertext, other)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
