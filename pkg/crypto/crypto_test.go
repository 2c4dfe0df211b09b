package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdex-network/peerdex-daemon/pkg/crypto"
)

func TestSignVerify(t *testing.T) {
	priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("offer payload bytes")
	sig := crypto.Sign(priv, data)

	err = crypto.Verify(priv.PubKey().SerializeCompressed(), data, sig)
	require.NoError(t, err)

	t.Run("tampered_data", func(t *testing.T) {
		err := crypto.Verify(
			priv.PubKey().SerializeCompressed(), []byte("other bytes"), sig,
		)
		require.Error(t, err)
		var cryptoErr *crypto.Error
		require.ErrorAs(t, err, &cryptoErr)
	})

	t.Run("wrong_key", func(t *testing.T) {
		other, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		err = crypto.Verify(other.PubKey().SerializeCompressed(), data, sig)
		require.Error(t, err)
	})

	t.Run("malformed_key", func(t *testing.T) {
		err := crypto.Verify([]byte{0x00, 0x01}, data, sig)
		require.Error(t, err)
		var cryptoErr *crypto.Error
		require.ErrorAs(t, err, &cryptoErr)
	})
}

func TestSymSeal(t *testing.T) {
	key, err := crypto.NewSymKey()
	require.NoError(t, err)

	plaintext := []byte("payment account details")
	blob, err := crypto.EncryptSym(key, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, blob)

	decrypted, err := crypto.DecryptSym(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)

	t.Run("tampered_blob", func(t *testing.T) {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[len(tampered)/2] ^= 0xff
		_, err := crypto.DecryptSym(key, tampered)
		require.Error(t, err)
	})

	t.Run("wrong_key", func(t *testing.T) {
		otherKey, err := crypto.NewSymKey()
		require.NoError(t, err)
		_, err = crypto.DecryptSym(otherKey, blob)
		require.Error(t, err)
	})
}

func TestHybridSeal(t *testing.T) {
	recipient, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("direct message for the trade peer")
	blob, err := crypto.EncryptHybrid(
		recipient.PubKey().SerializeCompressed(), plaintext,
	)
	require.NoError(t, err)

	decrypted, err := crypto.DecryptHybrid(recipient, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)

	t.Run("wrong_recipient", func(t *testing.T) {
		other, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		_, err = crypto.DecryptHybrid(other, blob)
		require.Error(t, err)
	})

	t.Run("truncated_blob", func(t *testing.T) {
		_, err := crypto.DecryptHybrid(recipient, blob[:16])
		require.Error(t, err)
	})
}

func TestHashIsDeterministic(t *testing.T) {
	a := crypto.Hash([]byte("payload"))
	b := crypto.Hash([]byte("payload"))
	c := crypto.Hash([]byte("payload!"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 32)
}
