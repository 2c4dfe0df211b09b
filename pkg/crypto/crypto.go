package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Error wraps any failure of a cryptographic operation. Callers must treat it
// as a validation failure: reject the input, never crash, and never tell a
// remote peer which check failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto: %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

const (
	// SymKeySize is the size of a symmetric sealing key: 32 bytes for
	// AES-256-CTR plus 32 bytes for HMAC-SHA256.
	SymKeySize = 64

	pubKeySize = 33
)

// Hash returns the SHA-256 digest of data. Used for content-addressing store
// entries and for message integrity.
func Hash(data []byte) []byte {
	return chainhash.HashB(data)
}

// GenerateKeyPair returns a fresh secp256k1 private key.
func GenerateKeyPair() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, newError("generate key", err)
	}
	return priv, nil
}

// Sign returns a DER-encoded ECDSA signature over the SHA-256 digest of data.
func Sign(priv *btcec.PrivateKey, data []byte) []byte {
	sig := ecdsa.Sign(priv, Hash(data))
	return sig.Serialize()
}

// Verify checks a DER-encoded signature over the SHA-256 digest of data
// against the given serialized public key.
func Verify(pubKey, data, signature []byte) error {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return newError("parse public key", err)
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return newError("parse signature", err)
	}
	if !sig.Verify(Hash(data), pub) {
		return newError("verify", fmt.Errorf("signature mismatch"))
	}
	return nil
}

// NewSymKey returns a random symmetric sealing key.
func NewSymKey() ([]byte, error) {
	key := make([]byte, SymKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, newError("generate sym key", err)
	}
	return key, nil
}

// EncryptSym seals plaintext with AES-256-CTR and authenticates the result
// with HMAC-SHA256. Layout of the returned blob: iv || ciphertext || mac.
func EncryptSym(key, plaintext []byte) ([]byte, error) {
	if len(key) != SymKeySize {
		return nil, newError("encrypt", fmt.Errorf("invalid key size %d", len(key)))
	}
	encKey, macKey := key[:32], key[32:]

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, newError("encrypt", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, newError("encrypt", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)

	blob := make([]byte, 0, len(iv)+len(ciphertext)+sha256.Size)
	blob = append(blob, iv...)
	blob = append(blob, ciphertext...)
	blob = append(blob, mac.Sum(nil)...)
	return blob, nil
}

// DecryptSym verifies the HMAC of a blob produced by EncryptSym and returns
// the plaintext.
func DecryptSym(key, blob []byte) ([]byte, error) {
	if len(key) != SymKeySize {
		return nil, newError("decrypt", fmt.Errorf("invalid key size %d", len(key)))
	}
	if len(blob) < aes.BlockSize+sha256.Size {
		return nil, newError("decrypt", fmt.Errorf("blob too short"))
	}
	encKey, macKey := key[:32], key[32:]

	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize : len(blob)-sha256.Size]
	wantMac := blob[len(blob)-sha256.Size:]

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	if !hmac.Equal(mac.Sum(nil), wantMac) {
		return nil, newError("decrypt", fmt.Errorf("mac mismatch"))
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, newError("decrypt", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// EncryptHybrid seals plaintext for the holder of the given public key: an
// ephemeral key pair is generated, a symmetric key is derived from the ECDH
// shared secret, and the payload is sealed with EncryptSym. Layout:
// ephemeralPubKey(33) || symBlob.
func EncryptHybrid(recipientPubKey, plaintext []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(recipientPubKey)
	if err != nil {
		return nil, newError("hybrid encrypt", err)
	}
	eph, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, newError("hybrid encrypt", err)
	}

	key := deriveSymKey(btcec.GenerateSharedSecret(eph, pub))
	sealed, err := EncryptSym(key, plaintext)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, pubKeySize+len(sealed))
	blob = append(blob, eph.PubKey().SerializeCompressed()...)
	blob = append(blob, sealed...)
	return blob, nil
}

// DecryptHybrid opens a blob produced by EncryptHybrid with the recipient's
// private key.
func DecryptHybrid(priv *btcec.PrivateKey, blob []byte) ([]byte, error) {
	if len(blob) < pubKeySize {
		return nil, newError("hybrid decrypt", fmt.Errorf("blob too short"))
	}
	ephPub, err := btcec.ParsePubKey(blob[:pubKeySize])
	if err != nil {
		return nil, newError("hybrid decrypt", err)
	}

	key := deriveSymKey(btcec.GenerateSharedSecret(priv, ephPub))
	return DecryptSym(key, blob[pubKeySize:])
}

func deriveSymKey(sharedSecret []byte) []byte {
	digest := sha512.Sum512(sharedSecret)
	return digest[:SymKeySize]
}

// SameKey reports whether two serialized public keys are identical.
func SameKey(a, b []byte) bool {
	return bytes.Equal(a, b)
}
