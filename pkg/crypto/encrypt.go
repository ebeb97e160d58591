package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfSalt domain-separates conversation keys from any other use of the
// shared ECDH point.
var hkdfSalt = []byte("zentalk-conversation-v1")

// ConversationKey derives the symmetric key shared between our secret key
// and a peer's public key. Both directions derive the same key.
func (kp *KeyPair) ConversationKey(peerPubHex string) ([]byte, error) {
	pub, err := parsePublicKey(peerPubHex)
	if err != nil {
		return nil, err
	}
	shared := btcec.GenerateSharedSecret(kp.priv, pub)

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared, hkdfSalt, nil)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, ErrEncryptionFailed
	}
	return key, nil
}

// Encrypt encrypts plaintext for a peer. Output is base64(nonce || ciphertext),
// suitable for the content field of a relay event.
func (kp *KeyPair) Encrypt(plaintext []byte, peerPubHex string) (string, error) {
	key, err := kp.ConversationKey(peerPubHex)
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt for content sent between us and peerPubHex.
// Failure is expected background noise on a shared relay and carries no
// detail beyond ErrDecryptionFailed.
func (kp *KeyPair) Decrypt(content string, peerPubHex string) ([]byte, error) {
	key, err := kp.ConversationKey(peerPubHex)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	sealed, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
