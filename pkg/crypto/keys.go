package crypto

import (
	"encoding/hex"
	"errors"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyPair holds a secp256k1 identity key pair. The public key is the
// 32-byte x-only form, hex encoded everywhere it crosses the wire.
type KeyPair struct {
	priv *btcec.PrivateKey
	pub  string
}

// GenerateKeyPair generates a new secp256k1 identity key pair
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return newKeyPair(priv), nil
}

// ImportSecretKey imports a 64-char hex secret key
func ImportSecretKey(secretHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(secretHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, ErrInvalidKey
	}
	return newKeyPair(priv), nil
}

func newKeyPair(priv *btcec.PrivateKey) *KeyPair {
	return &KeyPair{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// PublicKey returns the hex-encoded x-only public key
func (kp *KeyPair) PublicKey() string {
	return kp.pub
}

// ExportSecretKey returns the hex-encoded secret key
func (kp *KeyPair) ExportSecretKey() string {
	return hex.EncodeToString(kp.priv.Serialize())
}

// Sign signs a 32-byte digest, returning the hex-encoded schnorr signature
func (kp *KeyPair) Sign(digest []byte) (string, error) {
	sig, err := schnorr.Sign(kp.priv, digest)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifySignature verifies a hex schnorr signature over a 32-byte digest
func VerifySignature(pubHex, sigHex string, digest []byte) bool {
	pub, err := parsePublicKey(pubHex)
	if err != nil {
		return false
	}
	rawSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(rawSig)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}

// SaveKeyToFile saves a hex-encoded secret key to file
func SaveKeyToFile(filename string, kp *KeyPair) error {
	return os.WriteFile(filename, []byte(kp.ExportSecretKey()+"\n"), 0600)
}

// ValidatePublicKey checks that a string is a well-formed x-only public key
func ValidatePublicKey(pubHex string) error {
	if _, err := parsePublicKey(pubHex); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// parsePublicKey lifts an x-only hex key to a full curve point
func parsePublicKey(pubHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return pub, nil
}
