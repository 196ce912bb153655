package chat

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/nacl/box"
)

// KeyPair is the asymmetric key material minted at session creation.
//
// The public key is stored on the session and distributed in the roster; the
// private key stays on the owning connection and is never persisted. Nothing
// in the message path consumes these keys today: they are scaffolding for
// client-side encryption, not a confidentiality guarantee.
type KeyPair struct {
	Public  string
	private *[32]byte
}

// NewKeyPair generates an X25519 key pair.
func NewKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{
		Public:  hex.EncodeToString(pub[:]),
		private: priv,
	}, nil
}

// HasPrivate reports whether this pair still carries its private half.
// Resumed sessions expose only the stored public key.
func (k KeyPair) HasPrivate() bool { return k.private != nil }
