package feed

import (
	"crypto/rsa"
	"fmt"
	"time"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/secrets"
)

// DefaultMaxEventBytes caps the stored ciphertext of one event.
const DefaultMaxEventBytes = 5120

// Signer signs event payloads with the author's private key.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Codec turns events into (ciphertext, iv) pairs and back.
//
// The plaintext under AES is signature || payload, where the signature is
// RSA-PSS over the tagged payload and its length is the author's modulus
// size.
type Codec struct {
	maxEventBytes int
}

// NewCodec returns a Codec. maxEventBytes <= 0 means DefaultMaxEventBytes.
func NewCodec(maxEventBytes int) *Codec {
	if maxEventBytes <= 0 {
		maxEventBytes = DefaultMaxEventBytes
	}
	return &Codec{maxEventBytes: maxEventBytes}
}

// MaxEventBytes returns the ciphertext cap.
func (c *Codec) MaxEventBytes() int { return c.maxEventBytes }

// Encode serializes, signs and encrypts ev under key with a fresh IV.
func (c *Codec) Encode(ev Event, signer Signer, key []byte) (ciphertext, iv []byte, err error) {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return nil, nil, err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign event: %w", err)
	}

	signed := make([]byte, 0, len(sig)+len(payload))
	signed = append(signed, sig...)
	signed = append(signed, payload...)

	ciphertext, iv, err = secrets.EncryptAESCBC(signed, key)
	if err != nil {
		return nil, nil, err
	}
	if len(ciphertext) > c.maxEventBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes exceeds %d", kerrors.ErrEventTooLarge, len(ciphertext), c.maxEventBytes)
	}
	return ciphertext, iv, nil
}

// Decode reverses Encode. Expired items are rejected before decryption; a
// zero expiresAt never expires. The signature is checked against author
// before the payload is parsed.
func (c *Codec) Decode(ciphertext, iv, key []byte, author *rsa.PublicKey, expiresAt, now time.Time) (Event, error) {
	if !expiresAt.IsZero() && !now.Before(expiresAt) {
		return nil, kerrors.ErrEventExpired
	}

	signed, err := secrets.DecryptAESCBC(ciphertext, iv, key)
	if err != nil {
		return nil, err
	}
	defer secrets.Zero(signed)

	sigLen := author.Size()
	if len(signed) <= sigLen {
		return nil, fmt.Errorf("%w: plaintext shorter than signature", kerrors.ErrSignatureInvalid)
	}
	sig, payload := signed[:sigLen], signed[sigLen:]
	if !secrets.VerifyPSS(payload, sig, author) {
		return nil, kerrors.ErrSignatureInvalid
	}
	return DecodeEvent(payload)
}
