package secrets

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
)

const (
	// DefaultRSABits is the modulus size used for new identities.
	DefaultRSABits = 2048

	// MinRSABits is the smallest modulus accepted for new identities.
	MinRSABits = 2048

	hashSize = sha256.Size
)

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// GenerateRSAKey creates a new RSA private key of the given size.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	if bits < MinRSABits {
		return nil, fmt.Errorf("RSA key size %d is below the minimum of %d bits", bits, MinRSABits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return key, nil
}

// MaxBlockSize returns the largest plaintext a single RSA-OAEP(SHA-256)
// operation accepts for the given key: k - 2*hLen - 2.
func MaxBlockSize(publicKey *rsa.PublicKey) int {
	return publicKey.Size() - 2*hashSize - 2
}

// EncryptOAEP encrypts a single block with RSA-OAEP(SHA-256). Payloads larger
// than MaxBlockSize must go through EncodeChunks.
func EncryptOAEP(data []byte, publicKey *rsa.PublicKey) ([]byte, error) {
	if len(data) > MaxBlockSize(publicKey) {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", kerrors.ErrPayloadTooLarge, len(data), MaxBlockSize(publicKey))
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, data, nil)
}

// DecryptOAEP decrypts a single RSA-OAEP(SHA-256) block.
func DecryptOAEP(ciphertext []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, ciphertext, nil)
}

// SignPSS signs data with RSA-PSS over SHA-256. The signature length equals
// the modulus size of the key.
func SignPSS(data []byte, privateKey *rsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(data)
	return rsa.SignPSS(rand.Reader, privateKey, crypto.SHA256, digest[:], pssOptions)
}

// VerifyPSS reports whether signature is a valid RSA-PSS signature of data.
func VerifyPSS(data, signature []byte, publicKey *rsa.PublicKey) bool {
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(publicKey, crypto.SHA256, digest[:], signature, pssOptions) == nil
}
