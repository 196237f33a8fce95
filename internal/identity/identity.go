package identity

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/secrets"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// ErrDestroyed is returned when a destroyed identity is used.
var ErrDestroyed = errors.New("identity has been destroyed")

const authSecretSize = 32

// Identity is a principal's key material. The RSA private key and the
// personal AES key are held in memguard enclaves and are only exposed to
// callbacks for the duration of the call.
type Identity struct {
	mu          sync.RWMutex
	id          string
	publicKey   *rsa.PublicKey
	privateKey  *memguard.Enclave // PKCS#1 DER
	personalKey *memguard.Enclave
	authSecret  string
}

// New generates a fresh identity: RSA keypair, personal AES key and
// server-auth secret.
func New(rsaBits int) (*Identity, error) {
	privateKey, err := secrets.GenerateRSAKey(rsaBits)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(privateKey)
}

// FromPrivateKey builds a new identity around an existing RSA key. A new
// id, personal key and auth secret are generated.
func FromPrivateKey(privateKey *rsa.PrivateKey) (*Identity, error) {
	if privateKey.N.BitLen() < secrets.MinRSABits {
		return nil, fmt.Errorf("%w: RSA key is %d bits, minimum is %d", kerrors.ErrInvalidPrivateKey, privateKey.N.BitLen(), secrets.MinRSABits)
	}

	personalKey, err := secrets.GenerateAESKey()
	if err != nil {
		return nil, err
	}

	authSecret := make([]byte, authSecretSize)
	if _, err := io.ReadFull(rand.Reader, authSecret); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}

	return restore(uuid.NewString(), x509.MarshalPKCS1PrivateKey(privateKey), personalKey, base64.RawURLEncoding.EncodeToString(authSecret))
}

// ImportOpenSSH builds a new identity around an RSA key in OpenSSH, PKCS#1
// or PKCS#8 PEM form.
func ImportOpenSSH(pemData, passphrase []byte) (*Identity, error) {
	privateKey, err := secrets.ParsePrivateKey(pemData, passphrase)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(privateKey)
}

// restore moves privateDER and personalKey into enclaves; both source
// buffers are wiped.
func restore(id string, privateDER, personalKey []byte, authSecret string) (*Identity, error) {
	privateKey, err := x509.ParsePKCS1PrivateKey(privateDER)
	if err != nil {
		secrets.Zero(privateDER)
		secrets.Zero(personalKey)
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	if len(personalKey) != secrets.AESKeySize {
		secrets.Zero(privateDER)
		secrets.Zero(personalKey)
		return nil, fmt.Errorf("%w: personal key is %d bytes", kerrors.ErrInvalidKeyLength, len(personalKey))
	}

	return &Identity{
		id:          id,
		publicKey:   &privateKey.PublicKey,
		privateKey:  memguard.NewEnclave(privateDER),
		personalKey: memguard.NewEnclave(personalKey),
		authSecret:  authSecret,
	}, nil
}

// ID returns the principal's opaque identifier.
func (i *Identity) ID() string { return i.id }

// PublicKey returns the principal's RSA public key.
func (i *Identity) PublicKey() *rsa.PublicKey { return i.publicKey }

// PublicKeyPEM returns the public key as PKIX PEM, the form published to
// the directory.
func (i *Identity) PublicKeyPEM() ([]byte, error) {
	return secrets.EncodePublicKeyPEM(i.publicKey)
}

// AuthSecret returns the server-auth secret.
func (i *Identity) AuthSecret() string { return i.authSecret }

// WithPrivateKey opens the private key for the duration of fn.
func (i *Identity) WithPrivateKey(fn func(*rsa.PrivateKey) error) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.privateKey == nil {
		return ErrDestroyed
	}
	buf, err := i.privateKey.Open()
	if err != nil {
		return fmt.Errorf("failed to open private key enclave: %w", err)
	}
	defer buf.Destroy()

	key, err := x509.ParsePKCS1PrivateKey(buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}
	return fn(key)
}

// WithPersonalKey opens the personal AES key for the duration of fn. fn
// must not retain the slice.
func (i *Identity) WithPersonalKey(fn func(key []byte) error) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.personalKey == nil {
		return ErrDestroyed
	}
	buf, err := i.personalKey.Open()
	if err != nil {
		return fmt.Errorf("failed to open personal key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Sign signs data with RSA-PSS under the private key.
func (i *Identity) Sign(data []byte) ([]byte, error) {
	var sig []byte
	err := i.WithPrivateKey(func(key *rsa.PrivateKey) error {
		var err error
		sig, err = secrets.SignPSS(data, key)
		return err
	})
	return sig, err
}

// OpenBlocks decrypts independent RSA-OAEP blocks addressed to this identity.
func (i *Identity) OpenBlocks(blocks [][]byte) ([]byte, error) {
	var out []byte
	err := i.WithPrivateKey(func(key *rsa.PrivateKey) error {
		var err error
		out, err = secrets.DecryptBlocks(blocks, key)
		return err
	})
	return out, err
}

// OpenChunks decrypts a framed chunk stream addressed to this identity.
func (i *Identity) OpenChunks(stream []byte) ([]byte, error) {
	var out []byte
	err := i.WithPrivateKey(func(key *rsa.PrivateKey) error {
		var err error
		out, err = secrets.DecodeChunks(stream, key)
		return err
	})
	return out, err
}

// WrapPersonalKey encrypts the personal AES key to a recipient's public key.
func (i *Identity) WrapPersonalKey(recipient *rsa.PublicKey) ([]byte, error) {
	var wrapped []byte
	err := i.WithPersonalKey(func(key []byte) error {
		var err error
		wrapped, err = WrapKey(key, recipient)
		return err
	})
	return wrapped, err
}

// UnwrapKey decrypts a symmetric key wrapped to this identity. A blob that
// does not open is ErrDecryptionFailure.
func (i *Identity) UnwrapKey(wrapped []byte) ([]byte, error) {
	var key []byte
	err := i.WithPrivateKey(func(priv *rsa.PrivateKey) error {
		pt, err := secrets.DecryptOAEP(wrapped, priv)
		if err != nil {
			return fmt.Errorf("%w: unwrapping key: %v", kerrors.ErrDecryptionFailure, err)
		}
		if len(pt) != secrets.AESKeySize {
			secrets.Zero(pt)
			return fmt.Errorf("%w: unwrapped key is %d bytes", kerrors.ErrDecryptionFailure, len(pt))
		}
		key = pt
		return nil
	})
	return key, err
}

// Destroy drops both enclaves. Any later scoped access returns ErrDestroyed.
func (i *Identity) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.privateKey = nil
	i.personalKey = nil
}

// WrapKey encrypts a symmetric key to a recipient with a single RSA-OAEP
// operation.
func WrapKey(key []byte, recipient *rsa.PublicKey) ([]byte, error) {
	if len(key) != secrets.AESKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", kerrors.ErrInvalidKeyLength, secrets.AESKeySize, len(key))
	}
	return secrets.EncryptOAEP(key, recipient)
}

// export copies the enclave contents out for sealing. The caller must wipe
// both returned slices.
func (i *Identity) export() (privateDER, personalKey []byte, err error) {
	err = i.WithPrivateKey(func(key *rsa.PrivateKey) error {
		privateDER = x509.MarshalPKCS1PrivateKey(key)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	err = i.WithPersonalKey(func(key []byte) error {
		personalKey = bytes.Clone(key)
		return nil
	})
	if err != nil {
		secrets.Zero(privateDER)
		return nil, nil, err
	}
	return privateDER, personalKey, nil
}
