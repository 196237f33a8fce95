package secrets

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	kerrors "github.com/liftlog/liftsocial/internal/errors"

	"golang.org/x/crypto/ssh"
)

// ErrPassphraseRequired is returned when an OpenSSH private key is
// passphrase-protected and no passphrase was supplied.
var ErrPassphraseRequired = errors.New("private key is passphrase-protected")

const (
	pemTypePrivate = "RSA PRIVATE KEY"
	pemTypePKCS8   = "PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
	pemTypeOpenSSH = "OPENSSH PRIVATE KEY"
)

// EncodePrivateKeyPEM encodes an RSA private key as a PKCS#1 PEM block.
func EncodePrivateKeyPEM(privateKey *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePrivate,
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
}

// EncodePublicKeyPEM encodes an RSA public key as a PKIX PEM block.
func EncodePublicKeyPEM(publicKey *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: der}), nil
}

// ParsePrivateKey parses a PEM private key in PKCS#1, PKCS#8 or OpenSSH
// format. The passphrase is only consulted for OpenSSH keys.
func ParsePrivateKey(data, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", kerrors.ErrInvalidPrivateKey)
	}

	switch block.Type {
	case pemTypePrivate:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
		}
		return key, nil
	case pemTypePKCS8:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", kerrors.ErrInvalidPrivateKey)
		}
		return key, nil
	case pemTypeOpenSSH:
		return parseOpenSSHPrivateKey(data, passphrase)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", kerrors.ErrInvalidPrivateKey, block.Type)
	}
}

func parseOpenSSHPrivateKey(data, passphrase []byte) (*rsa.PrivateKey, error) {
	var (
		raw any
		err error
	)
	if len(passphrase) > 0 {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, passphrase)
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, ErrPassphraseRequired
		}
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPrivateKey, err)
	}

	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key type %T, only RSA is supported", kerrors.ErrInvalidPrivateKey, raw)
	}
	return key, nil
}

// ParsePublicKey parses a PKIX PEM public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePublic {
		return nil, fmt.Errorf("%w: failed to decode PEM block containing public key", kerrors.ErrInvalidPublicKey)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidPublicKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", kerrors.ErrInvalidPublicKey)
	}
	return rsaPub, nil
}

// LoadPublicKey loads an RSA public key from disk.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(data)
}

// SavePublicKey writes an RSA public key as PEM, creating parent directories.
func SavePublicKey(path string, publicKey *rsa.PublicKey) error {
	data, err := EncodePublicKeyPEM(publicKey)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory for public key at %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write public key to %s: %w", path, err)
	}
	return nil
}
