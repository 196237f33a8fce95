package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/secrets"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Sealed file layout:
//
//	magic(4) | version(1) | time(4) | memory KiB(4) | threads(1) | salt(16) | nonce(24) | secretbox
var sealMagic = []byte("LSID")

const (
	sealVersion = 1
	saltSize    = 16
	nonceSize   = 24
	headerSize  = len("LSID") + 1 + 4 + 4 + 1 + saltSize + nonceSize
)

// KDFParams are the argon2id parameters used to derive the sealing key.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams follows the argon2id recommendation for interactive use.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

type sealedRecord struct {
	ID          string        `msgpack:"id"`
	PrivateKey  []byte        `msgpack:"private_key"`
	PersonalKey []byte        `msgpack:"personal_key"`
	AuthSecret  string        `msgpack:"auth_secret"`
	Keyring     keyringRecord `msgpack:"keyring"`
}

// Seal encrypts an identity and its keyring under a passphrase.
func Seal(id *Identity, kr *Keyring, passphrase []byte) ([]byte, error) {
	return SealWithParams(id, kr, passphrase, DefaultKDFParams)
}

// SealWithParams is Seal with explicit KDF parameters.
func SealWithParams(id *Identity, kr *Keyring, passphrase []byte, params KDFParams) ([]byte, error) {
	if kr == nil {
		kr = NewKeyring()
	}

	privateDER, personalKey, err := id.export()
	if err != nil {
		return nil, err
	}
	defer secrets.Zero(privateDER)
	defer secrets.Zero(personalKey)

	krRec, err := kr.record()
	if err != nil {
		return nil, err
	}
	defer krRec.wipe()

	plaintext, err := msgpack.Marshal(&sealedRecord{
		ID:          id.ID(),
		PrivateKey:  privateDER,
		PersonalKey: personalKey,
		AuthSecret:  id.AuthSecret(),
		Keyring:     krRec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}
	defer secrets.Zero(plaintext)

	header := make([]byte, 0, headerSize)
	header = append(header, sealMagic...)
	header = append(header, sealVersion)
	header = binary.BigEndian.AppendUint32(header, params.Time)
	header = binary.BigEndian.AppendUint32(header, params.Memory)
	header = append(header, params.Threads)

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	header = append(header, salt...)
	header = append(header, nonce[:]...)

	key := deriveKey(passphrase, salt, params)
	defer secrets.Zero(key[:])

	return secretbox.Seal(header, plaintext, &nonce, key), nil
}

// Open decrypts a sealed identity. A wrong passphrase or tampered file is
// ErrKeyDecryptFailed.
func Open(sealed, passphrase []byte) (*Identity, *Keyring, error) {
	if len(sealed) < headerSize+secretbox.Overhead || !bytes.Equal(sealed[:len(sealMagic)], sealMagic) {
		return nil, nil, fmt.Errorf("%w: not a sealed identity", kerrors.ErrKeyDecryptFailed)
	}
	offset := len(sealMagic)
	if sealed[offset] != sealVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", kerrors.ErrKeyDecryptFailed, sealed[offset])
	}
	offset++

	params := KDFParams{
		Time:    binary.BigEndian.Uint32(sealed[offset:]),
		Memory:  binary.BigEndian.Uint32(sealed[offset+4:]),
		Threads: sealed[offset+8],
	}
	offset += 9
	salt := sealed[offset : offset+saltSize]
	offset += saltSize
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[offset:offset+nonceSize])
	offset += nonceSize

	key := deriveKey(passphrase, salt, params)
	defer secrets.Zero(key[:])

	plaintext, ok := secretbox.Open(nil, sealed[offset:], &nonce, key)
	if !ok {
		return nil, nil, fmt.Errorf("%w: wrong passphrase or corrupted file", kerrors.ErrKeyDecryptFailed)
	}
	defer secrets.Zero(plaintext)

	var rec sealedRecord
	if err := msgpack.Unmarshal(plaintext, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", kerrors.ErrKeyDecryptFailed, err)
	}
	defer rec.Keyring.wipe()

	id, err := restore(rec.ID, rec.PrivateKey, rec.PersonalKey, rec.AuthSecret)
	if err != nil {
		return nil, nil, err
	}
	kr, err := keyringFromRecord(rec.Keyring)
	if err != nil {
		id.Destroy()
		return nil, nil, err
	}
	return id, kr, nil
}

func deriveKey(passphrase, salt []byte, params KDFParams) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, 32))
	return &key
}

// SaveFile seals an identity to path, replacing any existing file
// atomically.
func SaveFile(path string, id *Identity, kr *Keyring, passphrase []byte) error {
	return SaveFileWithParams(path, id, kr, passphrase, DefaultKDFParams)
}

// SaveFileWithParams is SaveFile with explicit KDF parameters.
func SaveFileWithParams(path string, id *Identity, kr *Keyring, passphrase []byte, params KDFParams) error {
	sealed, err := SealWithParams(id, kr, passphrase, params)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create identity directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary identity file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(sealed); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close identity file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("failed to set identity file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move identity file into place: %w", err)
	}
	return nil
}

// LoadFile opens a sealed identity file.
func LoadFile(path string, passphrase []byte) (*Identity, *Keyring, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", kerrors.ErrIdentityNotFound, path)
		}
		return nil, nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	return Open(sealed, passphrase)
}

// Exists reports whether an identity file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
