package workflows

import (
	"context"
	"fmt"
	"sort"

	"github.com/liftlog/liftsocial/internal/audit"
	"github.com/liftlog/liftsocial/internal/configs"
	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/identity"
	"github.com/liftlog/liftsocial/internal/secrets"

	log "github.com/sirupsen/logrus"
)

// CreateIdentityOptions configures the identity create workflow.
type CreateIdentityOptions struct {
	// Passphrase seals the identity file. It must not be empty.
	Passphrase []byte

	// ImportKey is an existing RSA private key (OpenSSH, PKCS#1 or PKCS#8
	// PEM) to use instead of generating one.
	ImportKey []byte

	// ImportKeyPassphrase unlocks a passphrase-protected imported key.
	ImportKeyPassphrase []byte

	// Force replaces an existing identity file.
	Force bool
}

// CreateIdentityResult contains the outcome of creating an identity.
type CreateIdentityResult struct {
	UserID       string
	IdentityPath string
	PublicKeyPEM []byte
	Imported     bool
	Replaced     bool
}

// CreateIdentity generates (or imports) a keypair, seals it under the
// passphrase and publishes the public key to the directory.
//
// Returns ErrIdentityExists if an identity file exists and Force is false.
// Returns ErrEmptyPassphrase if no passphrase was given.
// Returns ErrInvalidPrivateKey if an imported key is unusable.
func CreateIdentity(ctx context.Context, cfg *configs.Config, opts CreateIdentityOptions) (*CreateIdentityResult, error) {
	if len(opts.Passphrase) == 0 {
		return nil, kerrors.ErrEmptyPassphrase
	}

	path := cfg.Identity.Path
	replaced := identity.Exists(path)
	if replaced && !opts.Force {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrIdentityExists, path)
	}

	var (
		id  *identity.Identity
		err error
	)
	if len(opts.ImportKey) > 0 {
		id, err = identity.ImportOpenSSH(opts.ImportKey, opts.ImportKeyPassphrase)
	} else {
		id, err = identity.New(cfg.Identity.RSABits)
	}
	if err != nil {
		return nil, err
	}
	defer id.Destroy()

	publicKeyPEM, err := id.PublicKeyPEM()
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnf("closing storage: %v", err)
		}
	}()

	if err := backend.PutPublicKey(ctx, id.ID(), publicKeyPEM); err != nil {
		return nil, fmt.Errorf("publishing public key: %w", err)
	}
	if err := identity.SaveFileWithParams(path, id, identity.NewKeyring(), opts.Passphrase, cfg.KDFParams()); err != nil {
		return nil, fmt.Errorf("saving identity: %w", err)
	}

	reason := "generated"
	if len(opts.ImportKey) > 0 {
		reason = "imported"
	}
	audit.New(cfg.Audit.Path).Log(audit.Entry{UserID: id.ID(), Operation: audit.OpIdentityCreate, Reason: reason})

	return &CreateIdentityResult{
		UserID:       id.ID(),
		IdentityPath: path,
		PublicKeyPEM: publicKeyPEM,
		Imported:     len(opts.ImportKey) > 0,
		Replaced:     replaced,
	}, nil
}

// ClubKeyInfo is one club the identity holds a key for.
type ClubKeyInfo struct {
	ClubID     string
	Name       string
	Role       string
	KeyVersion int
	HeldKey    bool
}

// IdentityInfo summarises an unlocked identity and its keyring.
type IdentityInfo struct {
	UserID    string
	Following []string
	Clubs     []ClubKeyInfo
	Invites   []identity.PendingInvite
}

// ShowIdentity lists the keyring contents of the session identity.
func ShowIdentity(ctx context.Context, s *Session) (*IdentityInfo, error) {
	ctx = s.Context(ctx)
	kr := s.Principal.Keyring
	info := &IdentityInfo{
		UserID:    s.UserID(),
		Following: kr.Following(),
		Invites:   kr.Invites(),
	}

	clubs, err := s.Clubs.MyClubs(ctx, s.UserID())
	if err != nil {
		return nil, err
	}
	for _, c := range clubs {
		entry := ClubKeyInfo{ClubID: c.ID, KeyVersion: c.KeyVersion, HeldKey: kr.HasClubKey(c.ID, c.KeyVersion)}
		if m, err := s.Backend.Member(ctx, c.ID, s.UserID()); err == nil {
			entry.Role = m.Role.String()
		}
		if md, err := s.Clubs.DecryptMetadata(ctx, s.Principal, c); err == nil {
			entry.Name = md.Name
		}
		info.Clubs = append(info.Clubs, entry)
	}
	sort.Slice(info.Clubs, func(i, j int) bool { return info.Clubs[i].ClubID < info.Clubs[j].ClubID })
	return info, nil
}

// ExportPublicKey returns the PKIX PEM public key of the session identity.
func ExportPublicKey(s *Session) ([]byte, error) {
	return s.Principal.PublicKeyPEM()
}

// ExportPublicKeyFile writes the session identity's public key to path.
func ExportPublicKeyFile(s *Session, path string) error {
	return secrets.SavePublicKey(path, s.Principal.PublicKey())
}
