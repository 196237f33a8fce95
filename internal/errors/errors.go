package errors

import "errors"

// Cryptographic errors indicate failures while encrypting, decrypting or verifying data.
var (
	// ErrDecryptionFailure indicates AES decryption failed: wrong, missing or corrupt key or ciphertext.
	// Recoverable by re-requesting key delivery; never retried automatically.
	ErrDecryptionFailure = errors.New("decryption failed")

	// ErrSignatureInvalid indicates an event signature did not verify against the claimed author.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrMalformedChunkStream indicates a multi-block RSA payload is truncated or corrupt.
	ErrMalformedChunkStream = errors.New("malformed chunk stream")

	// ErrPayloadTooLarge indicates a single RSA-OAEP operation was given more than one block.
	ErrPayloadTooLarge = errors.New("payload exceeds RSA-OAEP block limit")

	// ErrInvalidKeyLength indicates a symmetric key or IV has an unexpected length.
	ErrInvalidKeyLength = errors.New("invalid symmetric key length")

	// ErrInvalidPrivateKey indicates the private key is malformed or unsupported.
	ErrInvalidPrivateKey = errors.New("invalid or unsupported private key format")

	// ErrInvalidPublicKey indicates the public key is malformed or unsupported.
	ErrInvalidPublicKey = errors.New("invalid or unsupported public key format")

	// ErrKeyDecryptFailed indicates a sealed identity could not be opened, usually a wrong passphrase.
	ErrKeyDecryptFailed = errors.New("failed to open sealed identity")

	// ErrKeyNotDelivered indicates a club key has not been delivered to this member yet.
	// It wraps ErrDecryptionFailure so readers see the same error class.
	ErrKeyNotDelivered = wrap(ErrDecryptionFailure, "club key not delivered yet")

	// ErrKeyNotFound indicates no key for the requested feed is held locally.
	ErrKeyNotFound = wrap(ErrDecryptionFailure, "feed key not found")
)

// Feed errors indicate a feed item was discarded.
var (
	// ErrEventExpired indicates the item is past its expiry and was not decrypted.
	ErrEventExpired = errors.New("event expired")

	// ErrEventTooLarge indicates the encrypted event exceeds the per-item cap.
	ErrEventTooLarge = errors.New("event too large")

	// ErrMalformedEvent indicates a verified payload could not be decoded into a known event.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrTooManyFeeds indicates a read requested more followed users than allowed.
	ErrTooManyFeeds = errors.New("too many followed users in one request")

	// ErrSharedItemNotFound indicates no live shared item exists for a link.
	// Expired items are reported the same way.
	ErrSharedItemNotFound = errors.New("shared item not found")

	// ErrInvalidShareLink indicates a share link could not be parsed.
	ErrInvalidShareLink = errors.New("invalid share link")
)

// Inbox errors indicate problems addressing or opening envelopes.
var (
	// ErrEnvelopeTooLarge indicates an envelope exceeds the per-envelope size policy.
	ErrEnvelopeTooLarge = errors.New("envelope too large")

	// ErrMalformedMessage indicates a decrypted envelope did not hold a known message.
	ErrMalformedMessage = errors.New("malformed inbox message")
)

// Follow errors indicate issues redeeming follow secrets.
var (
	// ErrSecretRevoked indicates the follow secret was revoked.
	ErrSecretRevoked = errors.New("follow secret revoked")

	// ErrSecretExhausted indicates a single-redeemer follow secret was already redeemed.
	ErrSecretExhausted = errors.New("follow secret already redeemed")

	// ErrFollowSecretNotFound indicates the token does not exist.
	ErrFollowSecretNotFound = errors.New("follow secret not found")

	// ErrNotSecretOwner indicates a caller tried to manage another user's follow secret.
	ErrNotSecretOwner = errors.New("follow secret belongs to another user")
)

// Access errors indicate the actor lacks permission.
var (
	// ErrUnauthorized indicates the access control policy rejected the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidRole indicates a role value is unknown or not assignable.
	ErrInvalidRole = errors.New("invalid role")
)

// Club errors indicate club state issues.
var (
	// ErrClubNotFound indicates the club does not exist.
	ErrClubNotFound = errors.New("club not found")

	// ErrMemberNotFound indicates the user is not a member of the club.
	ErrMemberNotFound = errors.New("club membership not found")

	// ErrAlreadyMember indicates the user is already a member of the club.
	ErrAlreadyMember = errors.New("user is already a member of this club")

	// ErrClubFull indicates the club reached its maximum member count.
	ErrClubFull = errors.New("club has reached maximum member limit")

	// ErrClubNotPublic indicates a public join was attempted on a private club.
	ErrClubNotPublic = errors.New("club is private, an invite is required")

	// ErrOwnerCannotLeave indicates the owner tried to leave their own club.
	ErrOwnerCannotLeave = errors.New("owner cannot leave the club")

	// ErrInviteNotFound indicates no pending invite exists for the club.
	ErrInviteNotFound = errors.New("club invite not found")
)

// User errors indicate issues with principals.
var (
	// ErrUserNotFound indicates the user has no registered public key.
	ErrUserNotFound = errors.New("user not found")

	// ErrIdentityExists indicates an identity file already exists.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrIdentityNotFound indicates no identity has been created on this device.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrEmptyPassphrase indicates an identity would be sealed without a passphrase.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
)

// Log errors indicate problems reading the audit log.
var (
	// ErrInvalidDateFormat indicates a --since or --until value could not be parsed.
	ErrInvalidDateFormat = errors.New("invalid date format")

	// ErrAuditDisabled indicates no audit log path is configured.
	ErrAuditDisabled = errors.New("audit log is disabled")
)

// Store errors are returned by storage collaborators.
var (
	// ErrNotFound indicates a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates a record with the same key exists.
	ErrAlreadyExists = errors.New("record already exists")
)

type wrapped struct {
	base error
	msg  string
}

func (w *wrapped) Error() string { return w.msg + ": " + w.base.Error() }
func (w *wrapped) Unwrap() error { return w.base }

func wrap(base error, msg string) error {
	return &wrapped{base: base, msg: msg}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
