// Package errors provides typed error values for liftsocial.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching.
//
// # Error Categories
//
//   - Crypto errors: ErrDecryptionFailure, ErrSignatureInvalid, ErrMalformedChunkStream
//   - Feed errors: ErrEventExpired, ErrEventTooLarge, ErrMalformedEvent
//   - Inbox errors: ErrEnvelopeTooLarge, ErrMalformedMessage
//   - Follow errors: ErrSecretRevoked, ErrSecretExhausted
//   - Access errors: ErrUnauthorized, ErrInvalidRole
//   - Club errors: ErrClubNotFound, ErrMemberNotFound, ErrAlreadyMember
//   - Store errors: ErrNotFound, ErrAlreadyExists
//
// ErrKeyNotDelivered and ErrKeyNotFound wrap ErrDecryptionFailure: a member
// whose club key is still in flight sees the same class of error as a reader
// holding the wrong key.
//
// # Usage
//
// Wrap errors with additional context:
//
//	return fmt.Errorf("opening club key for %s: %w", clubID, errors.ErrKeyNotDelivered)
//
// Handle them in the CLI layer:
//
//	if errors.Is(err, kerrors.ErrDecryptionFailure) {
//	    // "cannot decrypt yet"
//	}
package errors
