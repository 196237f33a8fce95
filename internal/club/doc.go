// Package club distributes club keys and runs membership changes.
//
// Every club has a symmetric key that encrypts its metadata and feed. The
// server only ever sees that key wrapped to individual member public keys.
// Invites carry the wrapped key in the inbox; public joiners wait in the
// PendingKey state until an admin delivers the key. Removing a member
// rotates the key so their cached copy cannot read anything published
// afterwards.
//
// All access decisions go through the policy package with the actor's role
// re-read from the store.
package club
