// Package feed encodes workout events and runs the encrypted user and club
// feeds.
//
// Publishing signs the tagged event with the author's RSA key, prefixes the
// signature and encrypts the result with the feed key: the author's
// personal key for their own feed, the current club key for a club feed.
// Storage only ever sees (ciphertext, iv) pairs. Reading reverses the
// pipeline on a bounded worker pool; a record that fails to decrypt or
// verify is reported on its own and never aborts the page.
package feed
