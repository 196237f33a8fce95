// Package identity holds a principal's key material on the client.
//
// An Identity owns the RSA keypair, the personal AES key that encrypts the
// principal's own feed, and the server-auth secret. The private key and the
// personal key live in memguard enclaves and are only ever decrypted into a
// locked buffer for the duration of a WithPrivateKey or WithPersonalKey
// callback. Neither is placed in an outbound message; WrapPersonalKey hands
// out RSA-wrapped copies instead.
//
// A Keyring holds keys received from others: personal keys of followed
// users, club keys per version and pending club invites.
//
// # At Rest
//
// Seal and Open store the identity and keyring together in one file:
//
//	LSID | version | argon2id params | salt | nonce | secretbox(msgpack record)
//
// A wrong passphrase or a modified file is ErrKeyDecryptFailed.
package identity
