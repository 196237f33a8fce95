// Package secrets provides the cryptographic primitives used by liftsocial.
//
// Every other package goes through this one for encryption, decryption,
// signing and key encoding.
//
// # Primitives
//
//   - AES-256-CBC with PKCS#7 padding and a fresh random 16-byte IV per call
//   - RSA-OAEP with SHA-256 for wrapping keys to a single recipient
//   - RSA-PSS with SHA-256 for signing feed events
//
// # Chunked RSA
//
// A single RSA-OAEP operation accepts at most k - 2*32 - 2 bytes (190 bytes
// for a 2048-bit key). Payloads that may exceed that, such as inbox messages
// carrying a key plus metadata, go through EncodeChunks:
//
//	[4-byte big-endian length][RSA block][4-byte length][RSA block]...
//
// Each block is encrypted independently and in order. A truncated or
// corrupt stream is rejected as a whole with ErrMalformedChunkStream. An
// empty payload encodes to an empty stream.
//
// # Key Encoding
//
// Private keys are stored as PKCS#1 PEM ("RSA PRIVATE KEY") and public keys
// as PKIX PEM ("PUBLIC KEY"). ParsePrivateKey also accepts PKCS#8 and
// OpenSSH private keys so an existing ssh-keygen RSA key can be imported.
//
// # Security Considerations
//
// Symmetric keys are 32 bytes. RSA keys are 2048 bits by default and never
// smaller. Callers should Zero key buffers once they are no longer needed.
package secrets
