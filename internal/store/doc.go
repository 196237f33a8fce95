// Package store defines the storage collaborators the social core talks to
// and the records they exchange.
//
// Every record carries only opaque bytes, ids, roles and timestamps. Engines
// never see plaintext or key material.
//
// Engines:
//   - memory: in-process maps with an optional msgpack snapshot file
//   - postgres: pgx connection pool with embedded migrations
//   - redis: inbox queues only, combined with another engine via Split
package store
