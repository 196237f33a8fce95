// Package workflows implements each liftsocial command as a function over a
// Session: open the store, unlock the identity, call the domain services,
// persist the keyring on Close.
//
// cmd/ parses flags, calls one workflow and prints its Result. Errors come
// back as internal/errors sentinels so the CLI can choose a message with
// errors.Is.
//
//	s, err := workflows.Open(ctx, cfg, passphrase)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	result, err := workflows.SyncInbox(ctx, s, workflows.SyncOptions{})
//
// CreateIdentity, Log and Prune need no unlocked identity and take the
// config directly.
package workflows
