package identity

// Principal is an unlocked identity together with the keyring of keys it
// has received. Services that both use the private key and cache received
// keys take a Principal.
type Principal struct {
	*Identity
	Keyring *Keyring
}

// NewPrincipal pairs id with kr. A nil keyring is replaced by an empty one.
func NewPrincipal(id *Identity, kr *Keyring) Principal {
	if kr == nil {
		kr = NewKeyring()
	}
	return Principal{Identity: id, Keyring: kr}
}
