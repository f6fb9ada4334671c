package device

import "github.com/google/uuid"

// identityNamespace scopes entity IDs to this bridge.
var identityNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("petlibro-bridge"))

// IdentityFor returns the stable entity ID for a (kind, serial) pair.
// The result is deterministic; a different kind yields a different ID.
func IdentityFor(kind Kind, serial string) string {
	return uuid.NewSHA1(identityNamespace, []byte("petlibro-"+string(kind)+"-"+serial)).String()
}
