// Package policy is the club access control policy: a strict role lattice
// and a capability table mapping operations to minimum roles.
//
// Callers read the actor's membership from the store immediately before
// calling Check, so a role change or removal takes effect on the very next
// operation.
package policy
