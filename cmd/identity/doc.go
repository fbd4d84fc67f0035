// Package identity holds the identifier primitives shared by every protoimsg subsystem:
// DIDs, handles and AT-URIs as they appear in records, session claims and client messages.
//
// Identities are never created here. Their existence is asserted by the external
// protocol; this package only canonicalizes and checks their shape.
package identity
