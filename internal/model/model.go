// Package model defines the in-memory types passed between pipeline stages.
// None of them is persisted as-is.
package model

// Credential is either a username/password pair or an opaque token.
// Plaintext lives only for the duration of a sync run.
type Credential struct {
	Username string
	Password string
	Token    string
}

// IsToken reports whether the credential carries an opaque token.
func (c Credential) IsToken() bool {
	return c.Token != ""
}

// RawDraw is a single pull as reported by the remote service, tagged with the
// category it was fetched from.
type RawDraw struct {
	TimeMs   int64  // event time in milliseconds
	Category string // category ("pool") id the record was fetched under
	PoolName string
	CharName string
	Rarity   int // zero-based remote rarity
	IsNew    bool
	Pos      int // position within the event, used as the page cursor
}
