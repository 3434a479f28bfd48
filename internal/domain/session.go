package domain

// Session is the authenticated identity plus its bearer token.
// A Session is either complete or treated as absent.
type Session struct {
	Identity Identity `json:"user"`
	Token    string   `json:"token"`
}

// Complete reports whether both halves of the session are present.
func (s *Session) Complete() bool {
	return s != nil && len(s.Identity) > 0 && s.Token != ""
}

// Snapshot returns an independent copy of the session.
func (s *Session) Snapshot() *Session {
	if s == nil {
		return nil
	}
	return &Session{Identity: s.Identity.Clone(), Token: s.Token}
}
