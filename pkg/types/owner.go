package types

import "github.com/google/uuid"

// Owner identifies who a cart or order belongs to: a registered user or a
// guest checkout session. Exactly one of UserID/SessionID is set.
type Owner struct {
	UserID    *uuid.UUID
	SessionID string
}

// IsGuest reports whether the owner is a guest session.
func (o Owner) IsGuest() bool {
	return o.UserID == nil && o.SessionID != ""
}

// IsZero reports whether no identity is present.
func (o Owner) IsZero() bool {
	return o.UserID == nil && o.SessionID == ""
}
