package models

import "fmt"

// Identity is the owner of a cart or order: an authenticated account or an
// anonymous guest session. Exactly one of the two fields is set.
type Identity struct {
	UserID       int64
	SessionToken string
}

// AccountIdentity builds the identity of an authenticated account.
func AccountIdentity(userID int64) Identity {
	return Identity{UserID: userID}
}

// GuestIdentity builds the identity of a guest session.
func GuestIdentity(token string) Identity {
	return Identity{SessionToken: token}
}

// IsGuest reports whether the identity is a guest session.
func (i Identity) IsGuest() bool {
	return i.SessionToken != ""
}

func (i Identity) String() string {
	if i.IsGuest() {
		return "session:" + i.SessionToken
	}
	return fmt.Sprintf("user:%d", i.UserID)
}
