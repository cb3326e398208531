/*
Package user contains the identity a connection announces or is bound to.
*/
package user

// User is the identity attached to one connection. It is all the signaling core knows
// about a user: the application user id and a display name for labeling.
type User struct {
	// ID is the application user id (never empty once announced).
	ID string `json:"id"`

	// Name is the display name, empty when the connection announced an id without a session.
	Name string `json:"name,omitempty"`

	// Verified is true when ID came from a validated session token.
	Verified bool `json:"-"`
}

// IsZero reports whether no identity has been announced yet.
func (u User) IsZero() bool {
	return u.ID == ""
}

// Label returns the display name, falling back to the id.
func (u User) Label() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
