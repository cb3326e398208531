package jwt

import "github.com/golang-jwt/jwt"

// Payload is the session token issued by the web application's login flow.
// The socket server only verifies it; it never issues tokens to clients.
type Payload struct {
	jwt.StandardClaims

	// ID is the application user id the holder may announce on a socket.
	ID string `json:"id"`

	// Name is the display name used to label presence and chat.
	Name string `json:"name,omitempty"`
}

// Valid checks the standard claims and that a subject is present.
func (p *Payload) Valid() error {
	if err := p.StandardClaims.Valid(); err != nil {
		return err
	}
	if p.ID == "" {
		return errMissingSubject
	}
	return nil
}
