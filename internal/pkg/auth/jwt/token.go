package jwt

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
)

const (
	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "LexSignal"

	// TokenQueryParam and TokenCookie name the non-header places a browser may put the token.
	// Browsers cannot set headers on a WebSocket handshake.
	TokenQueryParam = "token"
	TokenCookie     = "token"
)

var errMissingSubject = errors.New("token has no user id")

// ParseToken parses and validates tokenString using secretKey.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	return claims, nil
}

// TokenFromRequest returns the raw token from the Authorization header, the token query
// parameter or the token cookie, in that order. It returns "" when none is present.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
	}

	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}

	return ""
}
