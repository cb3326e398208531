/*
Package errs provides custom error types and application-level error code constants.

The codes identify failures both in server logs and in the `error` events and HTTP
responses sent to clients.
*/
package errs

// 1xxx: Request and Event Handling Errors
const (
	// ErrInvalidParams indicates that a request or event payload failed validation.
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that an inbound frame was not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrRateLimitExceeded indicates that the request or event rate exceeded the limit.
	ErrRateLimitExceeded = 1007

	// ErrUnknownEvent indicates that the client sent an event kind the server does not handle.
	ErrUnknownEvent = 1008

	// ErrNotIdentified indicates that the connection sent an addressed event before announcing its user id.
	ErrNotIdentified = 1009
)

// 3xxx: Identity and Session Errors
const (
	// ErrUnauthorized indicates a missing or invalid session token.
	ErrUnauthorized = 3001

	// ErrIdentityMismatch indicates that the announced user id differs from the session token's subject.
	ErrIdentityMismatch = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrServiceStopping indicates the server is shutting down and no longer accepts connections.
	ErrServiceStopping = 5003
)
