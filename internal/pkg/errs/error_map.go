/*
Package errs provides custom error types and application-level error code constants.

This file maps each error code to its client-facing message and HTTP status.
*/
package errs

import "net/http"

var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrInvalidJSONFormat: {Code: ErrInvalidJSONFormat, Message: "Unsupported message format."},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnknownEvent:      {Code: ErrUnknownEvent, Message: "Unsupported event: %s."},
	ErrNotIdentified:     {Code: ErrNotIdentified, Message: "Announce your user id before sending events."},

	// 3xxx
	ErrUnauthorized:     {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrIdentityMismatch: {Code: ErrIdentityMismatch, Message: "The announced user does not match your session."},

	// 5xxx
	ErrUnknown:         {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrServiceStopping: {Code: ErrServiceStopping, Message: "The service is restarting. Please reconnect shortly.", Status: http.StatusServiceUnavailable},
}
