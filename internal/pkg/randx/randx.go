/*
Package randx generates identifiers for connections and telemetry records.
*/
package randx

import (
	"strings"

	"github.com/google/uuid"
)

const connectionIDPrefix = "conn_"

// ConnectionID returns a new opaque connection identifier.
func ConnectionID() string {
	return connectionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EventID returns a time-ordered UUID (v7) for telemetry records, falling back to v4.
func EventID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
