// Package id produces prefixed identifiers for sessions, messages, parts,
// tool calls and learning records. Prefixes keep log lines and persisted
// files self-describing.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func newIdentifier(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, raw)
}

// NewSessionID generates a new session identifier.
func NewSessionID() string { return newIdentifier("session") }

// NewMessageID generates a new message identifier.
func NewMessageID() string { return newIdentifier("msg") }

// NewPartID generates a new part identifier.
func NewPartID() string { return newIdentifier("part") }

// NewCallID generates a new tool call correlation identifier.
func NewCallID() string { return newIdentifier("call") }

// NewRecordID generates a new learning record identifier.
func NewRecordID() string { return newIdentifier("record") }

// NewTaskID generates a new background task identifier.
func NewTaskID() string { return newIdentifier("task") }
