// Package command implements the file-queue control plane of §4.8: a
// directory of incoming JSON command files, consumed one at a time by a
// serial worker that dedups by commandId, deletes the file on read, and
// optionally writes a response file back. Generalizes
// updater/updater.go's timer-driven reload loop from "reload on a timer"
// into "react to {Tick, FileCreated} messages".
package command

import "github.com/google/uuid"

// Type is one of the command file's supported "type" values.
type Type string

const (
	TypeSyncRules           Type = "syncRules"
	TypeUpdateRules         Type = "updateRules"
	TypeClearCache          Type = "clearCache"
	TypeReloadConfiguration Type = "reloadConfiguration"
	TypeGetStatus           Type = "getStatus"
)

// Command is the JSON shape of one file under the incoming directory.
type Command struct {
	CommandID string         `json:"commandId"`
	Type      Type           `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Response is the JSON shape written under the responses directory,
// named "<commandId>_response.json".
type Response struct {
	CommandID string         `json:"commandId"`
	Timestamp string         `json:"timestamp"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Status    map[string]any `json:"status,omitempty"`
}

// NewID mints an opaque commandId for commands the control plane itself
// originates (synthetic status probes, tests), rather than ones read from
// an incoming file.
func NewID() string {
	return uuid.NewString()
}
