// Package protocol implements the JSON inventory/contact client
// against a GLPI server and the legacy OCS XML fallback (spec §4.H):
// compression negotiation, OAuth2/basic authentication on 401, the
// `pending` long-poll retry loop with request-id correlation, and the
// message types both sides exchange.
package protocol

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"github.com/cuemby/fleetagent/pkg/inventory"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Sentinel errors for the §7 transport/protocol taxonomy.
var (
	// ErrNoCredentials is returned on a 401 when neither OAuth nor
	// basic credentials are configured.
	ErrNoCredentials = errors.New("protocol: authentication required, no credentials available")

	// ErrProxyAuth is returned on HTTP 407.
	ErrProxyAuth = errors.New("protocol: proxy authentication failed")

	// ErrPendingBudget is returned when the server still answers
	// `pending` after the retry budget is exhausted.
	ErrPendingBudget = errors.New("protocol: server still pending after retry budget")
)

// Action names a request kind (spec §4.H "Message types carried").
type Action string

const (
	ActionContact      Action = "contact"
	ActionProlog       Action = "prolog"
	ActionInventory    Action = "inventory"
	ActionSetStatus    Action = "setStatus"
	ActionSetUserEvent Action = "setUserEvent"
	ActionGetJobs      Action = "getJobs"
	ActionGetFile      Action = "getFile"
	ActionJobsDone     Action = "jobsDone"
)

// ContactRequest is the JSON handshake the agent opens every server
// conversation with.
type ContactRequest struct {
	DeviceID          string            `json:"deviceid"`
	Action            Action            `json:"action"`
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	InstalledTasks    []string          `json:"installed-tasks,omitempty"`
	EnabledTasks      []string          `json:"enabled-tasks,omitempty"`
	HTTPDPort         int               `json:"httpd-port,omitempty"`
	HTTPDPlugins      []string          `json:"httpd-plugins,omitempty"`
	Tag               string            `json:"tag,omitempty"`
}

// ContactTask is one per-task entry in a contact response's tasks
// map. Params, when present, describes per-run probe parameters the
// inventory task materializes (spec §6).
type ContactTask struct {
	Version string           `json:"version"`
	Server  string           `json:"server,omitempty"`
	Params  []map[string]any `json:"params,omitempty"`
}

// Response is the server's parsed answer to any JSON request.
type Response struct {
	Status     string                 `json:"status"`
	Expiration int                    `json:"expiration,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Tasks      map[string]ContactTask `json:"tasks,omitempty"`
}

// Pending reports whether the server asked the agent to poll again.
func (r *Response) Pending() bool { return r.Status == "pending" }

// OK reports success.
func (r *Response) OK() bool { return r.Status == "ok" }

// statusKnown rejects anything outside the protocol's status
// vocabulary (spec §4.H step 4).
func (r *Response) statusKnown() bool {
	switch r.Status {
	case "ok", "error", "pending":
		return true
	}
	return false
}

// InventoryMessage wraps an inventory envelope for submission; the
// envelope already carries deviceid/action/content (spec §6).
type InventoryMessage = inventory.Envelope

// StatusMessage reports task progress to the deployment subsystem.
type StatusMessage struct {
	DeviceID string `json:"deviceid"`
	Action   Action `json:"action"`
	Task     string `json:"task"`
	Status   string `json:"status"`
	JobID    string `json:"job,omitempty"`
	Message  string `json:"message,omitempty"`
}

// GetJobsMessage asks the server for scheduled jobs for one task.
type GetJobsMessage struct {
	DeviceID string `json:"deviceid"`
	Action   Action `json:"action"`
	Task     string `json:"task"`
}

// JobsDoneMessage acknowledges completed jobs.
type JobsDoneMessage struct {
	DeviceID string   `json:"deviceid"`
	Action   Action   `json:"action"`
	Jobs     []string `json:"jobs"`
}

// UserEventMessage forwards a user-triggered event to the server.
type UserEventMessage struct {
	DeviceID string `json:"deviceid"`
	Action   Action `json:"action"`
	Event    string `json:"event"`
	Task     string `json:"task,omitempty"`
}
