package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fleetagent/pkg/storage"
)

// agentStateKey is the storage key the process-wide agent state lives
// under (spec §6 "GLPI-Agent.dump").
const agentStateKey = "GLPI-Agent"

// State is the agent's persisted identity (spec §3 "Agent state").
type State struct {
	DeviceID string `json:"deviceid"`
	AgentID  string `json:"agentid"`
	ForceRun bool   `json:"forcerun,omitempty"`
}

// loadState restores the agent state, filling in identity on first
// run: deviceid is derived from the hostname and first-run instant,
// agentid is a UUID created once and never mutated.
func loadState(store *storage.Store, assetnameSupport int) (*State, error) {
	state := &State{}
	if blob := store.Restore(agentStateKey); blob != nil {
		if err := json.Unmarshal(blob, state); err != nil {
			state = &State{}
		}
	}

	changed := false
	if state.DeviceID == "" {
		deviceID, err := computeDeviceID(time.Now(), assetnameSupport)
		if err != nil {
			return nil, err
		}
		state.DeviceID = deviceID
		changed = true
	}
	if state.AgentID == "" {
		state.AgentID = uuid.NewString()
		changed = true
	}

	if changed {
		if err := saveState(store, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func saveState(store *storage.Store, state *State) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return store.Save(agentStateKey, blob)
}

// consumeForceRun returns true once if a forcerun flag was persisted
// (e.g. by --set-forcerun on a previous invocation), clearing it
// (spec §3 "forcerun: boolean flag, consumed on startup").
func consumeForceRun(store *storage.Store, state *State) bool {
	if !state.ForceRun {
		return false
	}
	state.ForceRun = false
	if err := saveState(store, state); err == nil {
		return true
	}
	return true
}

// computeDeviceID derives the stable device identity
// hostname-YYYY-MM-DD-HH-MM-SS (spec §3). assetnameSupport selects
// the asset-name policy: 1 keeps the short hostname, 2 keeps the
// fully qualified name.
func computeDeviceID(now time.Time, assetnameSupport int) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("agent: hostname: %w", err)
	}
	if assetnameSupport != 2 {
		if idx := strings.IndexByte(hostname, '.'); idx > 0 {
			hostname = hostname[:idx]
		}
	}
	return fmt.Sprintf("%s-%s", hostname, now.Format("2006-01-02-15-04-05")), nil
}
