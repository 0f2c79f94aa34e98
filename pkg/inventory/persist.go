package inventory

import "encoding/json"

// lastStateStore is the narrow persistence surface ComputeChecksum's
// caller uses; satisfied by *storage.Store (target's private
// sub-store, spec §4.E "Persisted per target (server) and per remote
// identity").
type lastStateStore interface {
	Restore(name string) []byte
	Save(name string, blob []byte) error
}

// LoadLastState restores a target's last-submitted checksum state
// from key, or returns an empty LastState if none exists yet (spec §3
// "Last-state blob").
func LoadLastState(store lastStateStore, key string) *LastState {
	blob := store.Restore(key)
	if blob == nil {
		return NewLastState()
	}
	state := NewLastState()
	if err := json.Unmarshal(blob, state); err != nil {
		return NewLastState()
	}
	return state
}

// SaveLastState persists state under key (spec §4.E "Persist the
// updated blob via Storage A").
func SaveLastState(store lastStateStore, key string, state *LastState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return store.Save(key, blob)
}

// ServerStateKey is the storage key for a server target's checksum
// state (spec §6 "last_state.json").
const ServerStateKey = "last_state"

// RemoteStateKey is the storage key for a remote-inventory identity's
// checksum state (spec §6 "last_remote_state-<id>.json").
func RemoteStateKey(remoteID string) string {
	return "last_remote_state-" + remoteID
}
