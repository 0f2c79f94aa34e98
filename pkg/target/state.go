package target

import (
	"encoding/json"
	"time"

	"github.com/cuemby/fleetagent/pkg/log"
)

// stateKey is the storage key holding a target's persisted scheduling
// state (spec §4.D "State load/save via Storage A keyed `target`").
const stateKey = "target"

// persistedState is what survives a restart: the schedule anchors and
// what the server taught us about itself. Events are deliberately not
// persisted; they are directives about a running process.
type persistedState struct {
	BaseRunDate  time.Time              `json:"baseRunDate"`
	NextRunDate  time.Time              `json:"nextRunDate"`
	MaxDelay     int64                  `json:"maxDelay"`
	IsGlpiServer bool                   `json:"isGlpiServer,omitempty"`
	TaskSupport  map[string]TaskSupport `json:"taskSupport,omitempty"`
}

func (t *Target) saveState() {
	t.mu.Lock()
	state := persistedState{
		BaseRunDate:  t.baseRunDate,
		NextRunDate:  t.nextRunDate,
		MaxDelay:     int64(t.maxDelay / time.Second),
		IsGlpiServer: t.isGlpiServer,
		TaskSupport:  t.taskSupport,
	}
	t.mu.Unlock()

	blob, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := t.store.Save(stateKey, blob); err != nil {
		log.WithTarget(t.spec.ID).Warn().Err(err).Msg("persist target state failed")
	}
}

func (t *Target) restoreState() {
	blob := t.store.Restore(stateKey)
	if blob == nil {
		return
	}
	var state persistedState
	if err := json.Unmarshal(blob, &state); err != nil {
		log.WithTarget(t.spec.ID).Debug().Err(err).Msg("corrupt target state ignored")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseRunDate = state.BaseRunDate
	t.nextRunDate = state.NextRunDate
	if state.MaxDelay > 0 {
		t.maxDelay = time.Duration(state.MaxDelay) * time.Second
	}
	t.isGlpiServer = state.IsGlpiServer
	if state.TaskSupport != nil {
		t.taskSupport = state.TaskSupport
	}
}
