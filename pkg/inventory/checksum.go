package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// sectionDigest is one section's last-submitted fingerprint (spec
// §3 "Last-state blob": per-section SHA-256 digest and cumulative
// length).
type sectionDigest struct {
	Len    int    `json:"len"`
	Digest string `json:"digest"`
}

// LastState is the persisted per-target (or per-remote-identity)
// blob driving partial inventory (spec §3, §4.E).
type LastState struct {
	Sections      map[string]sectionDigest `json:"sections"`
	PostponeCount int                      `json:"postpone_count"`
}

// NewLastState returns an empty LastState, as seen on a target's
// first run.
func NewLastState() *LastState {
	return &LastState{Sections: make(map[string]sectionDigest)}
}

// canonicalize produces the deterministic byte serialization a
// section's checksum is computed over: JSON with sorted map keys via
// repeated marshaling of a canonicalized structure (Go's
// encoding/json already sorts map keys within a single object; a
// top-level slice sort on records handles list sections, whose
// probe-reported order is not itself meaningful to the checksum).
func canonicalize(v any) []byte {
	switch t := v.(type) {
	case Record:
		b, _ := json.Marshal(canonicalRecord(t))
		return b
	case []Record:
		canon := make([]map[string]any, len(t))
		for i, rec := range t {
			canon[i] = canonicalRecord(rec)
		}
		sort.Slice(canon, func(i, j int) bool {
			bi, _ := json.Marshal(canon[i])
			bj, _ := json.Marshal(canon[j])
			return string(bi) < string(bj)
		})
		b, _ := json.Marshal(canon)
		return b
	default:
		b, _ := json.Marshal(t)
		return b
	}
}

func canonicalRecord(rec Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// digestOf returns the section's length and hex SHA-256 digest over
// its canonical serialization (spec §4.E "compute sha256(canonical(section))").
func digestOf(v any) sectionDigest {
	b := canonicalize(v)
	sum := sha256.Sum256(b)
	return sectionDigest{Len: len(b), Digest: hex.EncodeToString(sum[:])}
}

// ChecksumResult is what ComputeChecksum decides for one submission.
type ChecksumResult struct {
	Dropped       map[string]bool // sections stripped as unchanged
	Full          bool            // true if this run must be a full inventory
	PostponeCount int
}

// PostponeConfig configures ComputeChecksum (spec §4.E "computeChecksum(postponeConfig)").
type PostponeConfig struct {
	MaxPostpone      int      // full-inventory-postpone; 0 disables partial entirely
	RequiredSections map[string]bool
	ForceFull        bool // caller-forced full inventory (--full, or a full taskrun)
	ForcePartial     bool // caller-forced partial even past the postpone max
}

// ComputeChecksum implements the heart of partial inventory (spec
// §4.E): for every checked section, compare against the prior
// LastState; drop sections that are unchanged, not always-kept, and
// not required, as long as the postpone budget allows it. It mutates
// state in place and returns the decision.
func ComputeChecksum(d *Document, state *LastState, cfg PostponeConfig) ChecksumResult {
	if state.Sections == nil {
		state.Sections = make(map[string]sectionDigest)
	}

	result := ChecksumResult{Dropped: make(map[string]bool)}

	full := cfg.ForceFull || cfg.MaxPostpone <= 0
	if !full && !cfg.ForcePartial && state.PostponeCount >= cfg.MaxPostpone {
		// Postpone budget exhausted: this run goes full and the
		// counter resets, instead of postponing the same section
		// forever (spec §4.E "forced-full-after-max").
		full = true
	}
	if cfg.ForceFull {
		state.PostponeCount = 0
	}

	anyChanged := false
	newDigests := make(map[string]sectionDigest)

	for _, section := range d.Sections() {
		spec := schema[section]
		var value any
		if spec.Singleton {
			value = d.singletons[section]
		} else {
			value = d.lists[section]
		}

		digest := digestOf(value)
		newDigests[section] = digest

		prior, existed := state.Sections[section]
		unchanged := existed && prior == digest

		if !unchanged {
			anyChanged = true
			continue
		}

		if full {
			continue
		}
		if spec.AlwaysKeep || cfg.RequiredSections[section] {
			continue
		}

		result.Dropped[section] = true
	}

	for section, digest := range newDigests {
		state.Sections[section] = digest
	}

	if full {
		state.PostponeCount = 0
	} else if len(result.Dropped) > 0 {
		state.PostponeCount++
	} else if anyChanged {
		state.PostponeCount = 0
	}

	result.Full = full
	result.PostponeCount = state.PostponeCount
	return result
}

// SoftwaresChangedKeepsOS reports the spec's coupling rule: "Softwares
// changing implies keeping OPERATINGSYSTEM" — call before dropping
// OPERATINGSYSTEM from a partial submission when SOFTWARES was kept
// (not dropped).
func SoftwaresChangedKeepsOS(dropped map[string]bool) bool {
	return !dropped["SOFTWARES"]
}

// UsersDroppedClearsLastLoggedUser implements "USERS dropping implies
// clearing HARDWARE.LASTLOGGEDUSER/DATELASTLOGGEDUSER": when USERS is
// dropped from a partial submission, those two HARDWARE fields must
// not leak a stale value to the server, which has no USERS update to
// correlate them against.
func (d *Document) UsersDroppedClearsLastLoggedUser(dropped map[string]bool) {
	if !dropped["USERS"] {
		return
	}
	hw := d.singletons["HARDWARE"]
	if hw == nil {
		return
	}
	delete(hw, "LASTLOGGEDUSER")
	delete(hw, "DATELASTLOGGEDUSER")
}
