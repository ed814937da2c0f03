// Package copier holds the copy-trading enable switches: one global switch,
// an explicit per-account choice and the suppressions forced by the
// activity monitor. The effective decision combines all three with liveness.
package copier

import (
	"maps"
	"slices"
	"sort"
)

// Reason explains why an account is forced off.
type Reason string

const (
	ReasonSelfOffline   Reason = "self_offline"
	ReasonMasterOffline Reason = "master_offline"
)

// State is the control plane's value. It is not safe for concurrent use;
// the registry owns it and swaps clones under its own lock.
type State struct {
	global     bool
	choices    map[string]bool
	reported   map[string]bool
	suppressed map[string][]Reason
}

// New returns a state with the global switch on and no explicit choices.
func New() *State {
	return &State{
		global:     true,
		choices:    make(map[string]bool),
		reported:   make(map[string]bool),
		suppressed: make(map[string][]Reason),
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		global:     s.global,
		choices:    maps.Clone(s.choices),
		reported:   maps.Clone(s.reported),
		suppressed: make(map[string][]Reason, len(s.suppressed)),
	}
	for id, r := range s.suppressed {
		out.suppressed[id] = slices.Clone(r)
	}
	return out
}

// Global returns the global switch.
func (s *State) Global() bool { return s.global }

// SetGlobal sets the global switch and reports whether it changed.
func (s *State) SetGlobal(enabled bool) bool {
	if s.global == enabled {
		return false
	}
	s.global = enabled
	return true
}

// Choice returns the explicit choice for id; ok is false when none was made.
func (s *State) Choice(id string) (enabled, ok bool) {
	enabled, ok = s.choices[id]
	return enabled, ok
}

// Choices returns a copy of every explicit choice.
func (s *State) Choices() map[string]bool {
	return maps.Clone(s.choices)
}

// SetChoice records an explicit choice and reports whether it changed.
// The choice is kept even while the account is suppressed.
func (s *State) SetChoice(id string, enabled bool) bool {
	if prev, ok := s.choices[id]; ok && prev == enabled {
		return false
	}
	s.choices[id] = enabled
	return true
}

// ObserveReported feeds the enabled value a state file declared. It becomes
// the explicit choice when it is the first value seen for id or differs from
// the previous file value, so a stale file does not undo a newer user choice.
func (s *State) ObserveReported(id string, enabled bool) bool {
	prev, seen := s.reported[id]
	s.reported[id] = enabled
	if seen && prev == enabled {
		return false
	}
	return s.SetChoice(id, enabled)
}

// Forget drops everything known about id.
func (s *State) Forget(id string) {
	delete(s.choices, id)
	delete(s.reported, id)
	delete(s.suppressed, id)
}

// Suppressed reports whether id is currently forced off.
func (s *State) Suppressed(id string) bool {
	return len(s.suppressed[id]) > 0
}

// Reasons returns why id is forced off.
func (s *State) Reasons(id string) []Reason {
	return slices.Clone(s.suppressed[id])
}

// SetSuppressions replaces the whole suppression set and reports whether it
// differs from the previous one.
func (s *State) SetSuppressions(next map[string][]Reason) bool {
	normalized := make(map[string][]Reason, len(next))
	for id, reasons := range next {
		if len(reasons) == 0 {
			continue
		}
		r := slices.Clone(reasons)
		sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
		normalized[id] = slices.Compact(r)
	}
	changed := !maps.EqualFunc(s.suppressed, normalized, slices.Equal[[]Reason])
	s.suppressed = normalized
	return changed
}

// StoredEnabled is the account's own flag as consumers see it: the explicit
// choice (default off) unless the monitor forced it off.
func (s *State) StoredEnabled(id string) bool {
	if s.Suppressed(id) {
		return false
	}
	return s.choices[id]
}

// EffectiveMaster = global AND master enabled AND master online.
func (s *State) EffectiveMaster(masterID string, online bool) bool {
	return s.global && s.StoredEnabled(masterID) && online
}

// EffectiveSlave = EffectiveMaster(its master) AND slave enabled AND slave online.
// A slave without a master never copies.
func (s *State) EffectiveSlave(slaveID string, slaveOnline bool, masterID string, masterOnline bool) bool {
	if masterID == "" {
		return false
	}
	return s.EffectiveMaster(masterID, masterOnline) && s.StoredEnabled(slaveID) && slaveOnline
}

// AccountStatus is the per-account view exposed to callers.
type AccountStatus struct {
	AccountID  string   `json:"account_id"`
	Role       string   `json:"role"`
	MasterID   string   `json:"master_id,omitempty"`
	Choice     bool     `json:"choice"`
	Stored     bool     `json:"enabled"`
	Effective  bool     `json:"effective"`
	Online     bool     `json:"online"`
	Suppressed []Reason `json:"suppressed,omitempty"`
}

// Status is the control plane's published view.
type Status struct {
	GlobalEnabled bool            `json:"global_enabled"`
	Accounts      []AccountStatus `json:"accounts"`
}
