package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Status tracks a resource through a deployment:
//
//	Pending → Applying → {Applied | Failed} → [RolledBack | RolledBackFailed]
//
// Applied, RolledBack and RolledBackFailed are terminal; RolledBackFailed
// requires manual intervention.
type Status string

const (
	StatusPending          Status = "pending"
	StatusApplying         Status = "applying"
	StatusApplied          Status = "applied"
	StatusFailed           Status = "failed"
	StatusRolledBack       Status = "rolled_back"
	StatusRolledBackFailed Status = "rolled_back_failed"
)

var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusApplying},
	StatusApplying: {StatusApplied, StatusFailed, StatusRolledBackFailed},
	StatusApplied:  {StatusRolledBack, StatusRolledBackFailed, StatusApplying},
	StatusFailed:   {StatusRolledBack, StatusRolledBackFailed, StatusApplying},
	// A reverted update can be re-applied or deleted by a later run.
	StatusRolledBack: {StatusApplying},
}

// CanTransition reports whether moving from s to next is a legal step of the
// per-resource state machine. Re-entering Applying from a settled state
// covers subsequent deployment runs against the same resource; Applying to
// RolledBackFailed covers crash recovery, where an in-flight resource is
// unwound without ever settling. RolledBackFailed admits no forward step
// until the resource is cleaned up.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// State is the durable record of a deployment, keyed by deployment name and
// persisted between runs. Diffs are computed against it.
type State struct {
	Version    int                       `yaml:"version"`
	Serial     int                       `yaml:"serial"`
	Lineage    string                    `yaml:"lineage"`
	Deployment string                    `yaml:"deployment"`
	Resources  map[string]*ResourceState `yaml:"resources"`
}

// NewState returns an empty state for the named deployment.
func NewState(deployment string) *State {
	return &State{
		Version:    1,
		Deployment: deployment,
		Resources:  make(map[string]*ResourceState),
	}
}

// ResourceState is the last-known cloud-side representation of a resource.
type ResourceState struct {
	ID           string         `yaml:"id"`
	Type         Kind           `yaml:"type"`
	Handle       string         `yaml:"handle"` // remote identifier (ARN-equivalent)
	Properties   map[string]any `yaml:"properties"`
	PropsHash    string         `yaml:"props_hash"`
	Status       Status         `yaml:"status"`
	Dependencies []string       `yaml:"dependencies,omitempty"`
	LastError    string         `yaml:"last_error,omitempty"`
}

// SortedIDs returns the resource identifiers in ascending order.
func (s *State) SortedIDs() []string {
	ids := make([]string, 0, len(s.Resources))
	for id := range s.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HashProperties computes a canonical hash of a property map. Key order is
// normalized so two equal maps always hash identically; this is the value
// the reconciler compares to detect drift.
func HashProperties(props map[string]any) string {
	h := sha256.New()
	writeCanonical(h, props)
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(w interface{ Write([]byte) (int, error) }, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprint(w, "{")
		for _, k := range keys {
			fmt.Fprintf(w, "%q:", k)
			writeCanonical(w, val[k])
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "}")
	case []any:
		fmt.Fprint(w, "[")
		for _, item := range val {
			writeCanonical(w, item)
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "]")
	case string:
		fmt.Fprintf(w, "%q", val)
	case nil:
		fmt.Fprint(w, "null")
	default:
		// Numbers arrive as int or float64 depending on the decoder; render
		// whole floats as integers so both forms hash the same.
		if f, ok := val.(float64); ok && f == float64(int64(f)) {
			fmt.Fprintf(w, "%d", int64(f))
			return
		}
		fmt.Fprintf(w, "%v", val)
	}
}

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusPending, StatusApplying, StatusApplied, StatusFailed,
		StatusRolledBack, StatusRolledBackFailed:
		return Status(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown resource status %q", s)
}
