package engine

import (
	"fmt"
	"time"
)

// Trace is an optional step-by-step record of a retrieval call, filled only
// when the caller supplies one via SearchOptions. It is an out-of-band
// observability side-channel, not part of the Graph result contract.
type Trace struct {
	Steps []TraceStep `json:"steps"`
}

// TraceStep is one recorded retrieval step.
type TraceStep struct {
	Name   string    `json:"name"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// add appends a step. Safe on a nil receiver so call sites need no guards.
func (t *Trace) add(name, format string, args ...any) {
	if t == nil {
		return
	}

	t.Steps = append(t.Steps, TraceStep{
		Name:   name,
		Detail: fmt.Sprintf(format, args...),
		At:     time.Now().UTC(),
	})
}
