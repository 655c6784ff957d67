package model

import (
	"strings"
	"time"
)

// Agent is a reusable definition of an external recon command,
// a post-processing script and run-eligibility policy flags.
type Agent struct {
	Name    string
	Command string // template, {{target}} and {{subdomain}} placeholders
	Script  string // opaque script source, evaluated over captured output

	OnlyIfTargetAlive bool
	OnlyIfIsAlive     bool
	SkipIfRanBefore   bool

	Categories []string
}

// Target is the root scope of a reconnaissance engagement.
type Target struct {
	Name       string
	IsAlive    bool
	Subdomains []*Subdomain

	// agent names which completed a run against the target root scope
	AgentsRan []string
}

// Subdomain returns the named subdomain or nil.
func (t *Target) Subdomain(name string) *Subdomain {
	for _, s := range t.Subdomains {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// HasRun reports whether the agent completed a run against the target root scope.
func (t *Target) HasRun(agent string) bool {
	for _, a := range t.AgentsRan {
		if a == agent {
			return true
		}
	}
	return false
}

// Subdomain is a discovered child scope of a Target.
type Subdomain struct {
	Name        string
	IP          string
	IsAlive     bool
	HasHTTPOpen bool
	Notes       []string

	AgentsRan []string
}

func (s *Subdomain) HasRun(agent string) bool {
	for _, a := range s.AgentsRan {
		if a == agent {
			return true
		}
	}
	return false
}

// RunKey identifies one execution slot. At most one run may be
// active per key at any instant.
type RunKey struct {
	Target    string
	Subdomain string // empty when the run targets the root scope
	Agent     string
}

func (k RunKey) String() string {
	scope := k.Target
	if k.Subdomain != "" {
		scope = k.Subdomain
	}
	return k.Agent + "@" + scope
}

// RunStatus is the terminal state of one agent run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// ScriptOutput is a structured result a script derives from terminal
// output. The engine treats it opaquely; the persistence side owns the
// meaning of individual keys.
type ScriptOutput struct {
	Values map[string]any
}

func (o ScriptOutput) Empty() bool {
	return len(o.Values) == 0
}

// String returns the string value under key, or "".
func (o ScriptOutput) String(key string) string {
	if v, ok := o.Values[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Bool returns the bool value under key and whether it was present.
func (o ScriptOutput) Bool(key string) (bool, bool) {
	v, ok := o.Values[key].(bool)
	return v, ok
}

// RunRecord is what the engine hands to the persistence sink after a
// run reached a terminal status.
type RunRecord struct {
	ID        string
	Key       RunKey
	Status    RunStatus
	Output    []string // captured terminal output, emission order
	Result    ScriptOutput
	ScriptErr string // verbatim script failure message, empty on success
	Started   time.Time
	Stopped   time.Time
}
