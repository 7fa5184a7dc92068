package domain

import (
	"strings"
	"time"
)

// Scratch is a named per-branch environment: a bundle of containers, a
// network attachment, and provisioned databases lifecycled as a unit.
type Scratch struct {
	Name      string              `json:"name" yaml:"name"`
	Branch    string              `json:"branch" yaml:"branch"`
	Template  string              `json:"template" yaml:"template"`
	Services  []string            `json:"services" yaml:"services"`
	Databases map[string][]string `json:"databases" yaml:"databases"`
	Env       map[string]string   `json:"env" yaml:"env"`
	CreatedAt time.Time           `json:"created_at" yaml:"created_at"`
}

// NewScratch returns a Scratch with empty collections.
func NewScratch(name, branch, template string) *Scratch {
	return &Scratch{
		Name:      name,
		Branch:    branch,
		Template:  template,
		Services:  []string{},
		Databases: map[string][]string{},
		Env:       map[string]string{},
		CreatedAt: time.Now().UTC(),
	}
}

// Aggregate status values derived from container state.
const (
	StatusRunning = "running"
	StatusPartial = "partial"
	StatusStopped = "stopped"
)

// ScratchStatus is the read-only projection returned by list/get: persisted
// metadata joined with live container state. Never persisted.
type ScratchStatus struct {
	Name      string            `json:"name"`
	Branch    string            `json:"branch"`
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Databases []string          `json:"databases"`
	URL       string            `json:"url,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
}

// NewScratchStatus returns a status projection with defaults suitable for a
// directory whose metadata record is missing or unreadable.
func NewScratchStatus(name, branch string) ScratchStatus {
	return ScratchStatus{
		Name:     name,
		Branch:   branch,
		Status:   StatusStopped,
		Services: map[string]string{},
	}
}

// CalculateStatus derives the aggregate status from per-service container
// states: running when all are running, partial when some are, stopped
// otherwise.
func (s *ScratchStatus) CalculateStatus() {
	if len(s.Services) == 0 {
		s.Status = StatusStopped
		return
	}
	all, any := true, false
	for _, state := range s.Services {
		if state == StatusRunning {
			any = true
		} else {
			all = false
		}
	}
	switch {
	case all:
		s.Status = StatusRunning
	case any:
		s.Status = StatusPartial
	default:
		s.Status = StatusStopped
	}
}

// SanitizeName converts a branch name into a filesystem- and DNS-safe slug:
// lowercase, non [a-z0-9-_] mapped to '-', runs of '-' collapsed, and
// leading/trailing '-' trimmed. The result may be empty for degenerate input.
func SanitizeName(branch string) string {
	var b strings.Builder
	b.Grow(len(branch))
	lastDash := true // swallow leading dashes
	for _, r := range strings.ToLower(branch) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
