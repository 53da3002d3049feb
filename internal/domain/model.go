package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusBuilding  Status = "building"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusBroken    Status = "broken"
	StatusFixed     Status = "fixed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in the order entry points are declared.
var Statuses = []Status{
	StatusBuilding, StatusPassed, StatusFailed, StatusBroken, StatusFixed, StatusCancelled,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", &UnknownStatusError{Value: s}
}

// PipelineEvent is one lifecycle notification. It is never mutated after creation.
type PipelineEvent struct {
	Pipeline     string
	Counter      int64
	Stage        string
	StageCounter int64
	Group        string
	Label        string
	Status       Status
	TriggeredAt  time.Time
}

type Rule struct {
	Name                string
	PipelinePattern     string
	StagePattern        string
	GroupPattern        string
	Statuses            []Status
	Channel             string
	WebhookURL          string
	Enabled             bool
	ShowConsoleLogLinks bool
	ShowMaterialChanges bool
}

type Job struct {
	Name string
}

type Stage struct {
	Name       string
	Counter    int64
	ApprovedBy string
	Jobs       []Job
}

func (s Stage) JobNames() []string {
	out := make([]string, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		out = append(out, j.Name)
	}
	return out
}

type PipelineDetails struct {
	Name    string
	Counter int64
	Label   string
	Stages  []Stage
}

type Material struct {
	Name        string
	Description string
	Type        string
}

// DisplayName falls back to the description for unnamed materials.
func (m Material) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Description
}

type Modification struct {
	Revision string
	Author   string
	Comment  string
	// URL links straight to the change when the material exposes one.
	URL string
}

type MaterialRevision struct {
	Material      Material
	Modifications []Modification
}

type Field struct {
	Name  string
	Value string
	Short bool
}

type Message struct {
	Title      string
	Fallback   string
	Color      string
	Text       string
	Fields     []Field
	Footer     string
	FooterIcon string
}

// Target selects where the transport delivers a message. Empty fields keep
// the transport defaults.
type Target struct {
	WebhookURL string
	Channel    string
	User       string
}
