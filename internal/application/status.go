package application

import "github.com/davarch/gocd-notifier/internal/domain"

const (
	ColorGood    = "good"
	ColorDanger  = "danger"
	ColorWarning = "warning"
)

type statusBehavior struct {
	color string
}

// Every domain.Status must have an entry; see TestStatusTableIsExhaustive.
var statusTable = map[domain.Status]statusBehavior{
	domain.StatusBuilding:  {color: ""},
	domain.StatusPassed:    {color: ColorGood},
	domain.StatusFixed:     {color: ColorGood},
	domain.StatusFailed:    {color: ColorDanger},
	domain.StatusBroken:    {color: ColorDanger},
	domain.StatusCancelled: {color: ColorWarning},
}

func behaviorFor(s domain.Status) (statusBehavior, error) {
	b, ok := statusTable[s]
	if !ok {
		return statusBehavior{}, &domain.UnknownStatusError{Value: string(s)}
	}
	return b, nil
}

// TriggeredByPolicy picks whose approval is reported as "Triggered by".
type TriggeredByPolicy string

const (
	TriggeredByFirstStage   TriggeredByPolicy = "first-stage"
	TriggeredByCurrentStage TriggeredByPolicy = "current-stage"
)

// ComposePolicy holds the configuration-level choices of the composer.
type ComposePolicy struct {
	TriggeredBy TriggeredByPolicy
	// ConsoleLogExclude lists statuses that never get console log links.
	ConsoleLogExclude []domain.Status
}

func DefaultComposePolicy() ComposePolicy {
	return ComposePolicy{
		TriggeredBy:       TriggeredByFirstStage,
		ConsoleLogExclude: []domain.Status{domain.StatusPassed, domain.StatusFixed, domain.StatusBuilding},
	}
}

func (p ComposePolicy) linksAllowed(rule domain.Rule, s domain.Status) bool {
	if !rule.ShowConsoleLogLinks {
		return false
	}
	for _, ex := range p.ConsoleLogExclude {
		if ex == s {
			return false
		}
	}
	return true
}

func (p ComposePolicy) triggeredBy(details domain.PipelineDetails, current domain.Stage) string {
	if p.TriggeredBy == TriggeredByCurrentStage || len(details.Stages) == 0 {
		return current.ApprovedBy
	}
	return details.Stages[0].ApprovedBy
}
