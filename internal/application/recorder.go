package application

import "github.com/davarch/gocd-notifier/internal/domain"

const (
	OutcomeDelivered      = "delivered"
	OutcomeAborted        = "aborted"
	OutcomeTransportError = "transport_error"

	PhaseDetails = "details"
	PhaseChanges = "changes"
	PhaseLinks   = "links"
)

type Recorder interface {
	IncDispatch(s domain.Status, outcome string)
	IncDegraded(phase string)
}

type NoopRecorder struct{}

func (NoopRecorder) IncDispatch(domain.Status, string) {}
func (NoopRecorder) IncDegraded(string)                {}
