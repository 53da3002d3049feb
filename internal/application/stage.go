package application

import "github.com/davarch/gocd-notifier/internal/domain"

// ResolveStage returns the first stage named stageName. A miss means the event
// and the fetched details disagree and is never retried.
func ResolveStage(details domain.PipelineDetails, stageName string) (domain.Stage, error) {
	for _, st := range details.Stages {
		if st.Name == stageName {
			return st, nil
		}
	}
	return domain.Stage{}, &domain.StageNotFoundError{Pipeline: details.Name, Stage: stageName}
}
