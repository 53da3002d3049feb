package application

import (
	"context"
	"errors"
	"testing"

	"github.com/davarch/gocd-notifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	dispatch map[string]int
	degraded map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dispatch: map[string]int{}, degraded: map[string]int{}}
}

func (r *countingRecorder) IncDispatch(s domain.Status, outcome string) {
	r.dispatch[string(s)+"/"+outcome]++
}

func (r *countingRecorder) IncDegraded(phase string) { r.degraded[phase]++ }

func deployDetails() domain.PipelineDetails {
	return domain.PipelineDetails{Name: "deploy", Counter: 7, Stages: []domain.Stage{
		{Name: "build", Counter: 1, ApprovedBy: "changes", Jobs: []domain.Job{{Name: "compile"}}},
		{Name: "release", Counter: 1, ApprovedBy: "alice", Jobs: []domain.Job{{Name: "ship"}}},
	}}
}

func twoMaterials() []domain.MaterialRevision {
	return []domain.MaterialRevision{
		{Material: domain.Material{Name: "ansible"}, Modifications: []domain.Modification{{Revision: "1111111111", Author: "ops", Comment: "inventory"}}},
		{Material: domain.Material{Name: "api"}, Modifications: []domain.Modification{{Revision: "2222222222", Author: "dev", Comment: "feature"}}},
	}
}

func newTestComposer(details domain.DetailsFetcher, changes domain.ChangesFetcher, rec Recorder) *Composer {
	return NewComposer(testLogger(), ComposerDeps{
		Details:    details,
		Changes:    changes,
		Phrases:    NewPhraseBank(domain.FixedRandom{}, DefaultPhrases(), testVariants()),
		Links:      NewLinkBuilder("https://gocd.example.com"),
		Summarizer: NewChangeSummarizer(ChangePolicy{ExcludeMaterials: []string{"ansible"}}),
		Policy:     DefaultComposePolicy(),
		Recorder:   rec,
	})
}

func fieldNames(msg domain.Message) []string {
	out := make([]string, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		out = append(out, f.Name)
	}
	return out
}

func field(msg domain.Message, name string) (domain.Field, bool) {
	for _, f := range msg.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return domain.Field{}, false
}

func TestCompose_PassedDeploy(t *testing.T) {
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, &domain.MockChanges{Revisions: twoMaterials()}, nil)
	rule := domain.Rule{Channel: "#ci", ShowConsoleLogLinks: true, ShowMaterialChanges: true}
	ev := domain.PipelineEvent{Pipeline: "deploy", Counter: 7, Stage: "build", Status: domain.StatusPassed}

	msg, err := c.Compose(context.Background(), rule, ev)
	require.NoError(t, err)

	assert.Equal(t, "good", msg.Color)
	assert.Equal(t, "Deploy is done.", msg.Title)
	assert.Equal(t, msg.Title, msg.Fallback)
	assert.Equal(t, []string{"Pipeline", "Triggered by", "Changes for api"}, fieldNames(msg))

	p, _ := field(msg, "Pipeline")
	assert.Equal(t, "deploy", p.Value)
	assert.True(t, p.Short)
	tb, _ := field(msg, "Triggered by")
	assert.Equal(t, "changes", tb.Value)

	_, hasLogs := field(msg, "Console Logs")
	assert.False(t, hasLogs)
}

func TestCompose_FailedAttachesConsoleLogs(t *testing.T) {
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, &domain.MockChanges{}, nil)
	rule := domain.Rule{ShowConsoleLogLinks: true}
	ev := domain.PipelineEvent{Pipeline: "deploy", Counter: 7, Stage: "release", Status: domain.StatusFailed}

	msg, err := c.Compose(context.Background(), rule, ev)
	require.NoError(t, err)

	assert.Equal(t, "danger", msg.Color)
	logs, ok := field(msg, "Console Logs")
	require.True(t, ok)
	assert.Equal(t, "<https://gocd.example.com/go/files/deploy/7/release/1/ship/cruise-output/console.log| View ship logs>", logs.Value)
}

func TestCompose_CurrentStageApprover(t *testing.T) {
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, nil, nil)
	c.policy.TriggeredBy = TriggeredByCurrentStage

	msg, err := c.Compose(context.Background(), domain.Rule{}, domain.PipelineEvent{Pipeline: "deploy", Stage: "release", Status: domain.StatusCancelled})
	require.NoError(t, err)

	tb, _ := field(msg, "Triggered by")
	assert.Equal(t, "alice", tb.Value)
	assert.Equal(t, "warning", msg.Color)
}

func TestCompose_DetailsFailureDegrades(t *testing.T) {
	rec := newCountingRecorder()
	changes := &domain.MockChanges{Revisions: twoMaterials()}
	c := newTestComposer(&domain.MockDetails{Err: domain.ErrDetailsNotFound}, changes, rec)
	rule := domain.Rule{ShowConsoleLogLinks: true, ShowMaterialChanges: true}

	msg, err := c.Compose(context.Background(), rule, domain.PipelineEvent{Pipeline: "deploy", Stage: "build", Status: domain.StatusFailed})
	require.NoError(t, err)

	require.Len(t, msg.Fields, 1)
	assert.Equal(t, "Couldn't fetch build details.", msg.Fields[0].Value)
	assert.Empty(t, msg.Footer)
	assert.Equal(t, 0, changes.Called)
	assert.Equal(t, 1, rec.degraded[PhaseDetails])
}

func TestCompose_DetailsIOErrorCarriesCause(t *testing.T) {
	c := newTestComposer(&domain.MockDetails{Err: errors.New("connection refused")}, nil, nil)

	msg, err := c.Compose(context.Background(), domain.Rule{}, domain.PipelineEvent{Pipeline: "deploy", Stage: "build", Status: domain.StatusFailed})
	require.NoError(t, err)
	require.Len(t, msg.Fields, 1)
	assert.Contains(t, msg.Fields[0].Value, "connection refused")
}

func TestCompose_StageMissingAborts(t *testing.T) {
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, nil, nil)

	_, err := c.Compose(context.Background(), domain.Rule{}, domain.PipelineEvent{Pipeline: "deploy", Stage: "smoke", Status: domain.StatusPassed})
	assert.ErrorIs(t, err, domain.ErrStageNotFound)
}

func TestCompose_ChangesFailureUsesPlaceholder(t *testing.T) {
	rec := newCountingRecorder()
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, &domain.MockChanges{Err: errors.New("timeout")}, rec)

	msg, err := c.Compose(context.Background(), domain.Rule{ShowMaterialChanges: true}, domain.PipelineEvent{Pipeline: "deploy", Stage: "build", Status: domain.StatusPassed})
	require.NoError(t, err)

	f, ok := field(msg, "Changes")
	require.True(t, ok)
	assert.Equal(t, "(Couldn't fetch changes; see log.)", f.Value)
	assert.True(t, f.Short)
	assert.Equal(t, 1, rec.degraded[PhaseChanges])
}

func TestCompose_ChangesDisabled(t *testing.T) {
	changes := &domain.MockChanges{Revisions: twoMaterials()}
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, changes, nil)

	msg, err := c.Compose(context.Background(), domain.Rule{}, domain.PipelineEvent{Pipeline: "deploy", Stage: "build", Status: domain.StatusPassed})
	require.NoError(t, err)
	assert.Equal(t, []string{"Pipeline", "Triggered by"}, fieldNames(msg))
	assert.Equal(t, 0, changes.Called)
}

func TestCompose_LinkFailureSkipsField(t *testing.T) {
	rec := newCountingRecorder()
	c := newTestComposer(&domain.MockDetails{Details: deployDetails()}, nil, rec)
	c.links = NewLinkBuilder("not a url")

	msg, err := c.Compose(context.Background(), domain.Rule{ShowConsoleLogLinks: true}, domain.PipelineEvent{Pipeline: "deploy", Stage: "build", Status: domain.StatusFailed})
	require.NoError(t, err)
	_, ok := field(msg, "Console Logs")
	assert.False(t, ok)
	assert.Equal(t, 1, rec.degraded[PhaseLinks])
}

func TestCompose_VariantPhraseAndFooter(t *testing.T) {
	details := deployDetails()
	details.Name = "deployTestpit"
	c := newTestComposer(&domain.MockDetails{Details: details}, nil, nil)

	msg, err := c.Compose(context.Background(), domain.Rule{}, domain.PipelineEvent{Pipeline: "deployTestpit", Stage: "build", Status: domain.StatusPassed})
	require.NoError(t, err)
	assert.Equal(t, "Testpit deploy finished.", msg.Title)
	assert.Equal(t, "Reattach busy devices.", msg.Footer)
	assert.Equal(t, "https://example.com/warn.png", msg.FooterIcon)
}
