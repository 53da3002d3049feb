package application

import (
	"context"
	"errors"
	"strings"

	"github.com/davarch/gocd-notifier/internal/domain"
	"go.uber.org/zap"
)

const detailsPlaceholder = "Couldn't fetch build details."

type Composer struct {
	log        *zap.Logger
	details    domain.DetailsFetcher
	changes    domain.ChangesFetcher
	phrases    *PhraseBank
	links      *LinkBuilder
	summarizer *ChangeSummarizer
	policy     ComposePolicy
	rec        Recorder
}

type ComposerDeps struct {
	Details    domain.DetailsFetcher
	Changes    domain.ChangesFetcher
	Phrases    *PhraseBank
	Links      *LinkBuilder
	Summarizer *ChangeSummarizer
	Policy     ComposePolicy
	Recorder   Recorder
}

func NewComposer(l *zap.Logger, d ComposerDeps) *Composer {
	if d.Recorder == nil {
		d.Recorder = NoopRecorder{}
	}
	if d.Summarizer == nil {
		d.Summarizer = NewChangeSummarizer(DefaultChangePolicy())
	}
	return &Composer{
		log:        l,
		details:    d.Details,
		changes:    d.Changes,
		phrases:    d.Phrases,
		links:      d.Links,
		summarizer: d.Summarizer,
		policy:     d.Policy,
		rec:        d.Recorder,
	}
}

// withSettings returns a copy of c that uses the reloadable parts of s.
func (c *Composer) withSettings(s *Settings) *Composer {
	if s == nil {
		return c
	}
	cp := *c
	if s.Policy != nil {
		cp.policy = *s.Policy
	}
	if s.Phrases != nil {
		cp.phrases = s.Phrases
	}
	if s.Summarizer != nil {
		cp.summarizer = s.Summarizer
	}
	return &cp
}

// Compose builds the message for ev under rule. Failures fetching details,
// changes or links degrade the message; only a missing stage or an unknown
// status is returned as an error.
func (c *Composer) Compose(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) (domain.Message, error) {
	b, err := behaviorFor(ev.Status)
	if err != nil {
		return domain.Message{}, err
	}

	title := c.phrases.PhraseFor(ev.Status, ev.Pipeline)
	msg := domain.Message{Title: title, Fallback: title, Color: b.color}

	details, err := c.details.FetchDetails(ctx, ev)
	if err != nil {
		c.rec.IncDegraded(PhaseDetails)
		c.log.Warn("couldn't fetch build details",
			zap.String("pipeline", ev.Pipeline),
			zap.Int64("counter", ev.Counter),
			zap.Error(err),
		)
		msg.Fields = []domain.Field{{Name: "Details", Value: detailsFailure(err)}}
		return msg, nil
	}

	stage, err := ResolveStage(details, ev.Stage)
	if err != nil {
		return domain.Message{}, err
	}

	if f, ok := c.phrases.FooterFor(ev.Status, ev.Pipeline); ok {
		msg.Footer, msg.FooterIcon = f.Text, f.IconURL
	}

	msg.Fields = append(msg.Fields,
		domain.Field{Name: "Pipeline", Value: details.Name, Short: true},
		domain.Field{Name: "Triggered by", Value: c.policy.triggeredBy(details, stage), Short: true},
	)

	if c.policy.linksAllowed(rule, ev.Status) {
		if f, ok := c.consoleLogField(details, stage, ev.Status); ok {
			msg.Fields = append(msg.Fields, f)
		}
	}

	if rule.ShowMaterialChanges {
		msg.Fields = append(msg.Fields, c.changeFields(ctx, ev)...)
	}

	return msg, nil
}

func (c *Composer) consoleLogField(details domain.PipelineDetails, stage domain.Stage, s domain.Status) (domain.Field, bool) {
	if c.links == nil {
		return domain.Field{}, false
	}
	links, err := c.links.BuildLinks(details, stage, s)
	if err != nil {
		c.rec.IncDegraded(PhaseLinks)
		c.log.Warn("couldn't build console log links", zap.String("pipeline", details.Name), zap.Error(err))
		return domain.Field{}, false
	}
	if len(links) == 0 {
		return domain.Field{}, false
	}
	return domain.Field{Name: "Console Logs", Value: strings.Join(links, "\n"), Short: true}, true
}

func (c *Composer) changeFields(ctx context.Context, ev domain.PipelineEvent) []domain.Field {
	if c.changes == nil {
		return nil
	}
	revs, err := c.changes.FetchChanges(ctx, ev)
	if err == nil {
		var fields []domain.Field
		if fields, err = c.summarizer.Summarize(revs); err == nil {
			return fields
		}
	}
	c.rec.IncDegraded(PhaseChanges)
	c.log.Warn("couldn't fetch changes", zap.String("pipeline", ev.Pipeline), zap.Error(err))
	return []domain.Field{changesFailedField()}
}

func detailsFailure(err error) string {
	if errors.Is(err, domain.ErrDetailsNotFound) {
		return detailsPlaceholder
	}
	return detailsPlaceholder + " " + err.Error()
}
