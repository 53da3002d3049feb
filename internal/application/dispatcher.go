package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/davarch/gocd-notifier/internal/domain"
	"go.uber.org/zap"
)

type Dispatcher struct {
	log       *zap.Logger
	settings  *SettingsStore
	composer  *Composer
	transport domain.Transport
	target    domain.Target
	rec       Recorder
}

// NewDispatcher wires the pipeline. target is the global delivery target that
// rule overrides are applied on top of.
func NewDispatcher(l *zap.Logger, settings *SettingsStore, c *Composer, t domain.Transport, target domain.Target, rec Recorder) *Dispatcher {
	if rec == nil {
		rec = NoopRecorder{}
	}
	return &Dispatcher{log: l, settings: settings, composer: c, transport: t, target: target, rec: rec}
}

// Dispatch resolves the rule for ev and delivers it under its status. Rule
// lookup and composition share one settings snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.PipelineEvent) error {
	if _, err := behaviorFor(ev.Status); err != nil {
		return err
	}
	snap := d.settings.Snapshot()
	return d.deliver(ctx, snap, d.settings.resolve(snap, ev), ev, ev.Status)
}

func (d *Dispatcher) OnBuilding(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) error {
	return d.deliver(ctx, d.settings.Snapshot(), rule, ev, domain.StatusBuilding)
}

func (d *Dispatcher) OnPassed(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) error {
	return d.deliver(ctx, d.settings.Snapshot(), rule, ev, domain.StatusPassed)
}

func (d *Dispatcher) OnFailed(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) error {
	return d.deliver(ctx, d.settings.Snapshot(), rule, ev, domain.StatusFailed)
}

func (d *Dispatcher) OnBroken(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) error {
	return d.deliver(ctx, d.settings.Snapshot(), rule, ev, domain.StatusBroken)
}

func (d *Dispatcher) OnFixed(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) error {
	return d.deliver(ctx, d.settings.Snapshot(), rule, ev, domain.StatusFixed)
}

func (d *Dispatcher) OnCancelled(ctx context.Context, rule domain.Rule, ev domain.PipelineEvent) error {
	return d.deliver(ctx, d.settings.Snapshot(), rule, ev, domain.StatusCancelled)
}

func (d *Dispatcher) deliver(ctx context.Context, snap *Settings, rule domain.Rule, ev domain.PipelineEvent, s domain.Status) error {
	ev.Status = s
	target := ResolveTarget(d.target, rule)
	d.log.Debug("delivery target",
		zap.String("rule", rule.Name),
		zap.String("channel", target.Channel),
		zap.String("user", target.User),
		zap.Bool("webhook_override", rule.WebhookURL != ""),
	)

	msg, err := d.composer.withSettings(snap).Compose(ctx, rule, ev)
	if err != nil {
		d.rec.IncDispatch(s, OutcomeAborted)
		var snf *domain.StageNotFoundError
		if errors.As(err, &snf) {
			d.log.Error("inconsistent event, notification dropped",
				zap.String("pipeline", ev.Pipeline),
				zap.Int64("counter", ev.Counter),
				zap.String("stage", ev.Stage),
				zap.Error(err),
			)
		} else {
			d.log.Error("compose failed", zap.String("pipeline", ev.Pipeline), zap.Error(err))
		}
		return err
	}

	if err := d.transport.Send(ctx, target, msg); err != nil {
		d.rec.IncDispatch(s, OutcomeTransportError)
		d.log.Warn("delivery failed", zap.String("pipeline", ev.Pipeline), zap.Error(err))
		return fmt.Errorf("deliver %s notification for %s: %w", s, ev.Pipeline, err)
	}

	d.rec.IncDispatch(s, OutcomeDelivered)
	d.log.Info("notification delivered",
		zap.String("pipeline", ev.Pipeline),
		zap.Int64("counter", ev.Counter),
		zap.String("stage", ev.Stage),
		zap.String("status", string(s)),
		zap.String("title", msg.Title),
	)
	return nil
}

// ResolveTarget applies the rule's channel and webhook on top of base.
// "#name" selects a channel, "@name" a direct message; anything else keeps base.
func ResolveTarget(base domain.Target, rule domain.Rule) domain.Target {
	t := ApplyChannel(base, rule.Channel)
	if rule.WebhookURL != "" {
		t.WebhookURL = rule.WebhookURL
	}
	return t
}

func ApplyChannel(base domain.Target, channel string) domain.Target {
	switch {
	case strings.HasPrefix(channel, "#"):
		base.Channel, base.User = channel[1:], ""
	case strings.HasPrefix(channel, "@"):
		base.User, base.Channel = channel[1:], ""
	}
	return base
}
