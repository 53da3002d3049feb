package application

import (
	"sync"

	"github.com/davarch/gocd-notifier/internal/domain"
	"go.uber.org/zap"
)

// Settings is the part of the configuration a reload may change. Nil Policy,
// Phrases or Summarizer keep whatever the Composer was built with.
type Settings struct {
	Rules      *RuleSet
	Policy     *ComposePolicy
	Phrases    *PhraseBank
	Summarizer *ChangeSummarizer
}

// SettingsStore holds the current Settings. A dispatch reads one snapshot and
// uses it throughout, so a reload never changes rules or policy under an
// in-flight notification.
type SettingsStore struct {
	log *zap.Logger

	mu  sync.RWMutex
	cur *Settings
}

func NewSettingsStore(l *zap.Logger, s *Settings) *SettingsStore {
	return &SettingsStore{log: l, cur: s}
}

func (s *SettingsStore) Update(next *Settings) {
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()

	s.log.Info("settings reloaded", zap.Int("rules", next.Rules.Len()))
}

func (s *SettingsStore) Snapshot() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Resolve picks the rule for ev from the current snapshot.
func (s *SettingsStore) Resolve(ev domain.PipelineEvent) domain.Rule {
	return s.resolve(s.Snapshot(), ev)
}

func (s *SettingsStore) resolve(snap *Settings, ev domain.PipelineEvent) domain.Rule {
	rule, ok := snap.Rules.Resolve(ev)
	if !ok {
		s.log.Debug("no rule matched, using default",
			zap.String("pipeline", ev.Pipeline),
			zap.String("stage", ev.Stage),
		)
	}
	return rule
}
