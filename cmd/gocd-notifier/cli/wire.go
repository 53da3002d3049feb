package cli

import (
	"github.com/davarch/gocd-notifier/internal/application"
	"github.com/davarch/gocd-notifier/internal/domain"
	"github.com/davarch/gocd-notifier/internal/infrastructure/config"
	"github.com/davarch/gocd-notifier/internal/infrastructure/gocd_http"
	"github.com/davarch/gocd-notifier/internal/infrastructure/metrics_prom"
	"github.com/davarch/gocd-notifier/internal/infrastructure/slack_webhook"
	"go.uber.org/zap"
)

type app struct {
	dispatcher *application.Dispatcher
	settings   *application.SettingsStore
	metrics    *metrics_prom.Recorder
}

func build(cfg config.Config, log *zap.Logger) (*app, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	tr, err := slack_webhook.New(log, slack_webhook.Options{
		URL:         cfg.Webhook.URL,
		DisplayName: cfg.Webhook.DisplayName,
		IconURL:     cfg.Webhook.IconURL,
		Timeout:     cfg.Webhook.Timeout,
	})
	if err != nil {
		return nil, err
	}

	gocd := gocd_http.New(cfg.GoCD.APIHost, gocd_http.Auth{
		Login:    cfg.GoCD.Login,
		Password: cfg.GoCD.Password,
		Token:    cfg.GoCD.APIToken,
	}, cfg.GoCD.Timeout)

	rec := metrics_prom.New(nil)
	// Phrases, policy and summarizer come from the settings snapshot of each dispatch.
	composer := application.NewComposer(log, application.ComposerDeps{
		Details:  gocd,
		Changes:  gocd,
		Links:    application.NewLinkBuilder(cfg.GoCD.ServerHost),
		Recorder: rec,
	})

	store := application.NewSettingsStore(log, settings)
	base := application.ApplyChannel(domain.Target{}, cfg.Webhook.Channel)

	return &app{
		dispatcher: application.NewDispatcher(log, store, composer, tr, base, rec),
		settings:   store,
		metrics:    rec,
	}, nil
}
