package slack_webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/gocd-notifier/internal/domain"
	"go.uber.org/zap"
)

const userAgent = "gocd-notifier/1"

type Options struct {
	URL         string
	DisplayName string
	IconURL     string
	Timeout     time.Duration
}

// Transport posts messages as a single attachment to a chat incoming webhook.
type Transport struct {
	log   *zap.Logger
	opt   Options
	hc    *http.Client
	retry func() backoff.BackOff
}

func New(log *zap.Logger, opt Options) (*Transport, error) {
	if err := validateURL(opt.URL); err != nil {
		return nil, err
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	return &Transport{
		log: log.Named("webhook"),
		opt: opt,
		hc:  &http.Client{Timeout: opt.Timeout},
		retry: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 3 * time.Second
			bo.MaxElapsedTime = 10 * time.Second
			return bo
		},
	}, nil
}

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type attachment struct {
	Fallback   string   `json:"fallback,omitempty"`
	Title      string   `json:"title,omitempty"`
	Color      string   `json:"color,omitempty"`
	Text       string   `json:"text"`
	Fields     []field  `json:"fields,omitempty"`
	Footer     string   `json:"footer,omitempty"`
	FooterIcon string   `json:"footer_icon,omitempty"`
	MrkdwnIn   []string `json:"mrkdwn_in"`
}

type payload struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Attachments []attachment `json:"attachments"`
}

func buildPayload(opt Options, target domain.Target, msg domain.Message) payload {
	p := payload{Username: opt.DisplayName, IconURL: opt.IconURL}
	switch {
	case target.Channel != "":
		p.Channel = "#" + target.Channel
	case target.User != "":
		p.Channel = "@" + target.User
	}

	a := attachment{
		Fallback:   msg.Fallback,
		Title:      msg.Title,
		Color:      msg.Color,
		Text:       msg.Text,
		Footer:     msg.Footer,
		FooterIcon: msg.FooterIcon,
		MrkdwnIn:   []string{"text", "fields"},
	}
	for _, f := range msg.Fields {
		a.Fields = append(a.Fields, field{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	p.Attachments = []attachment{a}
	return p
}

func (t *Transport) Send(ctx context.Context, target domain.Target, msg domain.Message) error {
	hook := t.opt.URL
	if target.WebhookURL != "" {
		if err := validateURL(target.WebhookURL); err != nil {
			return err
		}
		hook = target.WebhookURL
	}

	body, err := json.Marshal(buildPayload(t.opt, target, msg))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := t.post(ctx, hook, body)
		if err != nil && attempt > 1 {
			t.log.Debug("webhook retry failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(t.retry(), ctx)); err != nil {
		return fmt.Errorf("webhook %s: %w", RedactURL(hook), err)
	}
	return nil
}

func (t *Transport) post(ctx context.Context, hook string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook returned HTTP %d", resp.StatusCode))
	}
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("webhook URL must include a host")
	}
	return nil
}

// RedactURL keeps scheme and host; webhook paths carry the secret.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	return u.Scheme + "://" + u.Host + "/<redacted>"
}
