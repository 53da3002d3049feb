package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/gocd-notifier/internal/application"
	"github.com/davarch/gocd-notifier/internal/domain"
	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name                string   `yaml:"name,omitempty"`
	Pipeline            string   `yaml:"pipeline"`
	Stage               string   `yaml:"stage,omitempty"`
	Group               string   `yaml:"group,omitempty"`
	Statuses            []string `yaml:"statuses,omitempty"`
	Channel             string   `yaml:"channel,omitempty"`
	WebhookURL          string   `yaml:"webhook_url,omitempty"`
	Enabled             *bool    `yaml:"enabled,omitempty"`
	ShowConsoleLogLinks *bool    `yaml:"show_console_log_links,omitempty"`
	ShowMaterialChanges *bool    `yaml:"show_material_changes,omitempty"`
}

// IsEnabled reports whether the rule takes part in matching. A rule without
// an enabled key is on.
func (r Rule) IsEnabled() bool { return boolOr(r.Enabled, true) }

func (r Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Pipeline
}

type Footer struct {
	Text    string `yaml:"text"`
	IconURL string `yaml:"icon_url,omitempty"`
}

type Variant struct {
	Pipeline string              `yaml:"pipeline"`
	Phrases  map[string][]string `yaml:"phrases,omitempty"`
	Footers  map[string]Footer   `yaml:"footers,omitempty"`
}

type Config struct {
	GoCD struct {
		ServerHost string        `yaml:"server_host"`
		APIHost    string        `yaml:"api_host,omitempty"`
		Login      string        `yaml:"login,omitempty"`
		Password   string        `yaml:"password,omitempty"`
		APIToken   string        `yaml:"api_token,omitempty"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"gocd"`

	Webhook struct {
		URL         string        `yaml:"url"`
		Channel     string        `yaml:"channel,omitempty"`
		DisplayName string        `yaml:"display_name,omitempty"`
		IconURL     string        `yaml:"icon_url,omitempty"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`

	Defaults struct {
		ShowConsoleLogLinks bool `yaml:"show_console_log_links"`
		ShowMaterialChanges bool `yaml:"show_material_changes"`
	} `yaml:"defaults"`

	Policy struct {
		RuleMatch         string   `yaml:"rule_match"`
		TriggeredBy       string   `yaml:"triggered_by"`
		ConsoleLogExclude []string `yaml:"console_log_exclude"`
	} `yaml:"policy"`

	Changes struct {
		ExcludeMaterials   []string `yaml:"exclude_materials,omitempty"`
		VerbatimAuthors    []string `yaml:"verbatim_authors,omitempty"`
		VerbatimCommentKey string   `yaml:"verbatim_comment_key,omitempty"`
	} `yaml:"changes"`

	Phrases  map[string][]string `yaml:"phrases,omitempty"`
	Variants []Variant           `yaml:"variants,omitempty"`
	Rules    []Rule              `yaml:"rules"`

	Listen struct {
		Addr string `yaml:"addr"`
	} `yaml:"listen"`
}

func Load(path string) (Config, error) {
	var c Config

	c.GoCD.ServerHost = "http://localhost:8153"
	c.GoCD.Timeout = 10 * time.Second
	c.Webhook.DisplayName = "gocd-notifier"
	c.Webhook.Timeout = 10 * time.Second
	c.Defaults.ShowMaterialChanges = true
	c.Policy.RuleMatch = string(application.MatchFirst)
	c.Policy.TriggeredBy = string(application.TriggeredByFirstStage)
	c.Policy.ConsoleLogExclude = []string{"passed", "fixed", "building"}
	c.Listen.Addr = ":8080"

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}

	if v := os.Getenv("GOCD_SERVER_HOST"); v != "" {
		c.GoCD.ServerHost = v
	}
	if v := os.Getenv("GOCD_API_HOST"); v != "" {
		c.GoCD.APIHost = v
	}
	if v := os.Getenv("GOCD_LOGIN"); v != "" {
		c.GoCD.Login = v
	}
	if v := os.Getenv("GOCD_PASSWORD"); v != "" {
		c.GoCD.Password = v
	}
	if v := os.Getenv("GOCD_API_TOKEN"); v != "" {
		c.GoCD.APIToken = v
	}
	if v := os.Getenv("GOCD_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GoCD.Timeout = d
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("WEBHOOK_CHANNEL"); v != "" {
		c.Webhook.Channel = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Listen.Addr = v
	}

	c.GoCD.ServerHost = trimSlash(c.GoCD.ServerHost)
	if c.GoCD.APIHost == "" {
		c.GoCD.APIHost = c.GoCD.ServerHost
	}
	c.GoCD.APIHost = trimSlash(c.GoCD.APIHost)

	if c.GoCD.Timeout <= 0 {
		c.GoCD.Timeout = 10 * time.Second
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = 10 * time.Second
	}

	if c.Webhook.URL == "" {
		return c, errors.New("WEBHOOK_URL is required")
	}
	if c.GoCD.ServerHost == "" {
		return c, errors.New("gocd server_host is required")
	}

	return c, nil
}

// SetRuleEnabled sets the enabled key of every rule called name in the file
// at path. Only those nodes change: comments, env-only secrets and defaults
// never reach the disk, and the file keeps its permissions.
func SetRuleEnabled(path, name string, enabled bool) (bool, error) {
	if path == "" {
		return false, errors.New("empty config path")
	}

	unlock, err := lockFile(path)
	if err != nil {
		return false, err
	}
	defer unlock()

	st, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return false, nil
	}

	rules := mappingValue(doc.Content[0], "rules")
	if rules == nil || rules.Kind != yaml.SequenceNode {
		return false, nil
	}

	changed := false
	for _, r := range rules.Content {
		if r.Kind != yaml.MappingNode || nodeRuleName(r) != name {
			continue
		}
		ok, err := setEnabled(r, enabled)
		if err != nil {
			return false, fmt.Errorf("rule %q: %w", name, err)
		}
		changed = changed || ok
	}
	if !changed {
		return false, nil
	}

	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, err
	}
	if err := enc.Close(); err != nil {
		return false, err
	}

	return true, writeAtomic(path, out.Bytes(), st.Mode().Perm())
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func nodeRuleName(r *yaml.Node) string {
	if n := mappingValue(r, "name"); n != nil && n.Value != "" {
		return n.Value
	}
	if n := mappingValue(r, "pipeline"); n != nil {
		return n.Value
	}
	return ""
}

func setEnabled(r *yaml.Node, enabled bool) (bool, error) {
	n := mappingValue(r, "enabled")
	if n == nil {
		if enabled {
			return false, nil
		}
		r.Content = append(r.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "enabled"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"},
		)
		return true, nil
	}

	var cur bool
	if err := n.Decode(&cur); err != nil {
		return false, err
	}
	if cur == enabled {
		return false, nil
	}
	n.Kind, n.Tag, n.Style, n.Value = yaml.ScalarNode, "!!bool", 0, strconv.FormatBool(enabled)
	return true, nil
}

func lockFile(path string) (func(), error) {
	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			_ = lf.Close()
			return nil, err
		}
	}

	return func() {
		if runtime.GOOS != "windows" {
			_ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN)
		}
		_ = lf.Close()
	}, nil
}

func writeAtomic(path string, b []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if err := f.Chmod(perm); err != nil {
		return err
	}

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// DefaultRule is used when no configured rule matches an event.
func (c Config) DefaultRule() domain.Rule {
	return domain.Rule{
		Name:                "default",
		Channel:             c.Webhook.Channel,
		Enabled:             true,
		ShowConsoleLogLinks: c.Defaults.ShowConsoleLogLinks,
		ShowMaterialChanges: c.Defaults.ShowMaterialChanges,
	}
}

func (c Config) DomainRules() ([]domain.Rule, error) {
	out := make([]domain.Rule, 0, len(c.Rules))
	for i, r := range c.Rules {
		statuses, err := parseStatuses(r.Statuses)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		out = append(out, domain.Rule{
			Name:                r.DisplayName(),
			PipelinePattern:     r.Pipeline,
			StagePattern:        r.Stage,
			GroupPattern:        r.Group,
			Statuses:            statuses,
			Channel:             r.Channel,
			WebhookURL:          r.WebhookURL,
			Enabled:             r.IsEnabled(),
			ShowConsoleLogLinks: boolOr(r.ShowConsoleLogLinks, c.Defaults.ShowConsoleLogLinks),
			ShowMaterialChanges: boolOr(r.ShowMaterialChanges, c.Defaults.ShowMaterialChanges),
		})
	}
	return out, nil
}

func (c Config) RuleSet() (*application.RuleSet, error) {
	rules, err := c.DomainRules()
	if err != nil {
		return nil, err
	}
	return application.NewRuleSet(rules, c.DefaultRule(), application.MatchPolicy(c.Policy.RuleMatch))
}

// Settings builds everything a reload swaps in one go.
func (c Config) Settings() (*application.Settings, error) {
	rs, err := c.RuleSet()
	if err != nil {
		return nil, err
	}
	policy, err := c.ComposePolicy()
	if err != nil {
		return nil, err
	}
	standard, variants, err := c.PhraseTables()
	if err != nil {
		return nil, err
	}
	return &application.Settings{
		Rules:      rs,
		Policy:     &policy,
		Phrases:    application.NewPhraseBank(nil, standard, variants),
		Summarizer: application.NewChangeSummarizer(c.ChangePolicy()),
	}, nil
}

func (c Config) ComposePolicy() (application.ComposePolicy, error) {
	p := application.ComposePolicy{TriggeredBy: application.TriggeredByPolicy(c.Policy.TriggeredBy)}
	switch p.TriggeredBy {
	case "":
		p.TriggeredBy = application.TriggeredByFirstStage
	case application.TriggeredByFirstStage, application.TriggeredByCurrentStage:
	default:
		return p, fmt.Errorf("unknown triggered_by policy %q", c.Policy.TriggeredBy)
	}

	ex, err := parseStatuses(c.Policy.ConsoleLogExclude)
	if err != nil {
		return p, fmt.Errorf("console_log_exclude: %w", err)
	}
	p.ConsoleLogExclude = ex
	return p, nil
}

func (c Config) ChangePolicy() application.ChangePolicy {
	p := application.DefaultChangePolicy()
	p.ExcludeMaterials = c.Changes.ExcludeMaterials
	if len(c.Changes.VerbatimAuthors) > 0 {
		p.VerbatimAuthors = c.Changes.VerbatimAuthors
	}
	if c.Changes.VerbatimCommentKey != "" {
		p.VerbatimCommentKey = c.Changes.VerbatimCommentKey
	}
	return p
}

// PhraseTables returns the standard pool (built-in defaults overlaid with the
// configured phrases) and the pipeline variants.
func (c Config) PhraseTables() (map[domain.Status][]string, []application.Variant, error) {
	standard := application.DefaultPhrases()
	overlay, err := statusMap(c.Phrases)
	if err != nil {
		return nil, nil, fmt.Errorf("phrases: %w", err)
	}
	for s, p := range overlay {
		standard[s] = p
	}

	variants := make([]application.Variant, 0, len(c.Variants))
	for _, v := range c.Variants {
		if v.Pipeline == "" {
			return nil, nil, errors.New("variant without pipeline name")
		}
		phrases, err := statusMap(v.Phrases)
		if err != nil {
			return nil, nil, fmt.Errorf("variant %s: %w", v.Pipeline, err)
		}
		footers := make(map[domain.Status]application.Footer, len(v.Footers))
		for k, f := range v.Footers {
			s, err := domain.ParseStatus(k)
			if err != nil {
				return nil, nil, fmt.Errorf("variant %s footers: %w", v.Pipeline, err)
			}
			footers[s] = application.Footer{Text: f.Text, IconURL: f.IconURL}
		}
		variants = append(variants, application.Variant{Pipeline: v.Pipeline, Phrases: phrases, Footers: footers})
	}
	return standard, variants, nil
}

func statusMap(in map[string][]string) (map[domain.Status][]string, error) {
	out := make(map[domain.Status][]string, len(in))
	for k, v := range in {
		s, err := domain.ParseStatus(k)
		if err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("empty phrase pool for %s", s)
		}
		out[s] = v
	}
	return out, nil
}

func parseStatuses(in []string) ([]domain.Status, error) {
	out := make([]domain.Status, 0, len(in))
	for _, v := range in {
		s, err := domain.ParseStatus(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func trimSlash(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}
