package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davarch/gocd-notifier/internal/application"
	"github.com/davarch/gocd-notifier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
gocd:
  server_host: https://gocd.example.com/
  login: bot
  timeout: 5s

webhook:
  url: https://hooks.example.com/yaml
  channel: "#builds"

defaults:
  show_console_log_links: true
  show_material_changes: true

policy:
  rule_match: most-specific
  triggered_by: current-stage
  console_log_exclude: [passed, building]

changes:
  exclude_materials: [ansible, ndm]

phrases:
  failed: ["It broke."]

variants:
  - pipeline: deployTestpit
    phrases:
      passed: ["Testpit is up."]
    footers:
      passed: {text: "Reattach devices.", icon_url: "https://example.com/w.png"}

rules:
  - name: deploys
    pipeline: "deploy.*"
    channel: "#deploys"
    enabled: true
    show_material_changes: false
  - pipeline: docs
    statuses: [failed, broken]
    enabled: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/env")
	t.Setenv("GOCD_PASSWORD", "secret")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.example.com/env", c.Webhook.URL)
	assert.Equal(t, "secret", c.GoCD.Password)
	assert.Equal(t, "https://gocd.example.com", c.GoCD.ServerHost)
	assert.Equal(t, "https://gocd.example.com", c.GoCD.APIHost)
	assert.Len(t, c.Rules, 2)
}

func TestLoad_RequiresWebhook(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	_, err := Load(writeConfig(t, "gocd:\n  server_host: http://x\n"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "rules: [::"))
	assert.Error(t, err)
}

func TestConfig_DomainRulesInheritDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	rules, err := c.DomainRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "deploys", rules[0].Name)
	assert.True(t, rules[0].ShowConsoleLogLinks)
	assert.False(t, rules[0].ShowMaterialChanges)

	assert.Equal(t, "docs", rules[1].Name)
	assert.Equal(t, []domain.Status{domain.StatusFailed, domain.StatusBroken}, rules[1].Statuses)

	rs, err := c.RuleSet()
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, "#builds", rs.Fallback().Channel)
}

func TestConfig_Policies(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	p, err := c.ComposePolicy()
	require.NoError(t, err)
	assert.Equal(t, application.TriggeredByCurrentStage, p.TriggeredBy)
	assert.Equal(t, []domain.Status{domain.StatusPassed, domain.StatusBuilding}, p.ConsoleLogExclude)

	cp := c.ChangePolicy()
	assert.Equal(t, []string{"ansible", "ndm"}, cp.ExcludeMaterials)
	assert.Equal(t, []string{"S3"}, cp.VerbatimAuthors)

	c.Policy.TriggeredBy = "whoever"
	_, err = c.ComposePolicy()
	assert.Error(t, err)
}

func TestConfig_PhraseTables(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	standard, variants, err := c.PhraseTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"It broke."}, standard[domain.StatusFailed])
	assert.NotEmpty(t, standard[domain.StatusPassed])

	require.Len(t, variants, 1)
	assert.Equal(t, "deployTestpit", variants[0].Pipeline)
	assert.Equal(t, "Reattach devices.", variants[0].Footers[domain.StatusPassed].Text)

	c.Phrases = map[string][]string{"exploded": {"x"}}
	_, _, err = c.PhraseTables()
	assert.Error(t, err)
}

func TestSetRuleEnabled_TouchesOnlyTheRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	t.Setenv("GOCD_PASSWORD", "env-secret")
	t.Setenv("GOCD_API_TOKEN", "env-token")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/env")

	changed, err := SetRuleEnabled(path, "docs", true)
	require.NoError(t, err)
	assert.True(t, changed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "env-secret")
	assert.NotContains(t, string(b), "env-token")
	assert.NotContains(t, string(b), "hooks.example.com/env")
	assert.NotContains(t, string(b), "api_host")
	assert.Contains(t, string(b), "https://hooks.example.com/yaml")

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Rules[1].IsEnabled())
	assert.True(t, c.Rules[0].IsEnabled())
	assert.False(t, *c.Rules[0].ShowMaterialChanges)
}

func TestSetRuleEnabled_NoChange(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	changed, err := SetRuleEnabled(path, "deploys", true)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = SetRuleEnabled(path, "missing", false)
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetRuleEnabled_AddsKeyWhenAbsent(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	path := writeConfig(t, `# team notifications
webhook:
  url: https://hooks.example.com/x
rules:
  - pipeline: docs # docs site
`)

	changed, err := SetRuleEnabled(path, "docs", false)
	require.NoError(t, err)
	assert.True(t, changed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "# docs site")
	assert.Contains(t, string(b), "# team notifications")

	c, err := Load(path)
	require.NoError(t, err)
	assert.False(t, c.Rules[0].IsEnabled())
}

func TestRule_EnabledDefaultsToTrue(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	c, err := Load(writeConfig(t, `
webhook:
  url: https://hooks.example.com/x
rules:
  - pipeline: deploy
  - pipeline: docs
    enabled: false
`))
	require.NoError(t, err)

	assert.True(t, c.Rules[0].IsEnabled())
	assert.False(t, c.Rules[1].IsEnabled())

	rs, err := c.RuleSet()
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
}

func TestConfig_Settings(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	c, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	s, err := c.Settings()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Rules.Len())
	require.NotNil(t, s.Policy)
	assert.Equal(t, application.TriggeredByCurrentStage, s.Policy.TriggeredBy)
	assert.NotNil(t, s.Phrases)
	assert.NotNil(t, s.Summarizer)
	assert.Equal(t, "It broke.", s.Phrases.PhraseFor(domain.StatusFailed, "deploy"))
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	c, err := Load(filepath.Join("..", "..", "..", "config.example.yaml"))
	require.NoError(t, err)

	rs, err := c.RuleSet()
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Len())

	_, err = c.ComposePolicy()
	require.NoError(t, err)

	_, variants, err := c.PhraseTables()
	require.NoError(t, err)
	assert.Len(t, variants, 2)
}
