package application

import (
	"testing"

	"github.com/davarch/gocd-notifier/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testVariants() []Variant {
	return []Variant{{
		Pipeline: "deployTestpit",
		Phrases: map[domain.Status][]string{
			domain.StatusBuilding:  {"Testpit deploy started."},
			domain.StatusPassed:    {"Testpit deploy finished.", "Testpit deploy went through."},
			domain.StatusFixed:     {"Testpit deploy finished."},
			domain.StatusFailed:    {"Testpit deploy failed."},
			domain.StatusBroken:    {"Testpit deploy broke."},
			domain.StatusCancelled: {"Testpit deploy cancelled."},
		},
		Footers: map[domain.Status]Footer{
			domain.StatusPassed: {Text: "Reattach busy devices.", IconURL: "https://example.com/warn.png"},
		},
	}}
}

func TestPhraseFor_NeverEmptyForDefinedPools(t *testing.T) {
	bank := NewPhraseBank(NewSeededRandom(7), DefaultPhrases(), testVariants())

	for _, pipeline := range []string{"build", "deployTestpit"} {
		for _, s := range domain.Statuses {
			for i := 0; i < 20; i++ {
				got := bank.PhraseFor(s, pipeline)
				assert.NotEmpty(t, got, "%s/%s", pipeline, s)
				assert.Contains(t, bank.pool(s, pipeline), got)
			}
		}
	}
}

func TestPhraseFor_InjectedSourceIsDeterministic(t *testing.T) {
	bank := NewPhraseBank(domain.FixedRandom{Index: 1}, DefaultPhrases(), nil)
	assert.Equal(t, "No miracle this time.", bank.PhraseFor(domain.StatusFailed, "build"))

	a := NewPhraseBank(NewSeededRandom(42), DefaultPhrases(), nil)
	b := NewPhraseBank(NewSeededRandom(42), DefaultPhrases(), nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.PhraseFor(domain.StatusFailed, "x"), b.PhraseFor(domain.StatusFailed, "x"))
	}
}

func TestPhraseFor_SingletonPool(t *testing.T) {
	bank := NewPhraseBank(domain.FixedRandom{Index: 5}, DefaultPhrases(), nil)
	assert.Equal(t, "Deploy started.", bank.PhraseFor(domain.StatusBuilding, "x"))
}

func TestPhraseFor_VariantFallsBackToStandard(t *testing.T) {
	v := Variant{Pipeline: "deployLAN", Phrases: map[domain.Status][]string{
		domain.StatusPassed: {"LAN deployed."},
	}}
	bank := NewPhraseBank(domain.FixedRandom{}, DefaultPhrases(), []Variant{v})

	assert.Equal(t, "LAN deployed.", bank.PhraseFor(domain.StatusPassed, "deployLAN"))
	assert.Equal(t, "Deploy cancelled.", bank.PhraseFor(domain.StatusCancelled, "deployLAN"))
}

func TestPhraseFor_MissingPoolIsEmpty(t *testing.T) {
	bank := NewPhraseBank(nil, map[domain.Status][]string{}, nil)
	assert.Equal(t, "", bank.PhraseFor(domain.StatusPassed, "x"))
}

func TestFooterFor(t *testing.T) {
	bank := NewPhraseBank(nil, DefaultPhrases(), testVariants())

	f, ok := bank.FooterFor(domain.StatusPassed, "deployTestpit")
	assert.True(t, ok)
	assert.Equal(t, "Reattach busy devices.", f.Text)

	_, ok = bank.FooterFor(domain.StatusFailed, "deployTestpit")
	assert.False(t, ok)
	_, ok = bank.FooterFor(domain.StatusPassed, "other")
	assert.False(t, ok)
}

func TestDefaultPhrases_FixedReusesPassed(t *testing.T) {
	p := DefaultPhrases()
	assert.Equal(t, p[domain.StatusPassed], p[domain.StatusFixed])
	for _, s := range domain.Statuses {
		assert.NotEmpty(t, p[s], s)
	}
}
