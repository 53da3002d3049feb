package application

import (
	"math/rand/v2"
	"sync"

	"github.com/davarch/gocd-notifier/internal/domain"
)

type Footer struct {
	Text    string
	IconURL string
}

// Variant overrides phrases and footers for one pipeline, matched by exact name.
type Variant struct {
	Pipeline string
	Phrases  map[domain.Status][]string
	Footers  map[domain.Status]Footer
}

// PhraseBank maps a status to candidate titles. Lookups go to the pipeline's
// variant first and then to the standard pool; a status with no pool yields "".
type PhraseBank struct {
	rnd      domain.RandomSource
	standard map[domain.Status][]string
	variants map[string]Variant
}

func NewPhraseBank(rnd domain.RandomSource, standard map[domain.Status][]string, variants []Variant) *PhraseBank {
	if rnd == nil {
		rnd = globalRandom{}
	}
	b := &PhraseBank{
		rnd:      rnd,
		standard: standard,
		variants: make(map[string]Variant, len(variants)),
	}
	for _, v := range variants {
		b.variants[v.Pipeline] = v
	}
	return b
}

func DefaultPhrases() map[domain.Status][]string {
	// Deploys are often cancelled by hand, so fixed reuses the passed wording.
	passed := []string{"Deploy is done.", "Deploy finished. Thanks, everyone."}
	return map[domain.Status][]string{
		domain.StatusBuilding:  {"Deploy started."},
		domain.StatusPassed:    passed,
		domain.StatusFixed:     passed,
		domain.StatusFailed:    {"Deploy failed.", "No miracle this time.", "Everything is lost."},
		domain.StatusBroken:    {"Everything broke."},
		domain.StatusCancelled: {"Deploy cancelled."},
	}
}

func (b *PhraseBank) PhraseFor(s domain.Status, pipeline string) string {
	pool := b.pool(s, pipeline)
	switch len(pool) {
	case 0:
		return ""
	case 1:
		return pool[0]
	}
	return pool[b.rnd.IntN(len(pool))]
}

func (b *PhraseBank) pool(s domain.Status, pipeline string) []string {
	if v, ok := b.variants[pipeline]; ok {
		if p := v.Phrases[s]; len(p) > 0 {
			return p
		}
	}
	return b.standard[s]
}

func (b *PhraseBank) FooterFor(s domain.Status, pipeline string) (Footer, bool) {
	v, ok := b.variants[pipeline]
	if !ok {
		return Footer{}, false
	}
	f, ok := v.Footers[s]
	if !ok || f.Text == "" {
		return Footer{}, false
	}
	return f, true
}

type globalRandom struct{}

func (globalRandom) IntN(n int) int { return rand.IntN(n) }

// LockedRandom is a seeded source safe for concurrent use.
type LockedRandom struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewSeededRandom(seed uint64) *LockedRandom {
	return &LockedRandom{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *LockedRandom) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}
