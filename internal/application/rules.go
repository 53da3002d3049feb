package application

import (
	"fmt"
	"regexp"
	"regexp/syntax"

	"github.com/davarch/gocd-notifier/internal/domain"
)

type MatchPolicy string

const (
	MatchFirst        MatchPolicy = "first"
	MatchMostSpecific MatchPolicy = "most-specific"
)

type compiledRule struct {
	rule     domain.Rule
	pipeline *regexp.Regexp
	stage    *regexp.Regexp
	group    *regexp.Regexp
	rank     specificity
}

// specificity orders matching rules under MatchMostSpecific. Fields compare in
// declaration order: an exact pipeline name beats any pattern, then the rule
// that pins more literal characters wins, then the one with more filters.
type specificity struct {
	exact    bool
	literals int
	filters  int
}

func (a specificity) beats(b specificity) bool {
	if a.exact != b.exact {
		return a.exact
	}
	if a.literals != b.literals {
		return a.literals > b.literals
	}
	return a.filters > b.filters
}

// RuleSet is an immutable, precompiled set of rules plus the fallback rule.
type RuleSet struct {
	policy   MatchPolicy
	rules    []compiledRule
	fallback domain.Rule
}

func NewRuleSet(rules []domain.Rule, fallback domain.Rule, policy MatchPolicy) (*RuleSet, error) {
	if policy == "" {
		policy = MatchFirst
	}
	if policy != MatchFirst && policy != MatchMostSpecific {
		return nil, fmt.Errorf("unknown rule match policy %q", policy)
	}

	rs := &RuleSet{policy: policy, fallback: fallback}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		cr := compiledRule{rule: r}
		var err error
		if cr.pipeline, err = compileAnchored(r.PipelinePattern); err != nil {
			return nil, fmt.Errorf("rule %q pipeline pattern: %w", r.Name, err)
		}
		if cr.stage, err = compileAnchored(r.StagePattern); err != nil {
			return nil, fmt.Errorf("rule %q stage pattern: %w", r.Name, err)
		}
		if cr.group, err = compileAnchored(r.GroupPattern); err != nil {
			return nil, fmt.Errorf("rule %q group pattern: %w", r.Name, err)
		}
		cr.rank = rankRule(r)
		rs.rules = append(rs.rules, cr)
	}
	return rs, nil
}

func compileAnchored(p string) (*regexp.Regexp, error) {
	if p == "" {
		return nil, nil
	}
	return regexp.Compile("^(?:" + p + ")$")
}

// Len reports the number of enabled rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

func (rs *RuleSet) Fallback() domain.Rule { return rs.fallback }

// Match finds the rule for ev without falling back.
func (rs *RuleSet) Match(ev domain.PipelineEvent) (domain.Rule, error) {
	best := -1
	for i, cr := range rs.rules {
		if !cr.matches(ev) {
			continue
		}
		if rs.policy == MatchFirst {
			return cr.rule, nil
		}
		// Ties keep declaration order.
		if best < 0 || cr.rank.beats(rs.rules[best].rank) {
			best = i
		}
	}
	if best < 0 {
		return domain.Rule{}, fmt.Errorf("%w %q", domain.ErrRuleNotFound, ev.Pipeline)
	}
	return rs.rules[best].rule, nil
}

// Resolve is Match with the fallback rule substituted for ErrRuleNotFound.
func (rs *RuleSet) Resolve(ev domain.PipelineEvent) (domain.Rule, bool) {
	r, err := rs.Match(ev)
	if err != nil {
		return rs.fallback, false
	}
	return r, true
}

func (cr compiledRule) matches(ev domain.PipelineEvent) bool {
	if cr.pipeline != nil && !cr.pipeline.MatchString(ev.Pipeline) {
		return false
	}
	if cr.stage != nil && !cr.stage.MatchString(ev.Stage) {
		return false
	}
	if cr.group != nil && !cr.group.MatchString(ev.Group) {
		return false
	}
	if len(cr.rule.Statuses) == 0 {
		return true
	}
	for _, s := range cr.rule.Statuses {
		if s == ev.Status {
			return true
		}
	}
	return false
}

func rankRule(r domain.Rule) specificity {
	rank := specificity{
		exact:    r.PipelinePattern != "" && regexp.QuoteMeta(r.PipelinePattern) == r.PipelinePattern,
		literals: literalWeight(r.PipelinePattern) + literalWeight(r.StagePattern) + literalWeight(r.GroupPattern),
	}
	for _, set := range []bool{r.StagePattern != "", r.GroupPattern != "", len(r.Statuses) > 0} {
		if set {
			rank.filters++
		}
	}
	return rank
}

// literalWeight counts the characters every match of p must contain, so
// "deploy.*" weighs 6 and ".*" weighs 0. Alternations count their weakest branch.
func literalWeight(p string) int {
	if p == "" {
		return 0
	}
	re, err := syntax.Parse(p, syntax.Perl)
	if err != nil {
		return 0
	}
	return nodeWeight(re.Simplify())
}

func nodeWeight(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpLiteral:
		return len(re.Rune)
	case syntax.OpCapture, syntax.OpPlus:
		return nodeWeight(re.Sub[0])
	case syntax.OpRepeat:
		return re.Min * nodeWeight(re.Sub[0])
	case syntax.OpConcat:
		n := 0
		for _, sub := range re.Sub {
			n += nodeWeight(sub)
		}
		return n
	case syntax.OpAlternate:
		n := -1
		for _, sub := range re.Sub {
			if w := nodeWeight(sub); n < 0 || w < n {
				n = w
			}
		}
		return max(n, 0)
	}
	return 0
}
