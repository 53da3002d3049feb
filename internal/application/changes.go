package application

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davarch/gocd-notifier/internal/domain"
)

const (
	shortRevisionLen   = 6
	changesPlaceholder = "(Couldn't fetch changes; see log.)"
)

type ChangePolicy struct {
	// ExcludeMaterials are material names that are never surfaced.
	ExcludeMaterials []string
	// VerbatimAuthors mark modifications whose revision is kept whole and
	// whose comment is a JSON object, e.g. the S3 artifact poller.
	VerbatimAuthors    []string
	VerbatimCommentKey string
}

func DefaultChangePolicy() ChangePolicy {
	return ChangePolicy{
		VerbatimAuthors:    []string{"S3"},
		VerbatimCommentKey: "COMMENT",
	}
}

type ChangeSummarizer struct {
	exclude  map[string]struct{}
	verbatim map[string]struct{}
	key      string
}

func NewChangeSummarizer(p ChangePolicy) *ChangeSummarizer {
	cs := &ChangeSummarizer{
		exclude:  toSet(p.ExcludeMaterials),
		verbatim: toSet(p.VerbatimAuthors),
		key:      p.VerbatimCommentKey,
	}
	if cs.key == "" {
		cs.key = "COMMENT"
	}
	return cs
}

// Summarize returns one "Changes for <material>" field per surfaced material.
func (cs *ChangeSummarizer) Summarize(revs []domain.MaterialRevision) ([]domain.Field, error) {
	var fields []domain.Field
	for _, rev := range revs {
		name := rev.Material.DisplayName()
		if _, skip := cs.exclude[name]; skip {
			continue
		}

		lines := make([]string, 0, len(rev.Modifications))
		for _, mod := range rev.Modifications {
			line, err := cs.line(mod)
			if err != nil {
				return nil, fmt.Errorf("material %q revision %q: %w", name, mod.Revision, err)
			}
			lines = append(lines, line)
		}

		fields = append(fields, domain.Field{
			Name:  "Changes for " + name,
			Value: strings.Join(lines, "\n"),
		})
	}
	return fields, nil
}

func (cs *ChangeSummarizer) line(mod domain.Modification) (string, error) {
	_, verbatim := cs.verbatim[mod.Author]

	var sb strings.Builder
	rev := mod.Revision
	if !verbatim {
		rev = shortRevision(rev)
	}
	switch {
	case mod.URL != "":
		sb.WriteString("<" + mod.URL + "|" + rev + ">: ")
	case rev != "":
		sb.WriteString(rev + ": ")
	}

	if verbatim {
		comment, err := cs.structuredComment(mod.Comment)
		if err != nil {
			return "", err
		}
		sb.WriteString(comment)
		return sb.String(), nil
	}

	sb.WriteString(SummarizeComment(mod.Comment))
	if mod.Author != "" {
		sb.WriteString(" - " + mod.Author)
	}
	return sb.String(), nil
}

func (cs *ChangeSummarizer) structuredComment(raw string) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("parse structured comment: %w", err)
	}
	v, ok := payload[cs.key].(string)
	if !ok {
		return "", fmt.Errorf("structured comment has no string %q", cs.key)
	}
	return v, nil
}

// SummarizeComment keeps the first line of a commit message.
func SummarizeComment(c string) string {
	c = strings.TrimSpace(c)
	if i := strings.IndexAny(c, "\r\n"); i >= 0 {
		return strings.TrimSpace(c[:i])
	}
	return c
}

func shortRevision(r string) string {
	if len(r) <= shortRevisionLen {
		return r
	}
	return r[:shortRevisionLen]
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func changesFailedField() domain.Field {
	return domain.Field{Name: "Changes", Value: changesPlaceholder, Short: true}
}
