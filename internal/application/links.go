package application

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/davarch/gocd-notifier/internal/domain"
)

type LinkBuilder struct {
	host string
}

func NewLinkBuilder(host string) *LinkBuilder {
	return &LinkBuilder{host: host}
}

// BuildLinks renders one "view logs" link per job of stage, in job order.
// Building points at the live console tab, everything else at the archived log.
func (b *LinkBuilder) BuildLinks(p domain.PipelineDetails, stage domain.Stage, s domain.Status) ([]string, error) {
	base, err := b.base()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(stage.Jobs))
	for _, job := range stage.JobNames() {
		segs := []string{
			url.PathEscape(p.Name),
			strconv.FormatInt(p.Counter, 10),
			url.PathEscape(stage.Name),
			strconv.FormatInt(stage.Counter, 10),
			url.PathEscape(job),
		}

		var raw string
		if s == domain.StatusBuilding {
			raw = base + "/go/tab/build/detail/" + strings.Join(segs, "/") + "#tab-console"
		} else {
			raw = base + "/go/files/" + strings.Join(segs, "/") + "/cruise-output/console.log"
		}

		u, err := url.Parse(raw)
		if err != nil {
			return nil, &domain.LinkConstructionError{Host: b.host, Job: job, Err: err}
		}
		out = append(out, fmt.Sprintf("<%s| View %s logs>", u.String(), job))
	}
	return out, nil
}

func (b *LinkBuilder) base() (string, error) {
	u, err := url.Parse(strings.TrimSpace(b.host))
	if err != nil {
		return "", &domain.LinkConstructionError{Host: b.host, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &domain.LinkConstructionError{Host: b.host, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", &domain.LinkConstructionError{Host: b.host, Err: errors.New("missing host")}
	}
	u.RawQuery, u.Fragment = "", ""
	return strings.TrimRight(u.String(), "/"), nil
}
