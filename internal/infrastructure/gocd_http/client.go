package gocd_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/gocd-notifier/internal/domain"
	"golang.org/x/sync/singleflight"
)

// maxUpstreamDepth bounds the walk through upstream pipeline materials.
const maxUpstreamDepth = 5

// eventMemoTTL is how long the instance fetched for an event is reused. It
// covers the details and changes lookups of one dispatch.
const eventMemoTTL = 30 * time.Second

type Auth struct {
	Login    string
	Password string
	Token    string
}

type Client struct {
	baseUrl string
	auth    Auth
	hc      *http.Client
	retry   func() backoff.BackOff

	now    func() time.Time
	flight singleflight.Group
	mu     sync.Mutex
	memo   map[string]memoEntry
}

type memoEntry struct {
	p  pipelineDTO
	at time.Time
}

func New(baseUrl string, auth Auth, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		auth:    auth,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
		retry: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 300 * time.Millisecond
			bo.MaxInterval = 2 * time.Second
			bo.MaxElapsedTime = 5 * time.Second
			return bo
		},
		now:  time.Now,
		memo: make(map[string]memoEntry),
	}
}

// counter accepts both numeric and string encodings; GoCD uses both.
type counter int64

func (c *counter) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("counter %s: %w", b, err)
	}
	*c = counter(n)
	return nil
}

type jobDTO struct {
	Name string `json:"name"`
}

type stageDTO struct {
	Name       string   `json:"name"`
	Counter    counter  `json:"counter"`
	ApprovedBy string   `json:"approved_by"`
	Jobs       []jobDTO `json:"jobs"`
}

type modificationDTO struct {
	Revision string `json:"revision"`
	UserName string `json:"user_name"`
	Comment  string `json:"comment"`
}

type materialDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

type materialRevisionDTO struct {
	Changed       bool              `json:"changed"`
	Material      materialDTO       `json:"material"`
	Modifications []modificationDTO `json:"modifications"`
}

type pipelineDTO struct {
	Name       string     `json:"name"`
	Counter    counter    `json:"counter"`
	Label      string     `json:"label"`
	Stages     []stageDTO `json:"stages"`
	BuildCause struct {
		MaterialRevisions []materialRevisionDTO `json:"material_revisions"`
	} `json:"build_cause"`
}

func (c *Client) FetchDetails(ctx context.Context, ev domain.PipelineEvent) (domain.PipelineDetails, error) {
	p, err := c.eventInstance(ctx, ev)
	if err != nil {
		return domain.PipelineDetails{}, err
	}
	return toDetails(p), nil
}

// FetchChanges returns the changed materials that caused the run, following
// upstream pipeline materials down to their own source changes.
func (c *Client) FetchChanges(ctx context.Context, ev domain.PipelineEvent) ([]domain.MaterialRevision, error) {
	p, err := c.eventInstance(ctx, ev)
	if err != nil {
		return nil, err
	}
	return c.rootChanges(ctx, p, 0)
}

func (c *Client) rootChanges(ctx context.Context, p pipelineDTO, depth int) ([]domain.MaterialRevision, error) {
	var out []domain.MaterialRevision
	for _, mr := range p.BuildCause.MaterialRevisions {
		if !mr.Changed {
			continue
		}

		if strings.EqualFold(mr.Material.Type, "Pipeline") && depth < maxUpstreamDepth {
			for _, mod := range mr.Modifications {
				name, num, ok := parseUpstream(mod.Revision)
				if !ok {
					continue
				}
				up, err := c.instance(ctx, name, num)
				if err != nil {
					return nil, fmt.Errorf("upstream %s/%d: %w", name, num, err)
				}
				nested, err := c.rootChanges(ctx, up, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, nested...)
			}
			continue
		}

		out = append(out, toRevision(mr))
	}
	return out, nil
}

// eventInstance fetches the instance ev refers to once per event. The key
// includes stage and status, so the next stage event of the same run
// sees fresh data. Failures are not remembered.
func (c *Client) eventInstance(ctx context.Context, ev domain.PipelineEvent) (pipelineDTO, error) {
	key := fmt.Sprintf("%s/%d/%s/%s", ev.Pipeline, ev.Counter, ev.Stage, ev.Status)

	c.mu.Lock()
	e, ok := c.memo[key]
	c.mu.Unlock()
	if ok && c.now().Sub(e.at) < eventMemoTTL {
		return e.p, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		p, err := c.instance(ctx, ev.Pipeline, ev.Counter)
		if err != nil {
			return nil, err
		}
		c.remember(key, p)
		return p, nil
	})
	if err != nil {
		return pipelineDTO{}, err
	}
	return v.(pipelineDTO), nil
}

func (c *Client) remember(key string, p pipelineDTO) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.memo {
		if now.Sub(e.at) >= eventMemoTTL {
			delete(c.memo, k)
		}
	}
	c.memo[key] = memoEntry{p: p, at: now}
}

func (c *Client) instance(ctx context.Context, name string, num int64) (pipelineDTO, error) {
	var out pipelineDTO

	op := func() error {
		u := fmt.Sprintf("%s/go/api/pipelines/%s/%d", c.baseUrl, url.PathEscape(name), num)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.go.cd.v1+json")
		c.authorize(req)

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%w: %s/%d", domain.ErrDetailsNotFound, name, num))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("gocd %s", resp.Status)
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("gocd %s", resp.Status))
		}

		var p pipelineDTO
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return backoff.Permanent(fmt.Errorf("decode pipeline %s/%d: %w", name, num, err))
		}
		out = p
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.retry(), ctx)); err != nil {
		return pipelineDTO{}, err
	}
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.auth.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	case c.auth.Login != "":
		req.SetBasicAuth(c.auth.Login, c.auth.Password)
	}
}

func toDetails(p pipelineDTO) domain.PipelineDetails {
	d := domain.PipelineDetails{Name: p.Name, Counter: int64(p.Counter), Label: p.Label}
	for _, s := range p.Stages {
		st := domain.Stage{Name: s.Name, Counter: int64(s.Counter), ApprovedBy: s.ApprovedBy}
		for _, j := range s.Jobs {
			st.Jobs = append(st.Jobs, domain.Job{Name: j.Name})
		}
		d.Stages = append(d.Stages, st)
	}
	return d
}

func toRevision(mr materialRevisionDTO) domain.MaterialRevision {
	m := domain.Material{Name: mr.Material.Name, Description: mr.Material.Description, Type: mr.Material.Type}
	rev := domain.MaterialRevision{Material: m}
	for _, mod := range mr.Modifications {
		rev.Modifications = append(rev.Modifications, domain.Modification{
			Revision: mod.Revision,
			Author:   mod.UserName,
			Comment:  mod.Comment,
			URL:      modificationURL(m, mod.Revision),
		})
	}
	return rev
}

var githubRepo = regexp.MustCompile(`github\.com[/:]([\w.-]+)/([\w.-]+?)(?:\.git)?(?:[,\s/]|$)`)

// modificationURL links Git revisions hosted on GitHub to their commit page.
func modificationURL(m domain.Material, revision string) string {
	if !strings.EqualFold(m.Type, "Git") || revision == "" {
		return ""
	}
	sm := githubRepo.FindStringSubmatch(m.Description)
	if sm == nil {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/%s/commit/%s", sm[1], sm[2], revision)
}

// parseUpstream splits a pipeline material revision "name/counter/stage/stageCounter".
func parseUpstream(rev string) (string, int64, bool) {
	parts := strings.Split(rev, "/")
	if len(parts) < 2 {
		return "", 0, false
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}
