package metrics_prom

import (
	"net/http"

	"github.com/davarch/gocd-notifier/internal/domain"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts dispatch outcomes and degraded message phases.
type Recorder struct {
	reg      *prom.Registry
	dispatch *prom.CounterVec
	degraded *prom.CounterVec
}

func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		dispatch: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gocd_notifier",
			Name:      "dispatch_total",
			Help:      "Notifications dispatched by status and outcome",
		}, []string{"status", "outcome"}),
		degraded: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gocd_notifier",
			Name:      "degraded_total",
			Help:      "Messages sent with a degraded phase",
		}, []string{"phase"}),
	}
	reg.MustRegister(r.dispatch, r.degraded)
	return r
}

func (r *Recorder) IncDispatch(s domain.Status, outcome string) {
	r.dispatch.WithLabelValues(string(s), outcome).Inc()
}

func (r *Recorder) IncDegraded(phase string) {
	r.degraded.WithLabelValues(phase).Inc()
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
