package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/newsletter-service/internal/domain"
)

// Prometheus records newsletter delivery metrics.
// It satisfies both ports.DeliveryMetrics and email.Metrics.
type Prometheus struct {
	gateDecisions *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	emailsSent    prometheus.Counter
	emailsSkipped prometheus.Counter
	providerSends *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewPrometheus registers the collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_idempotency_decisions_total",
			Help: "Idempotency gate decisions for publish attempts",
		}, []string{"decision"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Completed fan-out runs grouped by terminal status",
		}, []string{"status"}),
		emailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_emails_sent_total",
			Help: "Emails accepted by the provider during fan-out",
		}),
		emailsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_subscribers_skipped_total",
			Help: "Confirmed subscribers skipped because their stored address is invalid",
		}),
		// outcome is success, timeout, rejected or network
		providerSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_provider_requests_total",
			Help: "Email provider requests grouped by outcome",
		}, []string{"outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(
		p.gateDecisions,
		p.deliveries,
		p.emailsSent,
		p.emailsSkipped,
		p.providerSends,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveGate(outcome domain.GateOutcome) {
	p.gateDecisions.WithLabelValues(outcome.String()).Inc()
}

func (p *Prometheus) ObserveSkipped() { p.emailsSkipped.Inc() }

func (p *Prometheus) ObserveSent() { p.emailsSent.Inc() }

func (p *Prometheus) ObserveDelivery(status domain.DeliveryStatus) {
	p.deliveries.WithLabelValues(string(status)).Inc()
}

func (p *Prometheus) ObserveSend(outcome string) {
	p.providerSends.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
