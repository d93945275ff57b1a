package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"storage-gateway/internal/domain"
)

// Metrics reúne os instrumentos Prometheus do gateway.
// Passado aos componentes que registram medições.
type Metrics struct {
	Decisions         *prometheus.CounterVec
	CheckDuration     *prometheus.HistogramVec
	StoreErrors       *prometheus.CounterVec
	CooldownsExpired  prometheus.Counter
	FallbackDecisions *prometheus.CounterVec
}

// New cria e registra todas as métricas no registry informado
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "admission_decisions_total",
				Help:      "Total admission decisions by outcome",
			},
			[]string{"outcome", "kind"}, // outcome=allowed/limited/banned, kind=ip/key
		),
		CheckDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "admission_check_duration_seconds",
				Help:      "Admission check duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		StoreErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "admission_store_errors_total",
				Help:      "Total admission store failures by kind",
			},
			[]string{"kind"}, // kind=unavailable/procedure_fault/malformed_record
		),
		CooldownsExpired: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "admission_cooldowns_expired_total",
				Help:      "Total limiter cooldown episodes that ended",
			},
		),
		FallbackDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "admission_fallback_decisions_total",
				Help:      "Total decisions taken by the local fallback limiter",
			},
			[]string{"outcome"}, // outcome=allowed/rejected
		),
	}
}

// ErrorKind traduz um erro do storage para o rótulo da métrica de falhas
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrProcedureFault):
		return "procedure_fault"
	case errors.Is(err, domain.ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}
