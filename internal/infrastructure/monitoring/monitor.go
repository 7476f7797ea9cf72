package monitoring

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"ofbconnect/internal/infrastructure/certstore"
	"ofbconnect/internal/shared/apperr"
)

const (
	defaultWindow = 5 * time.Minute
	// degradedErrorRate is the share of failed calls in the window above which
	// the integration reports degraded.
	degradedErrorRate = 0.25
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type callEvent struct {
	at   time.Time
	kind string
}

// Monitor records bank calls, exports them as Prometheus metrics and keeps a
// sliding window for the health endpoint. Banks that fail with a certificate
// error are halted until Resume is called.
type Monitor struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	events []callEvent
	halted map[string]string

	calls    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	haltedG  prometheus.Gauge
}

// NewMonitor creates a monitor and registers its metrics on reg when non-nil.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		window: defaultWindow,
		now:    time.Now,
		halted: make(map[string]string),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ofb_bank_calls_total",
			Help: "Total number of bank API calls.",
		}, []string{"bank", "operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ofb_bank_errors_total",
			Help: "Total number of failed bank API calls by error kind.",
		}, []string{"bank", "operation", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ofb_bank_call_duration_seconds",
			Help:    "Duration of bank API calls including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"bank", "operation"}),
		haltedG: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ofb_banks_halted",
			Help: "Number of banks halted by certificate errors.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.calls, m.failures, m.duration, m.haltedG} {
			if err := reg.Register(c); err != nil {
				log.Warn().Err(err).Msg("Failed to register bank metric")
			}
		}
	}
	return m
}

// RecordCall records the outcome of one bank operation. A certificate error halts the bank.
func (m *Monitor) RecordCall(bankCode, operation string, d time.Duration, err error) {
	m.calls.WithLabelValues(bankCode, operation).Inc()
	m.duration.WithLabelValues(bankCode, operation).Observe(d.Seconds())

	kind := ""
	if err != nil {
		kind = apperr.Kind(err)
		m.failures.WithLabelValues(bankCode, operation, kind).Inc()
	}

	m.mu.Lock()
	now := m.now()
	m.events = append(m.prune(now), callEvent{at: now, kind: kind})
	m.mu.Unlock()

	if err == nil {
		return
	}
	apiErr, _ := apperr.AsBankAPIError(err)
	event := log.Warn()
	if apiErr != nil && apiErr.Kind == apperr.KindCertificate {
		event = log.Error()
		m.Halt(bankCode, err.Error())
	}
	event.Err(err).
		Str("bank_code", bankCode).
		Str("operation", operation).
		Str("kind", kind).
		Msg("Bank call failed")
}

// prune drops events older than the window. Callers hold mu.
func (m *Monitor) prune(now time.Time) []callEvent {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.events) && m.events[i].at.Before(cutoff) {
		i++
	}
	return m.events[i:]
}

// Halt stops further calls to bankCode until Resume.
func (m *Monitor) Halt(bankCode, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.halted[bankCode]; ok {
		return
	}
	m.halted[bankCode] = reason
	m.haltedG.Set(float64(len(m.halted)))
	log.Error().Str("bank_code", bankCode).Str("reason", reason).Msg("Bank halted until an operator resumes it")
}

// Resume clears a halt.
func (m *Monitor) Resume(bankCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.halted, bankCode)
	m.haltedG.Set(float64(len(m.halted)))
}

// CheckHalted returns a certificate error when bankCode is halted.
func (m *Monitor) CheckHalted(bankCode string) error {
	m.mu.Lock()
	reason, ok := m.halted[bankCode]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return &apperr.BankAPIError{
		Kind:     apperr.KindCertificate,
		BankCode: bankCode,
		Detail:   fmt.Sprintf("bank halted after certificate error: %s", reason),
	}
}

// Stats summarizes the calls seen in the current window.
type Stats struct {
	Window       string         `json:"window"`
	Calls        int            `json:"recent_calls"`
	Errors       int            `json:"recent_errors"`
	ErrorRate    float64        `json:"error_rate"`
	ErrorsByKind map[string]int `json:"errors_by_kind"`
	HaltedBanks  []string       `json:"halted_banks"`
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = m.prune(m.now())

	s := Stats{
		Window:       m.window.String(),
		Calls:        len(m.events),
		ErrorsByKind: make(map[string]int),
		HaltedBanks:  []string{},
	}
	for _, e := range m.events {
		if e.kind != "" {
			s.Errors++
			s.ErrorsByKind[e.kind]++
		}
	}
	if s.Calls > 0 {
		s.ErrorRate = float64(s.Errors) / float64(s.Calls)
	}
	for bank := range m.halted {
		s.HaltedBanks = append(s.HaltedBanks, bank)
	}
	slices.Sort(s.HaltedBanks)
	return s
}

// HealthReport is the aggregate integration health.
type HealthReport struct {
	Status       string           `json:"status"`
	Initialized  bool             `json:"initialized"`
	Certificates []certstore.Info `json:"certificates"`
	Stats
	Problems  []string  `json:"problems,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health combines certificate state with the recent error rate. Any expired
// certificate or halted bank is unhealthy; an expiring certificate or an error
// rate above 25% is degraded.
func (m *Monitor) Health(certs []certstore.Info, initialized bool) HealthReport {
	if certs == nil {
		certs = []certstore.Info{}
	}
	r := HealthReport{
		Status:       StatusHealthy,
		Initialized:  initialized,
		Certificates: certs,
		Stats:        m.Stats(),
		Timestamp:    m.now().UTC(),
	}

	degrade := func(problem string) {
		r.Problems = append(r.Problems, problem)
		if r.Status == StatusHealthy {
			r.Status = StatusDegraded
		}
	}
	fail := func(problem string) {
		r.Problems = append(r.Problems, problem)
		r.Status = StatusUnhealthy
	}

	for _, c := range certs {
		switch c.Status {
		case certstore.StatusExpired:
			fail(c.Name + " certificate expired")
		case certstore.StatusExpiring:
			degrade(fmt.Sprintf("%s certificate expires in %d days", c.Name, c.DaysRemaining))
		}
	}
	if len(r.HaltedBanks) > 0 {
		fail("halted banks: " + strings.Join(r.HaltedBanks, ", "))
	}
	if r.ErrorRate > degradedErrorRate {
		degrade(fmt.Sprintf("error rate %.0f%% over %s", r.ErrorRate*100, r.Window))
	}
	if !initialized {
		degrade("certificates not loaded")
	}
	return r
}
