package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
)

// AuthMetrics exposes Prometheus collectors for the authentication core.
type AuthMetrics struct {
	Logins        *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Lockouts      prometheus.Counter
	TokenReuse    prometheus.Counter
	AuditFailures *prometheus.CounterVec
}

// NewAuthMetrics registers the collectors with reg, reusing collectors that
// are already registered under the same names.
func NewAuthMetrics(reg prometheus.Registerer, namespace string) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "somnium"
	}

	m := &AuthMetrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"outcome"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Refresh token rotations partitioned by outcome.",
		}, []string{"outcome"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "User creations partitioned by outcome.",
		}, []string{"outcome"}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after repeated failed logins.",
		}),
		TokenReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_token_reuse_total",
			Help:      "Presentations of revoked or unknown refresh tokens.",
		}),
		AuditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "sink_failures_total",
			Help:      "Audit entries a sink failed to record.",
		}, []string{"sink"}),
	}

	var err error
	if m.Logins, err = Register(reg, m.Logins); err != nil {
		return nil, err
	}
	if m.Refreshes, err = Register(reg, m.Refreshes); err != nil {
		return nil, err
	}
	if m.Registrations, err = Register(reg, m.Registrations); err != nil {
		return nil, err
	}
	if m.AuditFailures, err = Register(reg, m.AuditFailures); err != nil {
		return nil, err
	}
	if m.Lockouts, err = Register(reg, m.Lockouts); err != nil {
		return nil, err
	}
	if m.TokenReuse, err = Register(reg, m.TokenReuse); err != nil {
		return nil, err
	}

	return m, nil
}

// Register registers c with reg. When an identical collector is already
// registered the existing one is returned so repeated construction shares series.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveLogin counts a login attempt.
func (m *AuthMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

// ObserveRefresh counts a refresh attempt.
func (m *AuthMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

// ObserveRegistration counts a user creation attempt.
func (m *AuthMetrics) ObserveRegistration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

func (m *AuthMetrics) ObserveTokenReuse() {
	if m == nil {
		return
	}
	m.TokenReuse.Inc()
}

// ObserveAuditFailure counts an audit write that a sink rejected.
func (m *AuthMetrics) ObserveAuditFailure(sink string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(sink).Inc()
}

var _ port.AuthMetrics = (*AuthMetrics)(nil)
