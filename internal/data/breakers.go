package data

import (
	"RelayLane/internal/conf"
	"RelayLane/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// Names of the breakers guarding Redis-backed repositories.
const (
	eventStoreBreakerName   = "event-store"
	sessionStoreBreakerName = "session-store"
)

// NewBreakerRegistry creates the circuit breaker registry shared by the data
// layer and the admin surface. Individual repositories create their named
// breakers from it on construction.
func NewBreakerRegistry(logger log.Logger) *breaker.Registry {
	return breaker.NewRegistry(logger)
}

// breakerConfig translates the bootstrap breaker section into a breaker
// Config. Nil config falls back to package defaults.
func breakerConfig(c *conf.Breaker) breaker.Config {
	if c == nil {
		return breaker.DefaultConfig()
	}

	cfg := breaker.Config{
		FailureThreshold: int(c.FailureThreshold),
		SuccessThreshold: int(c.SuccessThreshold),
		ErrorRatePercent: c.ErrorRatePercent,
		VolumeThreshold:  int(c.VolumeThreshold),
		CacheSize:        int(c.CacheSize),
	}
	if c.MinimumRequests > 0 {
		cfg.MinimumRequests = uint64(c.MinimumRequests)
	}
	if c.MonitoringWindow != nil {
		cfg.MonitoringWindow = c.MonitoringWindow.AsDuration()
	}
	if c.RecoveryTimeout != nil {
		cfg.RecoveryTimeout = c.RecoveryTimeout.AsDuration()
	}
	if c.ExecutionTimeout != nil {
		cfg.ExecutionTimeout = c.ExecutionTimeout.AsDuration()
	}
	if c.CacheTtl != nil {
		cfg.CacheTTL = c.CacheTtl.AsDuration()
	}
	return cfg
}
