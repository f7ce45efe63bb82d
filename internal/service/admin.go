// Package service implements the HTTP-facing service layer.
package service

import (
	"context"
	"fmt"

	"RelayLane/pkg/breaker"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// AdminService exposes the circuit breaker registry to the admin surface:
// per-breaker stats, the healthy/unhealthy partition, and manual overrides.
type AdminService struct {
	registry *breaker.Registry
	logger   *log.Helper
}

// NewAdminService creates a new admin service.
func NewAdminService(registry *breaker.Registry, logger log.Logger) *AdminService {
	return &AdminService{
		registry: registry,
		logger:   log.NewHelper(logger),
	}
}

// BreakerHealthReply partitions registered breakers by health. A breaker is
// unhealthy when it is open or its windowed error rate is 10% or higher.
type BreakerHealthReply struct {
	Healthy   []breaker.Stats `json:"healthy"`
	Unhealthy []breaker.Stats `json:"unhealthy"`
}

// ListBreakers returns stats for every registered breaker.
func (s *AdminService) ListBreakers(_ context.Context) []breaker.Stats {
	return s.registry.All()
}

// BreakerHealth returns the healthy/unhealthy partition.
func (s *AdminService) BreakerHealth(_ context.Context) *BreakerHealthReply {
	healthy, unhealthy := s.registry.Partition()
	return &BreakerHealthReply{
		Healthy:   healthy,
		Unhealthy: unhealthy,
	}
}

// ResetBreaker manually closes a breaker, clearing its transient state.
func (s *AdminService) ResetBreaker(_ context.Context, name string) error {
	b, ok := s.registry.Get(name)
	if !ok {
		return errors.NotFound("BREAKER_NOT_FOUND", fmt.Sprintf("circuit breaker %q is not registered", name))
	}

	b.Reset()
	s.logger.Infow("msg", "circuit breaker manually reset",
		"breaker", name,
		"type", "breaker")
	return nil
}

// ForceOpenBreaker manually opens a breaker, e.g. ahead of dependency
// maintenance.
func (s *AdminService) ForceOpenBreaker(_ context.Context, name, reason string) error {
	b, ok := s.registry.Get(name)
	if !ok {
		return errors.NotFound("BREAKER_NOT_FOUND", fmt.Sprintf("circuit breaker %q is not registered", name))
	}

	if reason == "" {
		reason = "manual override"
	}
	b.ForceOpen(reason)
	s.logger.Warnw("msg", "circuit breaker manually opened",
		"breaker", name,
		"reason", reason,
		"type", "breaker")
	return nil
}
