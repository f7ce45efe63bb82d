// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"RelayLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewEventStoreUsecase,
	NewSessionUsecase,
	// Import data layer providers
	data.NewEventStoreRepo,
	data.NewSessionRepo,
	data.NewLogAlertSink,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(EventStoreRepo), new(*data.EventStoreRepo)),
	wire.Bind(new(SessionRepo), new(*data.SessionRepo)),
)

// The log-backed sink satisfies the alert contract even though the injector
// passes it to the repositories as its concrete type.
var _ AlertSink = (*data.LogAlertSink)(nil)
