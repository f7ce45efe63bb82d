package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration for the RelayLane service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Breaker    *Breaker
	EventStore *EventStore
	Realtime   *Realtime
	Auth       *Auth
	Log        *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the admin/health HTTP server.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds backing-store configuration.
type Data struct {
	Redis *Data_Redis
}

// Data_Redis configures the Redis coordination store.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Breaker holds circuit breaker defaults applied to store-facing breakers.
type Breaker struct {
	FailureThreshold int32
	SuccessThreshold int32
	MinimumRequests  int64
	ErrorRatePercent float64
	VolumeThreshold  int32
	MonitoringWindow *durationpb.Duration
	RecoveryTimeout  *durationpb.Duration
	ExecutionTimeout *durationpb.Duration
	CacheSize        int32
	CacheTtl         *durationpb.Duration
}

// EventStore configures event store retention and snapshotting.
type EventStore struct {
	SnapshotFrequency int64
	EventTtl          *durationpb.Duration
	IndexTtl          *durationpb.Duration
	SnapshotTtl       *durationpb.Duration
}

// Realtime configures connection manager behavior.
type Realtime struct {
	HeartbeatInterval    *durationpb.Duration
	HeartbeatTimeout     *durationpb.Duration
	BaseReconnectDelay   *durationpb.Duration
	MaxReconnectDelay    *durationpb.Duration
	MaxReconnectAttempts int32
	QueueSize            int32
	MaxRetries           int32
	SessionTtl           *durationpb.Duration
}

// Auth holds credential handling configuration. RelayLane only consumes
// validated identities; token issuance lives elsewhere.
type Auth struct {
	Encryption *Auth_Encryption
	AdminToken string
}

// Auth_Encryption configures at-rest encryption for stored credentials.
type Auth_Encryption struct {
	Key string
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
