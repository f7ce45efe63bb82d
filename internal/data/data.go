// Package data provides data access layer implementations.
// It handles Redis connections and data persistence.
package data

import (
	"RelayLane/internal/conf"
	"RelayLane/pkg/crypto"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers. Repository providers live in the biz
// ProviderSet next to their interface bindings.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewBreakerRegistry,
	NewAESCrypto,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient is the Redis client shared by the repositories
	redisClient *redis.Client
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful
// degradation: the circuit breakers fail the affected operations fast).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, persistence will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
		// which is called automatically by Wire
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// NewAESCrypto builds the credential-at-rest cipher from the bootstrap
// encryption key. The key length is validated at config load time.
func NewAESCrypto(c *conf.Auth) (*crypto.AESCrypto, error) {
	return crypto.NewAESCrypto([]byte(c.Encryption.Key))
}
