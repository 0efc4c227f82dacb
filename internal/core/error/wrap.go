package errx

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis maps Redis errors to the unified AppError type with appropriate
// status codes. Memory stores are advisory, so callers typically log the
// result instead of failing the turn.
func WrapRedis(err error) *AppError {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return Upstream(err, RedisErrorMessage)
}

// WrapPostgres maps telemetry database errors to the unified AppError type.
func WrapPostgres(err error) *AppError {
	if err == nil {
		return nil
	}
	return Upstream(err, PostgresErrorMessage)
}

// WrapProvider maps text-generation failures to the unified AppError type.
func WrapProvider(err error) *AppError {
	if err == nil {
		return nil
	}
	return Upstream(err, ProviderErrorMessage)
}
