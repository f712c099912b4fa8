package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// ConnStats is the pool snapshot reported by the database health endpoint.
type ConnStats struct {
	Open        int32  `json:"open"`
	Idle        int32  `json:"idle"`
	InUse       int32  `json:"in_use"`
	Max         int32  `json:"max"`
	WaitCount   int64  `json:"wait_count"`
	WaitElapsed string `json:"wait_elapsed"`
}

// HealthStatus is the body returned by the database health endpoint.
type HealthStatus struct {
	Reachable bool      `json:"reachable"`
	Error     string    `json:"error,omitempty"`
	Conns     ConnStats `json:"conns"`
}

// CheckHealth pings the database and snapshots the pool counters.
func CheckHealth(ctx context.Context, pool *pgxpool.Pool) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	stat := pool.Stat()
	hs := HealthStatus{
		Reachable: true,
		Conns: ConnStats{
			Open:        stat.TotalConns(),
			Idle:        stat.IdleConns(),
			InUse:       stat.AcquiredConns(),
			Max:         stat.MaxConns(),
			WaitCount:   stat.EmptyAcquireCount(),
			WaitElapsed: stat.AcquireDuration().String(),
		},
	}
	if err := pool.Ping(ctx); err != nil {
		hs.Reachable = false
		hs.Error = err.Error()
	}
	return hs
}

// HealthHandler serves the database health endpoint. An unreachable
// database answers 503 so load balancers can take the instance out.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		hs := CheckHealth(c.Request().Context(), pool)
		if !hs.Reachable {
			return c.JSON(http.StatusServiceUnavailable, hs)
		}
		return c.JSON(http.StatusOK, hs)
	}
}
