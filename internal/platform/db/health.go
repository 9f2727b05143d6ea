package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Check is an extra backing service reported by HealthHandler, such as the
// Redis session store.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type healthResponse struct {
	Status   string            `json:"status"`
	Registry string            `json:"registry"`
	Pool     *PoolStats        `json:"pool,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// HealthHandler reports the health of the registry database and of each
// check. A nil pool means the registry runs in memory. Any failure turns the
// response into a 503.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		resp := healthResponse{Status: "healthy", Registry: "memory"}
		if pool != nil {
			resp.Registry = "postgres"
			resp.Pool = GetPoolStats(pool)
			if err := pool.Ping(ctx); err != nil {
				resp.Pool.Healthy = false
				resp.Status = "unhealthy"
				resp.Error = err.Error()
			}
		}

		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for _, chk := range checks {
			if err := chk.Ping(ctx); err != nil {
				resp.Checks[chk.Name] = err.Error()
				resp.Status = "unhealthy"
				continue
			}
			resp.Checks[chk.Name] = "ok"
		}

		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, resp)
	}
}
