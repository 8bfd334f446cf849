package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// readinessProbe checks one backing service within the handed-down deadline.
type readinessProbe struct {
	name  string
	check func(ctx context.Context) error
}

// RegisterHealthRoutes exposes liveness and readiness endpoints. Liveness is
// unconditional; readiness probes postgres and redis, the two stores the
// dispatcher cannot run without.
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	probes := []readinessProbe{
		{name: "postgres", check: sqlDB.PingContext},
		{name: "redis", check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}

	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/readyz", readyz(probes))
}

func readyz(probes []readinessProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		ready := true
		checks := fiber.Map{}
		for _, p := range probes {
			if err := p.check(ctx); err != nil {
				checks[p.name] = "down"
				ready = false
				continue
			}
			checks[p.name] = "ok"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}
		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
