package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/eventgate/internal/api/response"
)

// Pinger is a dependency whose reachability /status reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionReporter exposes the MQTT subscription state.
type ConnectionReporter interface {
	StateName() string
}

const serviceName = "eventgate"

// NewStatusHandler returns an http.HandlerFunc for GET /status. A failing
// dependency in checks turns the response into a 503 "degraded". The MQTT
// state is informational: the subscription manager recovers on its own.
func NewStatusHandler(checks map[string]Pinger, mqtt ConnectionReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services := make(map[string]string, len(checks)+1)
		degraded := false
		for name, dep := range checks {
			services[name] = "ok"
			if err := dep.Ping(ctx); err != nil {
				services[name] = "degraded"
				degraded = true
			}
		}
		if mqtt != nil {
			services["mqtt"] = mqtt.StateName()
		}

		status := "ok"
		if degraded {
			status = "degraded"
		}
		body := map[string]any{
			"status":    status,
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"services":  services,
		}
		if degraded {
			response.Status(w, http.StatusServiceUnavailable, body)
			return
		}
		response.JSON(w, body)
	}
}
