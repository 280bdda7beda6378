package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the body of the health, readiness and liveness endpoints.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Reason    string    `json:"reason,omitempty"`
}

var (
	startTime = time.Now()
	version   = "dev"
)

// SetVersion sets the application version reported by the endpoints.
func SetVersion(v string) {
	version = v
}

func newStatus(status string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(startTime).Truncate(time.Second).String(),
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// HealthHandler returns a handler for the health endpoint.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("healthy"))
	}
}

// ReadinessHandler returns a handler for readiness checks. When check is
// non-nil (typically the object store ping) its failure makes the service
// not ready.
func ReadinessHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				status := newStatus("not_ready")
				status.Reason = err.Error()
				writeStatus(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		writeStatus(w, http.StatusOK, newStatus("ready"))
	}
}

// LivenessHandler returns a handler for liveness checks.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("alive"))
	}
}
