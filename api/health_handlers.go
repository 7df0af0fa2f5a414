package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   time.Time         `json:"time"`
}

// handleHealth runs the configured dependency probes and reports aggregate
// health. Degraded dependencies flip the status but still return 200 so
// load balancers keep routing; a 503 means nothing works.
//
//	@Summary	Health check
//	@Tags		platform
//	@Produce	json
//	@Success	200	{object}	healthStatus
//	@Failure	503	{object}	healthStatus
//	@Router		/api/health [get]
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := healthStatus{
		Status: "ok",
		Checks: make(map[string]string, len(a.deps.HealthChecks)),
		Time:   time.Now().UTC(),
	}

	failures := 0
	for _, check := range a.deps.HealthChecks {
		if err := check.Check(ctx); err != nil {
			status.Checks[check.Name] = sanitizeErrorMessage(err.Error())
			failures++
			continue
		}
		status.Checks[check.Name] = "ok"
	}

	code := http.StatusOK
	if failures > 0 {
		status.Status = "degraded"
	}
	if len(a.deps.HealthChecks) > 0 && failures == len(a.deps.HealthChecks) {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	a.writeJSON(w, code, status)
}
