package api

// SubmitRunRequest is the JSON body for POST /runs
type SubmitRunRequest struct {
	Source string `json:"source"`
}

// SubmitRunResponse is returned when a run is queued
type SubmitRunResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Source string `json:"source"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
}
