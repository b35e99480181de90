package api

// StatusResponse is the body of the liveness and health endpoints.
type StatusResponse struct {
	Status string `json:"status"`
}

const (
	statusOK        = "ok"
	statusUnhealthy = "unhealthy"
)
