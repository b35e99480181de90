package api

import "context"

// HealthChecker reports whether both chain connections are usable.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}
