// Package obs holds process-wide observability: the shared logger and the
// Prometheus HTTP metrics.
package obs

import "go.uber.org/zap"

// NewLogger builds the service logger. The local environment gets the
// development console encoder, everything else structured JSON.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
