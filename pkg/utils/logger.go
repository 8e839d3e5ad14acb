// Package utils holds small helpers shared across packages: logger
// construction, vector math, and the float32 byte codec.
package utils

import "go.uber.org/zap"

// NewLogger builds the process logger from one of zap's preset configs:
// development (console encoder, debug level) when debug is set, production
// (JSON, info level) otherwise.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
