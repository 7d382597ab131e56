// Package logging builds the shared zap logger for the gateway.
package logging

import (
	"go.uber.org/zap"
)

// New returns a zap logger configured for the given environment.
// "development" gets a console logger with debug level; everything else gets production JSON.
func New(env string) (*zap.Logger, error) {
	if env == "development" || env == "dev" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	logger, err := cfg.Build(zap.Fields(zap.String("service", "login-gateway")))
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// MaskPhone redacts the middle digits of an 11-digit phone number for logs
// and telemetry (e.g. 09123456789 -> 0912***6789). Shorter values are fully masked.
func MaskPhone(phone string) string {
	if len(phone) != 11 {
		return "***"
	}
	return phone[:4] + "***" + phone[7:]
}
