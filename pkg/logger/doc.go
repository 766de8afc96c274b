// Package logger builds configured slog loggers with context-aware
// attribute injection and domain attribute helpers.
//
// Basic usage:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.AppEnv, "billingd"),
//		logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	logger.SetAsDefault(log)
package logger
