package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger for a service. Level falls back
// to info when the configured value does not parse.
func Init(serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithOrder returns a context whose logger carries the order number on every
// entry. Saga code attaches this once per execution so step and compensation
// logs are correlated without repeating the field.
func WithOrder(ctx context.Context, orderNumber string) context.Context {
	l := log.Logger.With().Str("order_number", orderNumber).Logger()
	return l.WithContext(ctx)
}

// Ctx returns the logger stored in ctx, or the global logger when none is set.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &log.Logger
	}
	return l
}
