package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"fulfillment/internal/pkg/tracing"
)

type AppCtx struct {
	Mux *http.ServeMux
}

// AppInfo carries everything service-specific needed to start one service.
type AppInfo struct {
	ServiceName      string
	Port             int
	JaegerEndpoint   string
	RegisterHandlers func(appCtx AppCtx)
	// OnShutdown hooks run in order during graceful shutdown, after the
	// HTTP server has stopped accepting connections.
	OnShutdown []func(ctx context.Context) error
}

// StartService wires the common lifecycle shared by every service: tracer
// provider, HTTP surface, and signal-driven graceful shutdown. It blocks
// until SIGINT/SIGTERM.
func StartService(info AppInfo) {
	tp, err := tracing.InitTracerProvider(info.ServiceName, info.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		log.Info().Str("addr", server.Addr).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msgf("shutting down %s", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	for _, hook := range info.OnShutdown {
		if err := hook(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown hook failed")
		}
	}

	// Flush buffered spans last so shutdown itself stays traced.
	if err := tp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("tracer provider shutdown")
	}

	log.Info().Msgf("%s stopped", info.ServiceName)
}
