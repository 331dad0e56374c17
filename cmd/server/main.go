package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/admirer145/Chesslyze-sub001/internal/config"
	"github.com/admirer145/Chesslyze-sub001/internal/constants"
	fxmodules "github.com/admirer145/Chesslyze-sub001/internal/fx"
	"github.com/admirer145/Chesslyze-sub001/internal/server"
	"github.com/admirer145/Chesslyze-sub001/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	srv *server.Server,
	hub *server.Hub,
	publisher service.EventPublisher,
	cfg *config.Config,
	db *sqlx.DB,
	logger zerolog.Logger,
) {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: c.Handler(srv.Router()),
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go hub.Run(hubCtx)
			go func() {
				logger.Info().Str("addr", httpServer.Addr).Msg("server starting")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			hubCancel()

			if closer, ok := publisher.(interface{ Close() error }); ok && publisher != nil {
				if err := closer.Close(); err != nil {
					logger.Warn().Err(err).Msg("error closing event publisher")
				}
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
