package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/media/pion"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/media/token"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driven/signaling/memory"
	handler "github.com/iwasamnot/campus-connect-core-sub006/internal/adapter/driving/http"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/config"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"
	"github.com/iwasamnot/campus-connect-core-sub006/internal/proto"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the server config file")
	flag.Parse()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	log.Logger = l

	cfg, err := config.Load(*configPath)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to load config")
	}

	var issuer *token.HMACIssuer
	engineCfg := pion.EngineConfig{RequireToken: cfg.RequireToken}
	if cfg.TokenSecret != "" {
		issuer = token.NewHMACIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL.Std())
		engineCfg.Verifier = issuer
	}

	store := memory.NewStore()
	engine := pion.NewEngine(engineCfg)
	hub := handler.NewHub()
	engine.SetSignalCallback(func(_ domain.RoomID, userID domain.UserID, sig proto.MediaSignal) {
		hub.SendMediaSignal(userID, sig)
	})

	h := handler.NewHandler(store, engine, hub, issuer)

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.ListenAddr).Bool("token_auth", issuer != nil).Msg("Starting relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Server exited")
}
