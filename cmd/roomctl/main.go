package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/videoroom/internal/adapters/http"
	"github.com/dkeye/videoroom/internal/adapters/rtc"
	wsignal "github.com/dkeye/videoroom/internal/adapters/signal"
	"github.com/dkeye/videoroom/internal/app/channel"
	"github.com/dkeye/videoroom/internal/app/room"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	engine := rtc.NewEngine(ctx, rtc.WebRTCConfig(cfg.RTC.ICEServers))
	sess := room.NewSession(channel.Config{
		Display:            cfg.Janus.Display,
		KeepAliveInterval:  cfg.Janus.KeepAliveInterval,
		TransactionTimeout: cfg.Janus.TransactionTimeout,
		WriteWait:          cfg.Janus.WriteWait,
		SendQueue:          cfg.Janus.SendQueue,
	}, wsignal.NewDialer(cfg.Janus.DialTimeout, cfg.Janus.ReadLimit), engine)
	engine.Bind(sess)

	// A failed first join is not fatal: POST /api/join retries.
	if err := sess.Join(ctx, cfg.Janus.URL, domain.RoomID(cfg.Janus.Room)); err != nil {
		log.Error().Err(err).Str("url", cfg.Janus.URL).Msg("initial join failed")
	}

	r := router.SetupRouter(ctx, cfg, sess, engine)
	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("roomctl started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := sess.Leave(); err == nil {
		select {
		case <-sess.Done():
		case <-shutdownCtx.Done():
			log.Warn().Msg("gateway did not confirm close")
		}
	}
	engine.Wait()
	engine.CloseAll()
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Pretty {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
