// v0
// cmd/quizsyncd/main.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quizsync/engine/internal/audit"
	"github.com/quizsync/engine/internal/clock"
	"github.com/quizsync/engine/internal/config"
	"github.com/quizsync/engine/internal/domain"
	"github.com/quizsync/engine/internal/fanout"
	"github.com/quizsync/engine/internal/httpapi"
	"github.com/quizsync/engine/internal/logging"
	"github.com/quizsync/engine/internal/profanity"
	"github.com/quizsync/engine/internal/ratelimit"
	"github.com/quizsync/engine/internal/recovery"
	"github.com/quizsync/engine/internal/registry"
	"github.com/quizsync/engine/internal/session"
	"github.com/quizsync/engine/internal/store"
	"github.com/quizsync/engine/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, closeLog, err := logging.New(cfg.LogFilePath, slog.LevelInfo)
	if err != nil {
		panic(err)
	}
	defer func() { _ = closeLog() }()

	log.Info("quizsyncd starting", "version", "v0", "listen", cfg.ListenAddress)

	ephemeral := buildEphemeral(cfg)
	durable, err := store.NewFileDurableStore(cfg.DurableFilePath)
	if err != nil {
		log.Error("failed to init durable store", "err", err)
		return
	}
	defer func() { _ = durable.Close() }()

	auditLog, closeAudit, err := buildAudit(cfg, log)
	if err != nil {
		log.Error("failed to init audit log", "err", err)
		return
	}
	defer func() { _ = closeAudit() }()

	if cfg.TokenSigningKey == "" {
		log.Error("QUIZSYNC_TOKEN_SIGNING_KEY must be set")
		return
	}
	issuer, err := token.New([]byte(cfg.TokenSigningKey), cfg.RecoveryGraceWindow, nil)
	if err != nil {
		log.Error("failed to init token issuer", "err", err)
		return
	}

	reg := registry.New()
	catalog := httpapi.NewStaticCatalog()

	lookup := func(sessionID string) (recovery.Coordinator, error) {
		c, err := reg.Lookup(sessionID)
		if err != nil {
			return nil, err
		}
		sc, ok := c.(*session.Coordinator)
		if !ok {
			return nil, err
		}
		return sc, nil
	}

	// One fanout.Hub is shared by every session: a connection is keyed by
	// (sessionId, socketId), so a single process-wide hub routes events for
	// every live session without the coordinators needing to coordinate.
	hub := fanout.New(log)

	deps := session.Deps{
		Ephemeral:           ephemeral,
		Durable:             durable,
		Audit:               auditLog,
		Tokens:              issuer,
		Hub:                 hub,
		Clock:               clock.New(),
		Log:                 log,
		AnswerGrace:         cfg.AnswerTimingGrace,
		LeaderboardTopN:     cfg.LeaderboardTopN,
		LeaderboardThrottle: cfg.LeaderboardThrottle,
	}

	health := httpapi.NewHealthState()
	handlers := &httpapi.Handlers{
		Registry:        reg,
		Recovery:        recovery.New(issuer, lookup, durable, ephemeral, issuer, clock.New(), cfg.RecoveryGraceWindow),
		Catalog:         catalog,
		Profanity:       profanity.New(),
		JoinLimit:       ratelimit.New(ephemeral, log),
		Deps:            deps,
		Clock:           clock.New(),
		Log:             log,
		HandshakeWindow: cfg.AuthHandshakeWindow,
		Spawn: func(ctx context.Context, c *session.Coordinator) {
			go c.Run(ctx)
		},
	}

	mux := httpapi.NewRouter(log, health, handlers)
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      httpapi.WrapWithLogging(log, mux),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	go func() {
		health.SetReady(true)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server terminated", "err", err)
		}
	}()
	log.Info("quizsyncd started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	health.SetReady(false)
	log.Info("quizsyncd shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "err", err)
	}

	drainSessions(shutdownCtx, reg, log)
	log.Info("quizsyncd stopped")
}

// drainSessions asks every live SessionCoordinator to end its quiz and
// waits (up to the shutdown deadline) for its actor goroutine to exit, so
// in-flight audit writes and snapshot persistence finish before the
// process does.
func drainSessions(ctx context.Context, reg *registry.Registry, log *slog.Logger) {
	coords := reg.All()
	for _, c := range coords {
		sc, ok := c.(*session.Coordinator)
		if !ok {
			continue
		}
		if err := sc.EndQuiz(ctx, domain.RoleController); err != nil {
			log.Warn("session_drain_end_failed", "sessionId", sc.SessionID(), "err", err)
		}
		select {
		case <-sc.Done():
		case <-ctx.Done():
			log.Warn("session_drain_timeout", "sessionId", sc.SessionID())
		}
	}
}

func buildEphemeral(cfg config.Config) store.EphemeralStore {
	if cfg.EphemeralBackend == "redis" {
		return store.NewRedisEphemeralStore(cfg.RedisAddr, "", 0)
	}
	return store.NewMemoryEphemeralStore()
}

func buildAudit(cfg config.Config, log *slog.Logger) (audit.AuditLog, func() error, error) {
	if cfg.AuditBackend == "kafka" {
		a := audit.NewKafkaAuditLog(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		return a, a.Close, nil
	}
	a, err := audit.NewFileAuditLog(cfg.AuditFilePath)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}
