/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/api"
	"github.com/friendsincode/brimir_terminal/internal/assignment"
	"github.com/friendsincode/brimir_terminal/internal/audit"
	"github.com/friendsincode/brimir_terminal/internal/cache"
	"github.com/friendsincode/brimir_terminal/internal/compat"
	"github.com/friendsincode/brimir_terminal/internal/compliance"
	"github.com/friendsincode/brimir_terminal/internal/config"
	"github.com/friendsincode/brimir_terminal/internal/custody"
	"github.com/friendsincode/brimir_terminal/internal/db"
	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/eventbus"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/integrity"
	"github.com/friendsincode/brimir_terminal/internal/leadership"
	"github.com/friendsincode/brimir_terminal/internal/reconciler"
	"github.com/friendsincode/brimir_terminal/internal/sequencer"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
	"github.com/friendsincode/brimir_terminal/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db            *gorm.DB
	cache         *cache.Cache
	bus           *events.Bus
	bridge        *eventbus.Bridge
	dir           *directory.Directory
	oracle        *compat.Oracle
	custodySvc    *custody.Service
	complianceSvc *compliance.Service
	assignmentSvc *assignment.Service
	sequencerSvc  *sequencer.Service
	reconcilerSvc *reconciler.Service
	integritySvc  *integrity.Service
	auditSvc      *audit.Service
	election      *leadership.Election
	updateChecker *version.Checker
	api           *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("brimir-terminal-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for rule and resource snapshot reads
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	entityCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = entityCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	// Optional NATS bridge mirrors bus events across nodes.
	if s.cfg.NATSURL != "" {
		bridge, err := eventbus.Connect(s.cfg.NATSURL, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("connect event bridge: %w", err)
		}
		s.bridge = bridge
		s.DeferClose(func() error { return s.bridge.Close() })
	}

	s.dir = directory.New(database, s.logger)
	s.oracle = compat.NewOracle(database, s.logger)
	if s.cache != nil {
		s.dir.SetCache(s.cache)
		s.oracle.SetCache(s.cache)
	}

	s.custodySvc = custody.NewService(database, s.bus, s.logger)
	s.complianceSvc = compliance.NewService(database, s.dir, s.custodySvc, s.bus, s.logger)
	s.assignmentSvc = assignment.NewService(database, s.dir, s.oracle, s.bus, s.logger)
	s.sequencerSvc = sequencer.NewService(database, s.dir, s.bus, s.cfg.AverageServiceMinutes, s.cfg.LongWaitMinutes, s.logger)
	s.reconcilerSvc = reconciler.NewService(database, s.dir, s.bus, s.cfg.ReconcileInterval, s.logger)
	s.integritySvc = integrity.NewService(database, s.logger)
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	// Leader election keeps exactly one reconciler active when several
	// instances share the database. Without Redis we run standalone.
	if s.cache != nil {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("leader election unavailable, running reconciler standalone")
		} else {
			s.election = election
			s.DeferClose(func() error { return s.election.Stop() })
		}
	}

	s.updateChecker = version.NewChecker(s.logger)

	s.api = api.New(
		database,
		[]byte(s.cfg.JWTSigningKey),
		s.complianceSvc,
		s.custodySvc,
		s.assignmentSvc,
		s.sequencerSvc,
		s.reconcilerSvc,
		s.integritySvc,
		s.dir,
		s.auditSvc,
		s.bus,
		s.logger,
	)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runReconciler(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runIntegrityScans(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runConnectionMetrics(ctx)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runUpdateChecks(ctx)
	}()
}

// runReconciler runs the occupancy reconciler, gated on leadership when
// an election is configured.
func (s *Server) runReconciler(ctx context.Context) {
	if s.election == nil {
		s.reconcilerSvc.Run(ctx)
		return
	}

	if err := s.election.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("leader election start failed, running reconciler standalone")
		s.reconcilerSvc.Run(ctx)
		return
	}

	var reconCancel context.CancelFunc
	var reconWG sync.WaitGroup
	defer func() {
		if reconCancel != nil {
			reconCancel()
		}
		reconWG.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case isLeader := <-s.election.LeaderCh():
			if isLeader && reconCancel == nil {
				reconCtx, cancel := context.WithCancel(ctx)
				reconCancel = cancel
				reconWG.Add(1)
				go func() {
					defer reconWG.Done()
					s.reconcilerSvc.Run(reconCtx)
				}()
			} else if !isLeader && reconCancel != nil {
				reconCancel()
				reconWG.Wait()
				reconCancel = nil
			}
		}
	}
}

// runIntegrityScans sweeps for referential gaps on a slow cadence.
func (s *Server) runIntegrityScans(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.election != nil && !s.election.IsLeader() {
				continue
			}
			if _, err := s.integritySvc.Scan(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduled integrity scan failed")
			}
		}
	}
}

// runUpdateChecks polls the release feed on a slow cadence.
func (s *Server) runUpdateChecks(ctx context.Context) {
	s.updateChecker.Check(ctx)
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateChecker.Check(ctx)
		}
	}
}

// runConnectionMetrics refreshes the database pool gauge periodically.
func (s *Server) runConnectionMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.UpdateConnectionMetrics(s.db)
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
