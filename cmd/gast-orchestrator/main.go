// Command gast-orchestrator runs the genomic job-orchestration
// service: it wires the store, the AMR and Bakta worker pools, the
// archiver/retention sweep, and the HTTP API together and serves them
// from a single process, mirroring the teacher's cmd/cc-backend/main.go
// wiring order (config -> store -> sub-modules -> router -> server).
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/gast-project/gast-orchestrator/internal/amr"
	"github.com/gast-project/gast-orchestrator/internal/api"
	"github.com/gast-project/gast-orchestrator/internal/archiver"
	"github.com/gast-project/gast-orchestrator/internal/auth"
	"github.com/gast-project/gast-orchestrator/internal/bakta"
	"github.com/gast-project/gast-orchestrator/internal/config"
	"github.com/gast-project/gast-orchestrator/internal/store"
	"github.com/gast-project/gast-orchestrator/internal/taskmanager"
	"github.com/gast-project/gast-orchestrator/pkg/log"
	"github.com/gast-project/gast-orchestrator/pkg/runtimeEnv"
)

func main() {
	var flagConfigFile, flagEnvFile, flagLogLevel string
	var flagNoServer bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default options by those specified in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Load additional environment variables from `.env` before config is applied")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of debug, info, notice, warn, err, crit")
	flag.BoolVar(&flagNoServer, "no-server", false, "Initialize everything and exit without starting the HTTP server")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if err := runtimeEnv.LoadEnv(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing %q failed: %s", flagEnvFile, err.Error())
	}

	config.Init(flagConfigFile)
	cfg := config.Keys

	if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		log.Fatalf("creating results dir %q: %s", cfg.ResultsDir, err.Error())
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("creating upload dir %q: %s", cfg.UploadDir, err.Error())
	}

	st, err := store.Connect(store.Config{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetimeDuration(),
		AcquireTimeout:  cfg.Store.AcquireTimeoutDuration(),
	})
	if err != nil {
		log.Fatalf("connecting to store: %s", err.Error())
	}

	jobRepo := store.NewJobRepository(st)
	baktaRepo := store.NewBaktaRepository(st)
	idempotencyRepo := store.NewIdempotencyRepository(st)
	archiveRepo := store.NewArchiveRepository(st)

	authn, err := auth.NewAuthenticator(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("initializing authenticator: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// C3: AMR in-process ML predictor pool. No example repo in the pack
	// serves model inference; amr.DeterministicPredictor is the seam a
	// real model-serving client plugs into (see internal/amr/predictor.go).
	amrExecutor := amr.NewExecutor(jobRepo, amr.DeterministicPredictor{}, cfg.ResultsDir)
	amrPool := amr.NewPool(ctx, amrExecutor, cfg.AMRPoolSize)

	// C4: Bakta remote client + per-job orchestrator pool.
	baktaClient := bakta.NewClient(bakta.ClientConfig{
		BaseURL:        cfg.Bakta.BaseURL(cfg.Environment),
		APIKey:         cfg.Bakta.APIKey,
		RequestTimeout: cfg.Bakta.RequestTimeoutDuration(),
		UploadTimeout:  cfg.Bakta.UploadTimeoutDuration(),
	})
	baktaOrchestrator := bakta.NewOrchestrator(
		baktaRepo, baktaClient, cfg.ResultsDir,
		cfg.Bakta.PollIntervalDuration(), cfg.Bakta.PollDeadlineDuration(),
	)
	baktaPool := bakta.NewPool(ctx, baktaOrchestrator, cfg.BaktaPoolSize)

	// C6: archiver/retention sweep, scheduled by C7 (taskmanager).
	coldStorage, err := archiver.NewColdStorage(cfg.ColdStorage)
	if err != nil {
		log.Fatalf("initializing cold storage: %s", err.Error())
	}
	arch := archiver.New(archiveRepo, baktaRepo, coldStorage, cfg.Retention)

	if err := taskmanager.Start(ctx, arch, cfg.Retention); err != nil {
		log.Fatalf("starting taskmanager: %s", err.Error())
	}

	// Crash recovery: any BaktaJob left Init/Running by a previous
	// process resumes its poll loop using the persisted remote_id/secret
	// (spec §4.4b).
	if running, err := baktaRepo.ListRunning(ctx); err != nil {
		log.Errorf("listing running bakta jobs for resume: %s", err.Error())
	} else {
		ids := make([]string, 0, len(running))
		for _, j := range running {
			ids = append(ids, j.ID)
		}
		if len(ids) > 0 {
			log.Infof("resuming %d bakta job(s) left non-terminal by a previous process", len(ids))
		}
		taskmanager.ResumeBaktaJobs(ctx, ids, baktaOrchestrator)
	}

	restAPI := api.New(jobRepo, baktaRepo, idempotencyRepo, amrPool, baktaPool, cfg.UploadDir, cfg.ResultsDir)

	router := mux.NewRouter()
	sub := router.PathPrefix(cfg.PathPrefix).Subrouter()
	handler := restAPI.MountRoutes(sub, authn)

	if flagNoServer {
		return
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // file downloads/uploads stream longer than the API default
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("listening on %s: %s", cfg.Addr, err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("http server listening at %s", cfg.Addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server.Serve: %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("server.Shutdown: %s", err.Error())
		}

		cancel() // stop worker pools and the task manager's background goroutines
		if err := taskmanager.Shutdown(); err != nil {
			log.Errorf("taskmanager.Shutdown: %s", err.Error())
		}
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Info("graceful shutdown completed")
}
