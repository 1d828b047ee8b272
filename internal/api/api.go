// Package api implements the HTTP surface (C5, spec §4.5/§6.1): the
// AMR prediction/aggregation endpoints, Bakta submission/status/file
// download, and job listing/download, wired through gorilla/mux with
// gorilla/handlers access-log and panic-recovery middleware --
// grounded on the teacher's internal/api/rest.go mounting pattern
// (one long-lived struct threaded through every route instead of
// package-level state).
package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/gast-project/gast-orchestrator/internal/amr"
	"github.com/gast-project/gast-orchestrator/internal/auth"
	"github.com/gast-project/gast-orchestrator/internal/bakta"
	"github.com/gast-project/gast-orchestrator/internal/store"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// idempotencyTTL is how long a stored (Idempotency-Key, body) pair
// continues to short-circuit a replayed request (spec §4.5).
const idempotencyTTL = 24 * time.Hour

// API holds every collaborator a handler needs. A value of this type
// is threaded through every route registered by MountRoutes instead of
// relying on package-level globals.
type API struct {
	jobs        *store.JobRepository
	baktaJobs   *store.BaktaRepository
	idempotency *store.IdempotencyRepository
	amrPool     *amr.Pool
	baktaPool   *bakta.Pool
	uploadDir   string
	resultsDir  string
	log         *log.ComponentLogger
}

func New(
	jobs *store.JobRepository,
	baktaJobs *store.BaktaRepository,
	idempotency *store.IdempotencyRepository,
	amrPool *amr.Pool,
	baktaPool *bakta.Pool,
	uploadDir, resultsDir string,
) *API {
	return &API{
		jobs:        jobs,
		baktaJobs:   baktaJobs,
		idempotency: idempotency,
		amrPool:     amrPool,
		baktaPool:   baktaPool,
		uploadDir:   uploadDir,
		resultsDir:  resultsDir,
		log:         log.Component("api"),
	}
}

// MountRoutes registers every §6.1 endpoint under r, wraps them with
// the authenticator's identity middleware, and returns the finished
// handler wrapped in access logging and panic recovery.
func (a *API) MountRoutes(r *mux.Router, authn *auth.Authenticator) http.Handler {
	r.Use(authn.Middleware)

	r.HandleFunc("/predict", a.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/aggregate", a.handleAggregate).Methods(http.MethodPost)
	r.HandleFunc("/sequence", a.handleSequence).Methods(http.MethodPost)
	r.HandleFunc("/visualize", a.handleVisualize).Methods(http.MethodPost)
	r.HandleFunc("/jobs", a.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", a.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/download", a.handleDownloadJob).Methods(http.MethodGet)

	r.HandleFunc("/bakta/jobs", a.handleSubmitBakta).Methods(http.MethodPost)
	r.HandleFunc("/bakta/jobs/{id}", a.handleGetBaktaJob).Methods(http.MethodGet)
	r.HandleFunc("/bakta/jobs/{id}/annotations", a.handleListAnnotations).Methods(http.MethodGet)
	r.HandleFunc("/bakta/jobs/{id}/files/{type}", a.handleDownloadBaktaFile).Methods(http.MethodGet)

	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, r))
}
