package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gast-project/gast-orchestrator/internal/amr"
	"github.com/gast-project/gast-orchestrator/internal/auth"
	"github.com/gast-project/gast-orchestrator/internal/store"
	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// handlePredict implements POST /predict (spec §6.1): accepts a FASTA
// upload plus AMRJobParams form fields, persists a Submitted job, and
// hands it to the AMR worker pool.
func (a *API) handlePredict(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(rw, apierror.InvalidInput("parsing multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(rw, apierror.InvalidInput("missing required file field: %v", err))
		return
	}
	defer file.Close()

	params, err := parseAMRJobParams(r)
	if err != nil {
		writeError(rw, err)
		return
	}
	if err := params.Validate(); err != nil {
		writeError(rw, err)
		return
	}
	if err := schema.Validate(schema.AMRParams, params); err != nil {
		writeError(rw, err)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	bodyHash := hashIdempotencyBody(header.Filename, params)
	if idemKey != "" {
		if stop, _ := a.checkIdempotency(rw, r, idemKey, bodyHash); stop {
			return
		}
	}

	jobID := uuid.NewString()
	inputPath := filepath.Join(a.uploadDir, jobID+"_"+filepath.Base(header.Filename))
	if err := saveUploadedFile(inputPath, file); err != nil {
		writeError(rw, err)
		return
	}

	now := time.Now().UTC()
	job := &schema.AMRJob{
		ID: jobID, JobName: header.Filename, Status: schema.JobSubmitted,
		CreatedAt: now, InputFilePath: &inputPath,
	}
	if user := auth.UserFromContext(r.Context()); user != nil {
		job.UserID = &user.ID
	}
	if err := a.jobs.Create(r.Context(), job, &params); err != nil {
		writeError(rw, err)
		return
	}

	if idemKey != "" {
		if err := a.idempotency.Store(r.Context(), schema.IdempotencyKey{
			KeyHash: hashIdempotencyKey(idemKey), BodyHash: bodyHash, JobID: jobID, CreatedAt: now,
		}); err != nil {
			a.log.Warnf("storing idempotency record for job %s: %v", jobID, err)
		}
	}

	a.amrPool.Submit(jobID)
	writeJSON(rw, http.StatusOK, jobResponse(job, nil))
}

// checkIdempotency looks up an Idempotency-Key replay. It writes the
// response itself (either the prior job or a conflict error) and
// returns stop=true when the caller should return without submitting
// a fresh job.
func (a *API) checkIdempotency(rw http.ResponseWriter, r *http.Request, key, bodyHash string) (stop bool, err error) {
	existingID, err := a.idempotency.Lookup(r.Context(), hashIdempotencyKey(key), bodyHash, idempotencyTTL)
	if err == nil {
		job, _, getErr := a.jobs.Get(r.Context(), existingID)
		if getErr != nil {
			writeError(rw, getErr)
			return true, getErr
		}
		writeJSON(rw, http.StatusOK, jobResponse(job, map[string]interface{}{"replayed": true}))
		return true, nil
	}
	if apierror.KindOf(err) == apierror.KindNotFound {
		return false, nil
	}
	writeError(rw, err)
	return true, err
}

func parseAMRJobParams(r *http.Request) (schema.AMRJobParams, error) {
	batchSize, err := formInt(r, "batch_size", 8)
	if err != nil {
		return schema.AMRJobParams{}, err
	}
	segmentLength, err := formInt(r, "segment_length", 0)
	if err != nil {
		return schema.AMRJobParams{}, err
	}
	segmentOverlap, err := formInt(r, "segment_overlap", 0)
	if err != nil {
		return schema.AMRJobParams{}, err
	}
	useCPU, err := formBool(r, "use_cpu", false)
	if err != nil {
		return schema.AMRJobParams{}, err
	}
	threshold, err := formFloat(r, "resistance_threshold", 0.5)
	if err != nil {
		return schema.AMRJobParams{}, err
	}
	enableAgg, err := formBool(r, "enable_sequence_aggregation", true)
	if err != nil {
		return schema.AMRJobParams{}, err
	}
	return schema.AMRJobParams{
		ModelName:                 formString(r, "model_name", "default"),
		BatchSize:                 batchSize,
		SegmentLength:             segmentLength,
		SegmentOverlap:            segmentOverlap,
		UseCPU:                    useCPU,
		ResistanceThreshold:       threshold,
		EnableSequenceAggregation: enableAgg,
	}, nil
}

// handleAggregate implements POST /aggregate (spec §6.1): re-runs the
// same header-grouped aggregation amr.Executor performs per-job, but
// over client-supplied prior TSV outputs rather than a freshly
// executed prediction -- a synchronous operation, so the job it
// records is already terminal when the response is written.
func (a *API) handleAggregate(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(rw, apierror.InvalidInput("parsing multipart form: %v", err))
		return
	}
	files := r.MultipartForm.File["files[]"]
	if len(files) == 0 {
		writeError(rw, apierror.InvalidInput("at least one file is required in files[]"))
		return
	}

	var results []amr.PerWindowResult
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(rw, apierror.InvalidInput("opening uploaded file %s: %v", fh.Filename, err))
			return
		}
		parsed, err := parsePredictionTSV(f)
		f.Close()
		if err != nil {
			writeError(rw, err)
			return
		}
		results = append(results, parsed...)
	}

	modelSuffix := formString(r, "model_suffix", "")
	filePattern := formString(r, "file_pattern", "")
	rows := amr.Aggregate(results, 0.5)

	a.finishSyntheticAggregation(rw, r, "aggregate"+modelSuffix, rows, map[string]interface{}{
		"source_files": len(files),
		"file_pattern": filePattern,
	})
}

// handleSequence implements POST /sequence (spec §6.1): sequence-level
// aggregation of a single prior prediction TSV at a caller-supplied
// threshold.
func (a *API) handleSequence(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(rw, apierror.InvalidInput("parsing multipart form: %v", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(rw, apierror.InvalidInput("missing required file field: %v", err))
		return
	}
	defer file.Close()

	threshold, err := formFloat(r, "resistance_threshold", 0.5)
	if err != nil {
		writeError(rw, err)
		return
	}
	if threshold < 0.0 || threshold > 1.0 {
		writeError(rw, apierror.InvalidInput("resistance_threshold must be within [0.0, 1.0]"))
		return
	}

	results, err := parsePredictionTSV(file)
	if err != nil {
		writeError(rw, err)
		return
	}
	rows := amr.Aggregate(results, threshold)
	a.finishSyntheticAggregation(rw, r, "sequence", rows, nil)
}

// handleVisualize implements POST /visualize (spec §6.1). WIG emission
// is explicitly delegated to a renderer external to this system ("WIG
// (out-of-core-spec externally)") with no wire contract given anywhere
// in §6, so there is nothing to call: the request is recorded and
// immediately marked Error rather than silently pretending to
// succeed.
func (a *API) handleVisualize(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(rw, apierror.InvalidInput("parsing multipart form: %v", err))
		return
	}
	if _, _, err := r.FormFile("file"); err != nil {
		writeError(rw, apierror.InvalidInput("missing required file field: %v", err))
		return
	}

	now := time.Now().UTC()
	errMsg := "WIG visualization is rendered by a system external to this spec; no job was executed"
	job := &schema.AMRJob{
		ID: uuid.NewString(), JobName: "visualize", Status: schema.JobError,
		CreatedAt: now, CompletedAt: &now, Error: &errMsg,
	}
	params := schema.AMRJobParams{ModelName: "visualize", BatchSize: 1, ResistanceThreshold: 0.5}
	if err := a.jobs.Create(r.Context(), job, &params); err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, jobResponse(job, nil))
}

// finishSyntheticAggregation writes rows to a new aggregated TSV,
// records a terminal job row pointing at it, and responds. Shared by
// /aggregate and /sequence since both produce the same artifact shape.
func (a *API) finishSyntheticAggregation(rw http.ResponseWriter, r *http.Request, name string, rows []amr.AggregatedRow, info map[string]interface{}) {
	jobID := uuid.NewString()
	outPath := filepath.Join(a.resultsDir, "amr_predictions_"+jobID+"_aggregated.tsv")
	if err := amr.WriteAggregated(outPath, rows); err != nil {
		writeError(rw, err)
		return
	}

	now := time.Now().UTC()
	job := &schema.AMRJob{
		ID: jobID, JobName: name, Status: schema.JobCompleted,
		CreatedAt: now, StartedAt: &now, CompletedAt: &now,
		AggregatedResultFilePath: &outPath,
	}
	params := schema.AMRJobParams{ModelName: name, BatchSize: 1, ResistanceThreshold: 0.5}
	if err := a.jobs.Create(r.Context(), job, &params); err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, jobResponse(job, info))
}

// handleListJobs implements GET /jobs (spec §6.1).
func (a *API) handleListJobs(rw http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(rw, err)
		return
	}
	jobs, err := a.jobs.List(r.Context(), opts)
	if err != nil {
		writeError(rw, err)
		return
	}
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse(j, nil))
	}
	writeJSON(rw, http.StatusOK, out)
}

func parseListOptions(r *http.Request) (store.ListOptions, error) {
	var opts store.ListOptions
	if s := r.URL.Query().Get("status"); s != "" {
		status := schema.JobStatus(s)
		opts.Status = &status
	}
	limit, err := formInt(r, "limit", 100)
	if err != nil {
		return opts, err
	}
	offset, err := formInt(r, "offset", 0)
	if err != nil {
		return opts, err
	}
	opts.Limit = limit
	opts.Offset = offset
	return opts, nil
}

// handleGetJob implements GET /jobs/{id} (spec §6.1).
func (a *API) handleGetJob(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, _, err := a.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, jobResponse(job, nil))
}

// handleDownloadJob implements GET /jobs/{id}/download (spec §6.1):
// query file_type in {regular, aggregated}.
func (a *API) handleDownloadJob(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, _, err := a.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}

	fileType := r.URL.Query().Get("file_type")
	var path *string
	switch fileType {
	case "", "regular":
		path = job.ResultFilePath
	case "aggregated":
		path = job.AggregatedResultFilePath
	default:
		writeError(rw, apierror.InvalidInput("file_type must be one of: regular, aggregated"))
		return
	}
	if path == nil || *path == "" {
		writeError(rw, apierror.InvalidInput("job %s has no %s result file", id, fileType))
		return
	}
	serveFile(rw, r, *path)
}

func serveFile(rw http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(rw, apierror.NotFound("result file not found"))
			return
		}
		writeError(rw, apierror.Storage("opening result file", err))
		return
	}
	defer f.Close()
	rw.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(rw, r, filepath.Base(path), time.Time{}, f)
}
