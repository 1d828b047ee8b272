package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gast-project/gast-orchestrator/internal/amr"
	"github.com/gast-project/gast-orchestrator/internal/config"
	"github.com/gast-project/gast-orchestrator/internal/store"
	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// handleSubmitBakta implements POST /bakta/jobs (spec §6.1): accepts a
// FASTA upload plus a JSON `config` field, merges it over the
// process-wide BAKTA_CONFIG_* defaults and an optional named preset
// (spec §6.3/§6.4 ADD), validates, and enqueues the submit/poll
// lifecycle on the Bakta worker pool.
func (a *API) handleSubmitBakta(rw http.ResponseWriter, r *http.Request) {
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

	mergedConfig, err := mergeBaktaConfig(formString(r, "preset", ""), r.FormValue("config"))
	if err != nil {
		writeError(rw, err)
		return
	}
	if err := schema.Validate(schema.BaktaConfigKind, mergedConfig); err != nil {
		writeError(rw, err)
		return
	}
	configJSON, err := json.Marshal(mergedConfig)
	if err != nil {
		writeError(rw, apierror.Internal("marshaling merged bakta config", err))
		return
	}

	jobID := uuid.NewString()
	fastaPath := filepath.Join(a.uploadDir, jobID+"_"+filepath.Base(header.Filename))
	if err := saveUploadedFile(fastaPath, file); err != nil {
		writeError(rw, err)
		return
	}

	savedFasta, err := os.Open(fastaPath)
	if err != nil {
		writeError(rw, apierror.Storage("reopening saved fasta for parsing", err))
		return
	}
	defer savedFasta.Close()
	seqs, err := amr.ParseFASTA(savedFasta)
	if err != nil {
		writeError(rw, err)
		return
	}

	now := time.Now().UTC()
	job := &schema.BaktaJob{
		ID: jobID, Name: header.Filename, Status: schema.BaktaInit,
		FastaPath: fastaPath, ConfigJSON: string(configJSON), CreatedAt: now,
	}
	var baktaSeqs []schema.BaktaSequence
	for _, s := range seqs {
		baktaSeqs = append(baktaSeqs, schema.BaktaSequence{Header: s.Header, Sequence: s.Bases, Length: len(s.Bases)})
	}
	if err := a.baktaJobs.CreateJob(r.Context(), job, baktaSeqs); err != nil {
		writeError(rw, err)
		return
	}

	a.baktaPool.Submit(jobID)
	writeJSON(rw, http.StatusOK, baktaJobResponse(job, string(schema.BaktaInit)))
}

// mergeBaktaConfig layers BAKTA_CONFIG_<KEY> defaults, then a named
// preset, then the per-request config body -- last writer wins (spec
// §6.4 ADD: "merged under any per-request config before validation").
func mergeBaktaConfig(preset, rawConfig string) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(config.Keys.BaktaConfigDefaults))
	for k, v := range config.Keys.BaktaConfigDefaults {
		merged[k] = v
	}

	if preset != "" {
		p, ok := schema.ConfigPresets[preset]
		if !ok {
			return nil, apierror.InvalidInput("unknown bakta config preset %q", preset)
		}
		presetMap, err := toMap(p)
		if err != nil {
			return nil, apierror.Internal("encoding bakta config preset", err)
		}
		for k, v := range presetMap {
			merged[k] = v
		}
	}

	if rawConfig != "" {
		var override map[string]interface{}
		if err := json.Unmarshal([]byte(rawConfig), &override); err != nil {
			return nil, apierror.InvalidInput("invalid config JSON: %v", err)
		}
		for k, v := range override {
			merged[k] = v
		}
	}
	return merged, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// handleGetBaktaJob implements GET /bakta/jobs/{id} (spec §6.1):
// includes the most recently observed remote status alongside the
// local one.
func (a *API) handleGetBaktaJob(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := a.baktaJobs.GetJob(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}

	remoteStatus := string(job.Status)
	if history, err := a.baktaJobs.StatusHistory(r.Context(), id); err == nil && len(history) > 0 {
		remoteStatus = history[len(history)-1].Status
	}
	writeJSON(rw, http.StatusOK, baktaJobResponse(job, remoteStatus))
}

// handleListAnnotations implements GET /bakta/jobs/{id}/annotations, a
// direct surface over store.BaktaRepository.Annotations (spec §4.2/§8
// item 5's range-query predicate); not itemized in the §6.1 endpoint
// table but the query it serves has no other caller.
func (a *API) handleListAnnotations(rw http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := store.AnnotationQuery{}

	query := r.URL.Query()
	if v := query.Get("feature_type"); v != "" {
		q.FeatureType = &v
	}
	if v := query.Get("contig"); v != "" {
		q.Contig = &v
	}
	if v := query.Get("range_start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(rw, apierror.InvalidInput("range_start must be an integer: %v", err))
			return
		}
		q.RangeStart = &n
	}
	if v := query.Get("range_end"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(rw, apierror.InvalidInput("range_end must be an integer: %v", err))
			return
		}
		q.RangeEnd = &n
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(rw, apierror.InvalidInput("limit must be an integer: %v", err))
			return
		}
		q.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(rw, apierror.InvalidInput("offset must be an integer: %v", err))
			return
		}
		q.Offset = n
	}

	annotations, err := a.baktaJobs.Annotations(r.Context(), id, q)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, annotations)
}

// handleDownloadBaktaFile implements GET /bakta/jobs/{id}/files/{type}
// (spec §6.1).
func (a *API) handleDownloadBaktaFile(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, fileType := vars["id"], vars["type"]

	files, err := a.baktaJobs.ResultFiles(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}
	for _, f := range files {
		if f.FileType == fileType {
			serveFile(rw, r, f.FilePath)
			return
		}
	}
	writeError(rw, apierror.NotFound("bakta job %s has no %s result file", id, fileType))
}
