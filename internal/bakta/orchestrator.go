package bakta

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gast-project/gast-orchestrator/internal/store"
	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

const maxErrorMessageLen = 2000

// jobRepository is the subset of *store.BaktaRepository the
// orchestrator needs, kept as an interface so tests run against a
// fake instead of a real database.
type jobRepository interface {
	GetJob(ctx context.Context, id string) (*schema.BaktaJob, error)
	UpdateJobStatus(ctx context.Context, id string, upd store.BaktaStatusUpdate) error
	AppendHistory(ctx context.Context, jobID string, status string, message *string) error
	ListRunning(ctx context.Context) ([]*schema.BaktaJob, error)
	SaveResultFile(ctx context.Context, f schema.BaktaResultFile) error
	SaveAnnotations(ctx context.Context, jobID string, annotations []schema.BaktaAnnotation) error
}

// remoteClient is the subset of *Client the orchestrator drives
// against, kept as an interface for the same reason.
type remoteClient interface {
	Init(ctx context.Context, name, repliconTableType string) (*InitResult, error)
	Upload(ctx context.Context, uploadLink string, data []byte) error
	Start(ctx context.Context, remoteID, secret string, cfg map[string]interface{}) error
	Status(ctx context.Context, remoteID, secret string) (*RemoteStatus, error)
	Logs(ctx context.Context, remoteID, secret string) (string, error)
	Result(ctx context.Context, remoteID, secret string) (*ResultResponse, error)
	Download(ctx context.Context, presignedURL string) (io.ReadCloser, error)
	Delete(ctx context.Context, remoteID, secret string) error
}

// Orchestrator runs a single BaktaJob's submit/poll/fetch lifecycle
// (spec §4.4b C4b).
type Orchestrator struct {
	jobs         jobRepository
	client       remoteClient
	resultsDir   string
	pollInterval time.Duration
	pollDeadline time.Duration
	log          *log.ComponentLogger
}

func NewOrchestrator(jobs jobRepository, client remoteClient, resultsDir string, pollInterval, pollDeadline time.Duration) *Orchestrator {
	return &Orchestrator{
		jobs: jobs, client: client, resultsDir: resultsDir,
		pollInterval: pollInterval, pollDeadline: pollDeadline,
		log: log.Component("bakta.orchestrator"),
	}
}

// Run drives jobID from wherever it currently sits through to a
// terminal local status. Safe to call again after a crash: a job
// already past submission (RemoteID set) skips straight to polling
// using the persisted remote_id/secret (spec §4.4b "crash-safe...
// resumed by re-entering the poll loop").
func (o *Orchestrator) Run(ctx context.Context, jobID string) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		o.log.Errorf("bakta job %s: cannot load: %v", jobID, err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	if job.RemoteID == nil {
		if err := o.submit(ctx, job); err != nil {
			o.fail(ctx, job.ID, err)
			return
		}
		job, err = o.jobs.GetJob(ctx, jobID)
		if err != nil {
			o.log.Errorf("bakta job %s: cannot reload after submit: %v", jobID, err)
			return
		}
	}

	o.poll(ctx, job)
}

// submit performs init -> upload -> start and transitions Init ->
// Running only after a successful start (spec §4.4b step 1).
func (o *Orchestrator) submit(ctx context.Context, job *schema.BaktaJob) error {
	init, err := o.client.Init(ctx, job.Name, "")
	if err != nil {
		return err
	}
	if err := o.jobs.UpdateJobStatus(ctx, job.ID, store.BaktaStatusUpdate{
		RemoteID: &init.RemoteID, Secret: &init.Secret,
	}); err != nil {
		return err
	}

	fasta, err := os.ReadFile(job.FastaPath)
	if err != nil {
		return apierror.InvalidInput("reading uploaded fasta: %v", err)
	}
	if err := o.client.Upload(ctx, init.UploadLinkFasta, fasta); err != nil {
		return err
	}

	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
		return apierror.InvalidInput("decoding stored bakta config: %v", err)
	}
	if err := o.client.Start(ctx, init.RemoteID, init.Secret, cfg); err != nil {
		return err
	}

	now := time.Now().UTC()
	running := schema.BaktaRunning
	if err := o.jobs.UpdateJobStatus(ctx, job.ID, store.BaktaStatusUpdate{
		Status: &running, StartedAt: &now,
	}); err != nil {
		return err
	}
	return o.jobs.AppendHistory(ctx, job.ID, string(schema.BaktaRunning), nil)
}

// poll runs the jittered poll loop until the job reaches a remote
// terminal state or the poll deadline elapses (spec §4.4b step 2).
func (o *Orchestrator) poll(ctx context.Context, job *schema.BaktaJob) {
	deadline := job.CreatedAt.Add(o.pollDeadline)
	if job.StartedAt != nil {
		deadline = job.StartedAt.Add(o.pollDeadline)
	}

	for {
		if time.Now().After(deadline) {
			o.timeout(ctx, job.ID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(o.pollInterval)):
		}

		remote, err := o.client.Status(ctx, *job.RemoteID, *job.Secret)
		if err != nil {
			if apierror.KindOf(err) == apierror.KindRemotePermanent {
				o.fail(ctx, job.ID, err)
				return
			}
			o.log.Warnf("bakta job %s: status poll failed, will retry: %v", job.ID, err)
			continue
		}
		if remote.Failed {
			o.fail(ctx, job.ID, apierror.RemotePermanent("bakta reported "+remote.FailedKey, nil))
			return
		}

		if err := o.jobs.AppendHistory(ctx, job.ID, remote.Status, nil); err != nil {
			o.log.Warnf("bakta job %s: recording poll observation failed: %v", job.ID, err)
		}

		switch remote.Status {
		case string(schema.BaktaSuccessful):
			o.finish(ctx, job)
			return
		case string(schema.BaktaError):
			o.failFromLogs(ctx, job)
			return
		}
	}
}

// finish downloads every result file and parses annotations (spec
// §4.4b step 3).
func (o *Orchestrator) finish(ctx context.Context, job *schema.BaktaJob) {
	result, err := o.client.Result(ctx, *job.RemoteID, *job.Secret)
	if err != nil {
		o.fail(ctx, job.ID, err)
		return
	}

	jobDir := filepath.Join(o.resultsDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		o.fail(ctx, job.ID, apierror.Storage("creating bakta result directory", err))
		return
	}

	var primaryJSON, gff3Data, tsvData []byte
	var warnings []string
	for fileType, presignedURL := range result.ResultFiles {
		data, err := o.downloadOne(ctx, presignedURL)
		if err != nil {
			warnings = append(warnings, fileType+": download failed: "+err.Error())
			continue
		}
		ext := extensionFor(fileType)
		path := filepath.Join(jobDir, fileType+ext)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			warnings = append(warnings, fileType+": write failed: "+err.Error())
			continue
		}
		if err := o.jobs.SaveResultFile(ctx, schema.BaktaResultFile{
			JobID: job.ID, FileType: fileType, FilePath: path, DownloadedAt: time.Now().UTC(),
		}); err != nil {
			o.log.Warnf("bakta job %s: recording result file %s failed: %v", job.ID, fileType, err)
		}

		switch strings.ToUpper(fileType) {
		case "JSON":
			primaryJSON = data
		case "GFF3":
			gff3Data = data
		case "TSV":
			tsvData = data
		}
	}

	var annotations []schema.BaktaAnnotation
	var havePrimary bool
	if primaryJSON != nil {
		parsed, err := ParseJSON(job.ID, primaryJSON)
		if err != nil {
			// The primary parser failing IS a job failure (spec §4.4b
			// step 3: "as long as at least the primary JSON parses").
			o.fail(ctx, job.ID, apierror.RemotePermanent("parsing bakta JSON result", err))
			return
		}
		annotations = parsed
		havePrimary = true
	}

	// GFF3/TSV are secondary sources: when the primary JSON parsed, their
	// annotations are not used, and a parse failure here only degrades to
	// a warning. When no JSON result file was returned at
	// all, one of these becomes the annotation source instead of being
	// discarded -- spec §8 S3 mocks a result with only a GFF3 file and
	// still expects its features persisted.
	var gff3Annotations, tsvAnnotations []schema.BaktaAnnotation
	if gff3Data != nil {
		parsed, warning := parseOptional(job.ID, gff3Data, ParseGFF3)
		if warning != "" {
			warnings = append(warnings, "GFF3: "+warning)
		} else {
			gff3Annotations = parsed
		}
	}
	if tsvData != nil {
		parsed, warning := parseOptional(job.ID, tsvData, ParseTSV)
		if warning != "" {
			warnings = append(warnings, "TSV: "+warning)
		} else {
			tsvAnnotations = parsed
		}
	}

	if !havePrimary {
		switch {
		case gff3Annotations != nil:
			annotations = gff3Annotations
		case tsvAnnotations != nil:
			annotations = tsvAnnotations
		default:
			o.log.Warnf("bakta job %s: no JSON result file and no usable GFF3/TSV fallback, skipping annotation import", job.ID)
		}
	}

	if len(annotations) > 0 {
		if err := o.jobs.SaveAnnotations(ctx, job.ID, annotations); err != nil {
			o.fail(ctx, job.ID, err)
			return
		}
	}
	for _, w := range warnings {
		o.log.Warnf("bakta job %s: %s", job.ID, w)
	}

	completedAt := time.Now().UTC()
	successful := schema.BaktaSuccessful
	if err := o.jobs.UpdateJobStatus(ctx, job.ID, store.BaktaStatusUpdate{
		Status: &successful, CompletedAt: &completedAt,
	}); err != nil {
		o.log.Errorf("bakta job %s: failed transitioning to Successful: %v", job.ID, err)
	}
}

func (o *Orchestrator) downloadOne(ctx context.Context, presignedURL string) ([]byte, error) {
	body, err := o.client.Download(ctx, presignedURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// failFromLogs fetches the remote log tail and uses its last line as
// the local error message (spec §4.4b step 4).
func (o *Orchestrator) failFromLogs(ctx context.Context, job *schema.BaktaJob) {
	msg := "bakta job failed"
	if logs, err := o.client.Logs(ctx, *job.RemoteID, *job.Secret); err == nil {
		if last := lastNonEmptyLine(logs); last != "" {
			msg = last
		}
	}
	o.fail(ctx, job.ID, apierror.RemotePermanent(msg, nil))
}

func (o *Orchestrator) timeout(ctx context.Context, jobID string) {
	o.fail(ctx, jobID, apierror.Timeout("bakta job %s exceeded poll deadline", jobID))
}

func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	completedAt := time.Now().UTC()
	errored := schema.BaktaError
	if err := o.jobs.UpdateJobStatus(ctx, jobID, store.BaktaStatusUpdate{
		Status: &errored, Error: &msg, CompletedAt: &completedAt,
	}); err != nil {
		o.log.Errorf("bakta job %s: failed transitioning to Error: %v", jobID, err)
		return
	}
	if err := o.jobs.AppendHistory(ctx, jobID, string(schema.BaktaError), &msg); err != nil {
		o.log.Errorf("bakta job %s: failed recording terminal Error history row: %v", jobID, err)
	}
}

// jitter returns d scaled by a uniformly random factor in [0.9, 1.1),
// matching spec §4.4b's "jittered ±10%".
func jitter(d time.Duration) time.Duration {
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * factor)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

func extensionFor(fileType string) string {
	switch strings.ToUpper(fileType) {
	case "JSON":
		return ".json"
	case "GFF3":
		return ".gff3"
	case "TSV":
		return ".tsv"
	case "EMBL":
		return ".embl"
	case "GBFF":
		return ".gbff"
	case "FAA":
		return ".faa"
	case "FFN":
		return ".ffn"
	case "FNA":
		return ".fna"
	case "TXTLOGS":
		return ".txt"
	default:
		return ".bin"
	}
}
