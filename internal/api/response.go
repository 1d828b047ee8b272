package api

import (
	"time"

	"github.com/gast-project/gast-orchestrator/pkg/schema"
)

// JobResponse is the wire shape for every AMR-job-bearing endpoint
// (spec §6.1: "job_id, status, progress, start_time, end_time?,
// result_file?, aggregated_result_file?, error?, additional_info?").
type JobResponse struct {
	JobID                string                 `json:"job_id"`
	Status               string                 `json:"status"`
	Progress             float64                `json:"progress"`
	StartTime            *time.Time             `json:"start_time,omitempty"`
	EndTime              *time.Time             `json:"end_time,omitempty"`
	ResultFile           *string                `json:"result_file,omitempty"`
	AggregatedResultFile *string                `json:"aggregated_result_file,omitempty"`
	Error                *string                `json:"error,omitempty"`
	AdditionalInfo       map[string]interface{} `json:"additional_info,omitempty"`
}

func jobResponse(job *schema.AMRJob, additionalInfo map[string]interface{}) JobResponse {
	return JobResponse{
		JobID:                job.ID,
		Status:               string(job.Status),
		Progress:             job.Progress,
		StartTime:            job.StartedAt,
		EndTime:              job.CompletedAt,
		ResultFile:           job.ResultFilePath,
		AggregatedResultFile: job.AggregatedResultFilePath,
		Error:                job.Error,
		AdditionalInfo:       additionalInfo,
	}
}

// BaktaJobResponse is the wire shape for GET /bakta/jobs/{id} (spec
// §6.1: "includes remote status").
type BaktaJobResponse struct {
	JobID        string     `json:"job_id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	RemoteStatus string     `json:"remote_status,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Error        *string    `json:"error,omitempty"`
}

func baktaJobResponse(job *schema.BaktaJob, remoteStatus string) BaktaJobResponse {
	return BaktaJobResponse{
		JobID:        job.ID,
		Name:         job.Name,
		Status:       string(job.Status),
		RemoteStatus: remoteStatus,
		StartTime:    job.StartedAt,
		EndTime:      job.CompletedAt,
		Error:        job.Error,
	}
}
