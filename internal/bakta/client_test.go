package bakta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

func TestClient_InitUploadStartStatusResultDownloadDelete(t *testing.T) {
	var gotAPIKey string
	var server *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/job/init", func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"job":             map[string]string{"jobID": "remote-1", "secret": "sek"},
			"uploadLinkFasta": server.URL + "/upload/fasta",
		})
	})
	mux.HandleFunc("/upload/fasta", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/job/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/v1/job/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs": []map[string]string{{"jobID": "remote-1", "jobStatus": "Running"}},
		})
	})
	mux.HandleFunc("/api/v1/job/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobID":       "remote-1",
			"ResultFiles": map[string]string{"GFF3": server.URL + "/download/gff3"},
		})
	})
	mux.HandleFunc("/download/gff3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("contig1\tBakta\tCDS\t1\t2\t.\t+\t0\tID=x\n"))
	})
	mux.HandleFunc("/api/v1/job/delete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // deleting an already-gone job is acceptable
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(ClientConfig{
		BaseURL: server.URL, APIKey: "key-123",
		RequestTimeout: 5 * time.Second, UploadTimeout: 5 * time.Second,
	})

	ctx := context.Background()

	init, err := client.Init(ctx, "job1", "")
	require.NoError(t, err)
	require.Equal(t, "remote-1", init.RemoteID)
	require.Equal(t, "sek", init.Secret)
	require.Equal(t, "key-123", gotAPIKey)

	require.NoError(t, client.Upload(ctx, init.UploadLinkFasta, []byte(">x\nACGT\n")))
	require.NoError(t, client.Start(ctx, init.RemoteID, init.Secret, map[string]interface{}{"genus": "Escherichia"}))

	status, err := client.Status(ctx, init.RemoteID, init.Secret)
	require.NoError(t, err)
	require.Equal(t, "Running", status.Status)
	require.False(t, status.Failed)

	result, err := client.Result(ctx, init.RemoteID, init.Secret)
	require.NoError(t, err)
	require.Equal(t, server.URL+"/download/gff3", result.ResultFiles["GFF3"])

	body, err := client.Download(ctx, result.ResultFiles["GFF3"])
	require.NoError(t, err)
	defer body.Close()

	require.NoError(t, client.Delete(ctx, init.RemoteID, init.Secret))
}

func TestClient_StatusReportsFailedJobs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/job/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jobs":       []map[string]string{},
			"failedJobs": map[string]string{"UNAUTHORIZED": "remote-1"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, RequestTimeout: 5 * time.Second})
	status, err := client.Status(context.Background(), "remote-1", "sek")
	require.NoError(t, err)
	require.True(t, status.Failed)
	require.Equal(t, "UNAUTHORIZED", status.FailedKey)
}

func TestClient_InitMissingFieldIsResponseError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/job/init", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"job": map[string]string{"jobID": "remote-1"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, RequestTimeout: 5 * time.Second})
	_, err := client.Init(context.Background(), "job1", "")
	require.Error(t, err)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "job.secret", respErr.Field)
}

func TestClient_4xxIsNotRetriedAndClassifiesPermanent(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/job/start", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, RequestTimeout: 5 * time.Second})
	err := client.Start(context.Background(), "remote-1", "sek", nil)
	require.Error(t, err)
	require.Equal(t, apierror.KindRemotePermanent, apierror.KindOf(err))
	require.Equal(t, 1, calls)
}

func TestCheckRetry_RetriesServerErrorsAndRateLimit(t *testing.T) {
	retry, err := checkRetry(context.Background(), &http.Response{StatusCode: http.StatusInternalServerError}, nil)
	require.NoError(t, err)
	require.True(t, retry)

	retry, err = checkRetry(context.Background(), &http.Response{StatusCode: http.StatusTooManyRequests}, nil)
	require.NoError(t, err)
	require.True(t, retry)

	retry, err = checkRetry(context.Background(), &http.Response{StatusCode: http.StatusBadRequest}, nil)
	require.NoError(t, err)
	require.False(t, retry)
}

func TestClassifyStatus_TransientVsPermanent(t *testing.T) {
	require.Equal(t, apierror.KindRemoteTransient, apierror.KindOf(classifyStatus("x", http.StatusServiceUnavailable)))
	require.Equal(t, apierror.KindRemoteTransient, apierror.KindOf(classifyStatus("x", http.StatusTooManyRequests)))
	require.Equal(t, apierror.KindRemotePermanent, apierror.KindOf(classifyStatus("x", http.StatusNotFound)))
}

func TestRedactErr_StripsSecretFromURLError(t *testing.T) {
	raw := &url.Error{Op: "Get", URL: "http://example.com/api/v1/job/logs?jobId=j1&secret=topsecret", Err: context.DeadlineExceeded}
	redacted := redactErr(raw)
	require.NotContains(t, redacted.Error(), "topsecret")
	require.Contains(t, redacted.Error(), "REDACTED")
}
