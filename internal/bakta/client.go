// Package bakta drives the external Bakta genome-annotation web API: a
// stateless HTTP client (Client, C4a) plus a per-job poll/fetch loop
// (Orchestrator, C4b) that persists its progress.
package bakta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// ClientConfig configures a Client (spec §4.4a, §6.3).
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	// RequestsPerSecond throttles outbound calls as a courtesy to the
	// remote API, the same golang.org/x/time/rate pattern
	// bobmcallan-vire's navexa/eodhd clients use.
	RequestsPerSecond float64
}

// Client is a stateless wrapper over the Bakta remote job protocol.
// All state (remote_id, secret) lives on the caller's BaktaJob row --
// the client never remembers which job it last talked to.
type Client struct {
	http    *retryablehttp.Client
	upload  *http.Client // separate timeout: uploads use §5's 10m, not the 30s per-call default
	limiter *rate.Limiter
	baseURL string
	apiKey  string
	log     *log.ComponentLogger
}

func NewClient(cfg ClientConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil // retryablehttp's own logger is disabled; individual retry attempts are not logged
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 30 * time.Second
	rc.RetryMax = 5
	rc.CheckRetry = checkRetry
	rc.Backoff = retryablehttp.DefaultBackoff // honors Retry-After on 429/503 already
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	if rc.HTTPClient.Timeout == 0 {
		rc.HTTPClient.Timeout = 30 * time.Second
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	return &Client{
		http:    rc,
		upload:  &http.Client{Timeout: cfg.UploadTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		log:     log.Component("bakta.client"),
	}
}

// checkRetry retries 5xx, 408, 429, and transport errors only -- spec
// §4.4a: "4xx responses (except 408/429) are not retried."
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// ResponseError marks a Bakta response missing a required field (spec
// §4.4a: "Every response is validated against an expected field set
// before acceptance; missing fields raise a ResponseError.")
type ResponseError struct {
	Endpoint string
	Field    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("bakta %s: response missing required field %q", e.Endpoint, e.Field)
}

type initRequest struct {
	Name              string `json:"name"`
	RepliconTableType string `json:"repliconTableType"`
}

type initResponse struct {
	Job struct {
		JobID  string `json:"jobID"`
		Secret string `json:"secret"`
	} `json:"job"`
	UploadLinkFasta    string `json:"uploadLinkFasta"`
	UploadLinkProdigal string `json:"uploadLinkProdigal"`
	UploadLinkReplicons string `json:"uploadLinkReplicons"`
}

// InitResult is the redacted-for-logging view of an init response: the
// secret is carried but never formatted into a log line or error by
// any caller outside this package.
type InitResult struct {
	RemoteID            string
	Secret              string
	UploadLinkFasta     string
	UploadLinkProdigal  string
	UploadLinkReplicons string
}

// Init starts a new remote job (spec §4.4a step 1).
func (c *Client) Init(ctx context.Context, name, repliconTableType string) (*InitResult, error) {
	var resp initResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/job/init", initRequest{
		Name: name, RepliconTableType: repliconTableType,
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Job.JobID == "" {
		return nil, &ResponseError{Endpoint: "init", Field: "job.jobID"}
	}
	if resp.Job.Secret == "" {
		return nil, &ResponseError{Endpoint: "init", Field: "job.secret"}
	}
	if resp.UploadLinkFasta == "" {
		return nil, &ResponseError{Endpoint: "init", Field: "uploadLinkFasta"}
	}
	return &InitResult{
		RemoteID:            resp.Job.JobID,
		Secret:              resp.Job.Secret,
		UploadLinkFasta:     resp.UploadLinkFasta,
		UploadLinkProdigal:  resp.UploadLinkProdigal,
		UploadLinkReplicons: resp.UploadLinkReplicons,
	}, nil
}

// Upload PUTs data to one init-issued upload link (spec §4.4a step 2).
// It performs a single PUT; the fasta, prodigal and replicons links each
// take a separate call.
func (c *Client) Upload(ctx context.Context, uploadLink string, data []byte) error {
	if uploadLink == "" {
		return apierror.Internal("upload: empty upload link", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return apierror.Timeout("rate limiter wait: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadLink, bytes.NewReader(data))
	if err != nil {
		return apierror.Internal("building upload request", err)
	}
	resp, err := c.upload.Do(req)
	if err != nil {
		return apierror.RemoteTransient("fasta upload failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return classifyStatus("upload", resp.StatusCode)
	}
	return nil
}

type startJobRef struct {
	JobID  string `json:"jobID"`
	Secret string `json:"secret"`
}

type startRequest struct {
	Config map[string]interface{} `json:"config"`
	Job    startJobRef            `json:"job"`
}

// Start kicks off remote analysis (spec §4.4a step 3).
func (c *Client) Start(ctx context.Context, remoteID, secret string, cfg map[string]interface{}) error {
	var resp struct{}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/job/start", startRequest{
		Config: cfg,
		Job:    startJobRef{JobID: remoteID, Secret: secret},
	}, &resp)
}

type listRequest struct {
	Jobs []startJobRef `json:"jobs"`
}

// RemoteStatus is one job's entry in a list/status response.
type RemoteStatus struct {
	JobID     string
	Status    string
	Started   string
	Updated   string
	Name      string
	Failed    bool
	FailedKey string // "UNAUTHORIZED" / "NOT_FOUND" -- only set when Failed
}

type listResponseJob struct {
	JobID     string `json:"jobID"`
	JobStatus string `json:"jobStatus"`
	Started   string `json:"started"`
	Updated   string `json:"updated"`
	Name      string `json:"name"`
}

type listResponse struct {
	Jobs       []listResponseJob `json:"jobs"`
	FailedJobs map[string]string `json:"failedJobs"`
}

// Status polls current remote status for one job (spec §4.4a step 4).
func (c *Client) Status(ctx context.Context, remoteID, secret string) (*RemoteStatus, error) {
	var resp listResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/job/list", listRequest{
		Jobs: []startJobRef{{JobID: remoteID, Secret: secret}},
	}, &resp); err != nil {
		return nil, err
	}
	for key, id := range resp.FailedJobs {
		if id == remoteID {
			return &RemoteStatus{JobID: remoteID, Failed: true, FailedKey: key}, nil
		}
	}
	for _, j := range resp.Jobs {
		if j.JobID == remoteID {
			if j.JobStatus == "" {
				return nil, &ResponseError{Endpoint: "list", Field: "jobStatus"}
			}
			return &RemoteStatus{
				JobID: j.JobID, Status: j.JobStatus, Started: j.Started,
				Updated: j.Updated, Name: j.Name,
			}, nil
		}
	}
	return nil, apierror.NotFound("bakta job %s not present in list response", remoteID)
}

// Logs fetches plaintext logs (spec §4.4a step 5).
func (c *Client) Logs(ctx context.Context, remoteID, secret string) (string, error) {
	q := url.Values{"jobId": {remoteID}, "secret": {secret}}
	body, status, err := c.doRaw(ctx, http.MethodGet, "/api/v1/job/logs?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", classifyStatus("logs", status)
	}
	return string(body), nil
}

type resultRequest struct {
	JobID  string `json:"jobID"`
	Secret string `json:"secret"`
}

// ResultResponse carries the pre-signed download URLs per file type
// (spec §4.4a step 6).
type ResultResponse struct {
	JobID       string            `json:"jobID"`
	Name        string            `json:"name"`
	Started     string            `json:"started"`
	Updated     string            `json:"updated"`
	ResultFiles map[string]string `json:"ResultFiles"`
}

func (c *Client) Result(ctx context.Context, remoteID, secret string) (*ResultResponse, error) {
	var resp ResultResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/job/result", resultRequest{
		JobID: remoteID, Secret: secret,
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.ResultFiles) == 0 {
		return nil, &ResponseError{Endpoint: "result", Field: "ResultFiles"}
	}
	return &resp, nil
}

// Download streams a pre-signed result URL's body (spec §4.4a step 7).
// The URL carries its own auth; no additional headers are added.
func (c *Client) Download(ctx context.Context, presignedURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apierror.Timeout("rate limiter wait: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
	if err != nil {
		return nil, apierror.Internal("building download request", err)
	}
	resp, err := c.upload.Do(req)
	if err != nil {
		return nil, apierror.RemoteTransient("result download failed", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, classifyStatus("download", resp.StatusCode)
	}
	return resp.Body, nil
}

// Delete tears down the remote job (spec §4.4a step 8). A 404 is
// acceptable -- the job may already be gone.
func (c *Client) Delete(ctx context.Context, remoteID, secret string) error {
	q := url.Values{"jobId": {remoteID}, "secret": {secret}}
	_, status, err := c.doRaw(ctx, http.MethodDelete, "/api/v1/job/delete?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status >= 400 {
		return classifyStatus("delete", status)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apierror.Internal("marshaling bakta request", err)
		}
		reader = bytes.NewReader(b)
	}
	respBody, status, err := c.doRaw(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if status >= 400 {
		return classifyStatus(path, status)
	}
	if out == nil {
		return nil
	}
	if len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apierror.RemotePermanent("decoding bakta response", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, apierror.Timeout("rate limiter wait: %v", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, apierror.Internal("building bakta request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Secrets appear in query strings on list/logs/delete -- never
		// include path or err verbatim if it might echo the URL back.
		return nil, 0, apierror.RemoteTransient("bakta request failed", redactErr(err))
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apierror.RemoteTransient("reading bakta response body", err)
	}
	return b, resp.StatusCode, nil
}

func classifyStatus(endpoint string, status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return apierror.RemoteTransient(endpoint+": bakta returned "+strconv.Itoa(status), nil)
	}
	return apierror.RemotePermanent(endpoint+": bakta returned "+strconv.Itoa(status), nil)
}

// redactErr strips any query-string secret out of a transport error's
// message before it is wrapped -- net/http embeds the request URL
// verbatim in *url.Error (spec §4.4a "Secrets never appear in logs or
// error messages").
func redactErr(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			q := u.Query()
			if q.Has("secret") {
				q.Set("secret", "REDACTED")
				u.RawQuery = q.Encode()
				uerr.URL = u.String()
				return uerr
			}
		}
	}
	return err
}
