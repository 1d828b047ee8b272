package api

import (
	"encoding/json"
	"net/http"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// errorBody is the generic shape every non-validation error response
// follows (spec §6.1: "All error bodies follow {error:{code, message,
// details?}}").
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// validationErrorBody is the distinct 422 shape spec §6.1 documents
// for request validation failures.
type validationErrorBody struct {
	Detail  []string `json:"detail"`
	Message string   `json:"message"`
}

// writeError translates err's apierror.Kind to an HTTP status and the
// matching JSON body (spec §6.1 "Validation errors", "Auth errors",
// "All error bodies").
func writeError(rw http.ResponseWriter, err error) {
	kind := apierror.KindOf(err)
	status, code := statusAndCodeFor(kind)

	if kind == apierror.KindInvalidInput {
		writeJSON(rw, http.StatusUnprocessableEntity, validationErrorBody{
			Detail:  []string{err.Error()},
			Message: "Validation error - check your request format",
		})
		return
	}

	if status >= http.StatusInternalServerError {
		log.Errorf("api: %s: %v", code, err)
	}
	writeJSON(rw, status, errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

func statusAndCodeFor(kind apierror.Kind) (int, string) {
	switch kind {
	case apierror.KindInvalidInput:
		return http.StatusUnprocessableEntity, "InvalidInput"
	case apierror.KindNotFound:
		return http.StatusNotFound, "NotFound"
	case apierror.KindConflict:
		return http.StatusConflict, "Conflict"
	case apierror.KindAuth:
		return http.StatusUnauthorized, "AuthError"
	case apierror.KindTimeout:
		return http.StatusGatewayTimeout, "Timeout"
	case apierror.KindUpstreamUnavailable, apierror.KindRemoteTransient:
		return http.StatusServiceUnavailable, "UpstreamUnavailable"
	case apierror.KindRemotePermanent:
		return http.StatusBadGateway, "RemotePermanent"
	case apierror.KindStorage:
		return http.StatusInternalServerError, "StorageError"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

func writeJSON(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		log.Errorf("api: encoding response body: %v", err)
	}
}
