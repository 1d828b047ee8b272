package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
)

func formString(r *http.Request, key, def string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return def
}

func formInt(r *http.Request, key string, def int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apierror.InvalidInput("%s must be an integer: %v", key, err)
	}
	return n, nil
}

func formFloat(r *http.Request, key string, def float64) (float64, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apierror.InvalidInput("%s must be a number: %v", key, err)
	}
	return f, nil
}

func formBool(r *http.Request, key string, def bool) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apierror.InvalidInput("%s must be a boolean: %v", key, err)
	}
	return b, nil
}

// saveUploadedFile copies an uploaded multipart file to path, which
// must sit inside the configured upload directory (spec §6.2).
func saveUploadedFile(path string, src multipart.File) error {
	dst, err := os.Create(path)
	if err != nil {
		return apierror.Storage("creating uploaded file destination", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return apierror.Storage("writing uploaded file", err)
	}
	return nil
}

// hashIdempotencyKey/hashIdempotencyBody implement the hash(key, body)
// -> job_id contract from spec §4.5: the key is hashed on its own so
// the lookup index never stores a caller-chosen token verbatim, and
// the body hash detects a key reused with different request content.
func hashIdempotencyKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func hashIdempotencyBody(parts ...interface{}) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
