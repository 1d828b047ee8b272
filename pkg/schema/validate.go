package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/gast-project/gast-orchestrator/pkg/apierror"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Kind int

const (
	AMRParams Kind = iota + 1
	BaktaConfigKind
)

//go:embed schemas/*
var schemaFiles embed.FS

func Load(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = Load
}

// Validate checks v (already decoded into a JSON-compatible value, or
// any json.Marshal-able struct) against the schema for k.
func Validate(k Kind, v interface{}) error {
	var s *jsonschema.Schema
	var err error

	switch k {
	case AMRParams:
		s, err = jsonschema.Compile("embedFS://schemas/amr_job_params.json")
	case BaktaConfigKind:
		s, err = jsonschema.Compile("embedFS://schemas/bakta_config.json")
	default:
		return apierror.Internal("unknown schema kind", nil)
	}
	if err != nil {
		return apierror.Internal("failed to compile schema", err)
	}

	doc, err := toJSONValue(v)
	if err != nil {
		return apierror.InvalidInput("could not decode document for validation: %v", err)
	}

	if err := s.Validate(doc); err != nil {
		return apierror.InvalidInput("schema validation failed: %v", err)
	}
	return nil
}

// ValidateReader reads JSON from r and validates it against k, mirroring
// the decode-then-validate shape used for request bodies.
func ValidateReader(k Kind, r io.Reader) error {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return apierror.InvalidInput("invalid JSON body: %v", err)
	}
	return Validate(k, v)
}

func toJSONValue(v interface{}) (interface{}, error) {
	if raw, ok := v.(json.RawMessage); ok {
		var out interface{}
		err := json.Unmarshal(raw, &out)
		return out, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
