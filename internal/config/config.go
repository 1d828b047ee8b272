// Package config holds the process-wide configuration struct: a set
// of compiled-in defaults, overlaid first by an optional JSON config
// file and then by environment variables (spec §6.4).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// Keys is the single process-wide configuration instance. It is
// populated once at startup by Init and read thereafter; nothing in
// this package re-reads the environment after Init returns.
var Keys ProgramConfig = ProgramConfig{
	Addr:          ":8080",
	PathPrefix:    "/",
	Environment:   "dev",
	ResultsDir:    "./var/results",
	UploadDir:     "./var/uploads",
	Store: StoreConfig{
		Driver:             "sqlite3",
		DSN:                "./var/gast.db",
		MaxOpenConns:       10,
		MaxIdleConns:       10,
		ConnMaxLifetime:    "1h",
		AcquireTimeout:     "30s",
	},
	AMRPoolSize:   0, // 0 => runtime.NumCPU(); larger values are clamped to it
	BaktaPoolSize: 8,
	Bakta: BaktaEndpointConfig{
		PollInterval: "30s",
		PollDeadline: "24h",
		RequestTimeout: "30s",
		UploadTimeout:  "10m",
	},
	Retention: RetentionConfig{
		SweepInterval: "6h",
		ArchiveAfter:  "720h",
		DeleteAfter:   "4320h",
	},
	ColdStorage: ColdStorageConfig{
		Kind: "file",
		Path: "./var/cold-storage",
	},
	BaktaConfigDefaults: map[string]interface{}{},
}

type ProgramConfig struct {
	Addr       string `json:"addr"`
	PathPrefix string `json:"path_prefix"`

	// Environment selects which BAKTA_API_URL_* variable is active and
	// which PG_DATABASE_* variable names the database (spec §6.4).
	Environment string `json:"environment"`

	ResultsDir string `json:"results_dir"`
	UploadDir  string `json:"upload_dir"`

	Store StoreConfig `json:"store"`

	AMRPoolSize   int `json:"amr_pool_size"`
	BaktaPoolSize int `json:"bakta_pool_size"`

	Bakta     BaktaEndpointConfig `json:"bakta"`
	Retention RetentionConfig     `json:"retention"`

	ColdStorage ColdStorageConfig `json:"cold_storage"`

	// BaktaConfigDefaults holds parsed BAKTA_CONFIG_<KEY> overrides,
	// merged under any per-request config before validation (SPEC_FULL
	// §6.4 ADD).
	BaktaConfigDefaults map[string]interface{} `json:"-"`

	// JWTPublicKey, if set, is the base64-encoded Ed25519 public key
	// internal/auth uses to verify bearer tokens. Unset means requests
	// without a token are treated as anonymous and requests that present
	// one are rejected (spec §1: token validation itself is assumed, not
	// implemented here).
	JWTPublicKey string `json:"jwt_public_key"`
}

type StoreConfig struct {
	Driver          string `json:"driver"` // "postgres" or "sqlite3"
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime"`
	AcquireTimeout  string `json:"acquire_timeout"`
}

func (s StoreConfig) ConnMaxLifetimeDuration() time.Duration {
	return mustParseDuration(s.ConnMaxLifetime, time.Hour)
}

func (s StoreConfig) AcquireTimeoutDuration() time.Duration {
	return mustParseDuration(s.AcquireTimeout, 30*time.Second)
}

type BaktaEndpointConfig struct {
	URLProd    string `json:"-"`
	URLStaging string `json:"-"`
	URLDev     string `json:"-"`
	URLLocal   string `json:"-"`
	APIKey     string `json:"-"`

	PollInterval   string `json:"poll_interval"`
	PollDeadline   string `json:"poll_deadline"`
	RequestTimeout string `json:"request_timeout"`
	UploadTimeout  string `json:"upload_timeout"`
}

func (b BaktaEndpointConfig) PollIntervalDuration() time.Duration {
	return mustParseDuration(b.PollInterval, 30*time.Second)
}

func (b BaktaEndpointConfig) PollDeadlineDuration() time.Duration {
	return mustParseDuration(b.PollDeadline, 24*time.Hour)
}

func (b BaktaEndpointConfig) RequestTimeoutDuration() time.Duration {
	return mustParseDuration(b.RequestTimeout, 30*time.Second)
}

func (b BaktaEndpointConfig) UploadTimeoutDuration() time.Duration {
	return mustParseDuration(b.UploadTimeout, 10*time.Minute)
}

// BaseURL picks the endpoint matching Keys.Environment (spec §6.3/§6.4).
func (b BaktaEndpointConfig) BaseURL(environment string) string {
	switch environment {
	case "prod":
		return b.URLProd
	case "staging":
		return b.URLStaging
	case "local":
		return b.URLLocal
	default:
		return b.URLDev
	}
}

type RetentionConfig struct {
	SweepInterval string `json:"sweep_interval"`
	ArchiveAfter  string `json:"archive_after"`
	DeleteAfter   string `json:"delete_after"`
}

func (r RetentionConfig) SweepIntervalDuration() time.Duration {
	return mustParseDuration(r.SweepInterval, 6*time.Hour)
}

func (r RetentionConfig) ArchiveAfterDuration() time.Duration {
	return mustParseDuration(r.ArchiveAfter, 30*24*time.Hour)
}

func (r RetentionConfig) DeleteAfterDuration() time.Duration {
	return mustParseDuration(r.DeleteAfter, 180*24*time.Hour)
}

type ColdStorageConfig struct {
	Kind     string `json:"kind"` // "file" or "s3"
	Path     string `json:"path"`
	S3Bucket string `json:"s3_bucket"`
	S3Region string `json:"s3_region"`
	S3Prefix string `json:"s3_prefix"`

	// S3AccessKeyID/S3SecretAccessKey are optional: when unset, the AWS
	// SDK's default credential chain (env vars, shared config, instance
	// role) is used instead.
	S3AccessKeyID     string `json:"-"`
	S3SecretAccessKey string `json:"-"`
}

func mustParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warnf("config: invalid duration %q, using default %v", s, fallback)
		return fallback
	}
	return d
}

// Init overlays Keys with flagConfigFile (if present) and then with
// environment variables, mirroring the teacher's file-then-env layering
// in internal/config/config.go + pkg/runtimeEnv.
func Init(flagConfigFile string) {
	if flagConfigFile != "" {
		raw, err := os.ReadFile(flagConfigFile)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Fatalf("config: reading %s: %v", flagConfigFile, err)
			}
		} else {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&Keys); err != nil {
				log.Fatalf("config: decoding %s: %v", flagConfigFile, err)
			}
		}
	}

	applyEnv()
}

// applyEnv binds every §6.4 environment variable onto Keys, then scans
// for BAKTA_CONFIG_<KEY> passthrough overrides.
func applyEnv() {
	if v := os.Getenv("BAKTA_API_URL_PROD"); v != "" {
		Keys.Bakta.URLProd = v
	}
	if v := os.Getenv("BAKTA_API_URL_STAGING"); v != "" {
		Keys.Bakta.URLStaging = v
	}
	if v := os.Getenv("BAKTA_API_URL_DEV"); v != "" {
		Keys.Bakta.URLDev = v
	}
	if v := os.Getenv("BAKTA_API_URL_LOCAL"); v != "" {
		Keys.Bakta.URLLocal = v
	}
	if v := os.Getenv("BAKTA_API_KEY"); v != "" {
		Keys.Bakta.APIKey = v
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		Keys.Environment = v
	}
	if v := os.Getenv("RESULTS_DIR"); v != "" {
		Keys.ResultsDir = v
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		Keys.UploadDir = v
	}
	if v := os.Getenv("JWT_PUBLIC_KEY"); v != "" {
		Keys.JWTPublicKey = v
	}

	pgHost := os.Getenv("PG_HOST")
	pgPort := os.Getenv("PG_PORT")
	pgUser := os.Getenv("PG_USER")
	pgPassword := os.Getenv("PG_PASSWORD")
	pgDatabase := pgDatabaseForEnvironment(Keys.Environment)
	if pgHost != "" && pgDatabase != "" {
		Keys.Store.Driver = "postgres"
		Keys.Store.DSN = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			pgHost, orDefault(pgPort, "5432"), pgUser, pgPassword, pgDatabase,
		)
	}

	if v := os.Getenv("COLD_STORAGE_KIND"); v != "" {
		Keys.ColdStorage.Kind = v
	}
	if v := os.Getenv("COLD_STORAGE_PATH"); v != "" {
		Keys.ColdStorage.Path = v
	}
	if v := os.Getenv("COLD_STORAGE_S3_BUCKET"); v != "" {
		Keys.ColdStorage.S3Bucket = v
	}
	if v := os.Getenv("COLD_STORAGE_S3_REGION"); v != "" {
		Keys.ColdStorage.S3Region = v
	}
	if v := os.Getenv("COLD_STORAGE_S3_PREFIX"); v != "" {
		Keys.ColdStorage.S3Prefix = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		Keys.ColdStorage.S3AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		Keys.ColdStorage.S3SecretAccessKey = v
	}

	Keys.BaktaConfigDefaults = parseBaktaConfigEnv(os.Environ())
}

func pgDatabaseForEnvironment(env string) string {
	switch env {
	case "prod":
		return os.Getenv("PG_DATABASE_PROD")
	case "test":
		return os.Getenv("PG_DATABASE_TEST")
	default:
		return os.Getenv("PG_DATABASE_DEV")
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// parseBaktaConfigEnv implements the BAKTA_CONFIG_<KEY> coercion rules
// from spec §6.4: true/yes/1 -> bool true, false/no/0 -> bool false,
// an integer literal -> int, "none" -> nil, else string.
func parseBaktaConfigEnv(environ []string) map[string]interface{} {
	const prefix = "BAKTA_CONFIG_"
	out := make(map[string]interface{})
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := configKeyToField(strings.TrimPrefix(parts[0], prefix))
		out[key] = coerceBaktaConfigValue(parts[1])
	}
	return out
}

// configKeyToField maps an env-style UPPER_SNAKE key fragment to the
// camelCase BaktaConfig field name it overrides (e.g. MIN_CONTIG_LENGTH
// -> minContigLength).
func configKeyToField(envKey string) string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	if len(parts) == 0 {
		return envKey
	}
	var sb strings.Builder
	sb.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}

func coerceBaktaConfigValue(raw string) interface{} {
	switch strings.ToLower(raw) {
	case "true", "yes", "1":
		return true
	case "false", "no", "0":
		return false
	case "none":
		return nil
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	return raw
}
