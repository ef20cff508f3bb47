// Package config loads pbtransfer settings from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/pbtransfer/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every configuration problem reported by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Store kinds.
const (
	StorePocketBase = "pocketbase"
	StoreSurrealDB  = "surrealdb"
)

// Endpoint configures one side of the transfer.
type Endpoint struct {
	Store    string `yaml:"store"`
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// SurrealDB only
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
	AuthLevel string `yaml:"auth_level"`
}

// Attachment declares an attachment field and its cardinality.
type Attachment struct {
	Field       string `yaml:"field"`
	Cardinality string `yaml:"cardinality"`
}

// Collection configures one collection to transfer.
type Collection struct {
	Name          string `yaml:"name"`
	SelfReference string `yaml:"self_reference"`
	// Attachments replaces the run-wide attachment fields when present,
	// even when empty.
	Attachments []Attachment `yaml:"attachments"`
}

// Config holds all configuration values.
type Config struct {
	Source      Endpoint `yaml:"source"`
	Destination Endpoint `yaml:"destination"`

	Collections []Collection `yaml:"collections"`
	Attachments []Attachment `yaml:"attachments"`

	// Transfer tuning
	StagingDir      string        `yaml:"staging_dir"`
	BatchSize       int           `yaml:"batch_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	Parallel        int           `yaml:"parallel"`

	// Run journal (disabled when empty)
	JournalPath string `yaml:"journal_path"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// problems collects values that could not be parsed.
	problems []string
}

// Load reads configuration from environment variables. Unparsable values
// are kept as problems and reported by Validate.
func Load() Config {
	cfg := Config{
		Source:      loadEndpoint("DONOR_"),
		Destination: loadEndpoint("RECIPIENT_"),

		StagingDir:  getEnv("STAGING_DIR", ""),
		JournalPath: getEnv("JOURNAL_PATH", ""),

		LogFile:  getEnv("PBTRANSFER_LOG_FILE", filepath.Join(os.TempDir(), "pbtransfer.log")),
		LogLevel: getEnv("PBTRANSFER_LOG_LEVEL", "INFO"),
	}

	cfg.BatchSize = cfg.intEnv("BATCH_SIZE", 50)
	cfg.MaxRetries = cfg.intEnv("MAX_RETRIES", 3)
	cfg.Parallel = cfg.intEnv("PARALLEL", 1)
	cfg.DownloadTimeout = cfg.durationEnv("DOWNLOAD_TIMEOUT", 30*time.Second)
	cfg.RequestTimeout = cfg.durationEnv("REQUEST_TIMEOUT", 60*time.Second)

	selfRefs := cfg.pairsEnv("SELF_REFERENCES")
	for _, name := range splitList(firstEnv("COLLECTIONS", "COLLECTION_NAME")) {
		cfg.Collections = append(cfg.Collections, Collection{Name: name, SelfReference: selfRefs[name]})
	}
	for _, pair := range splitList(os.Getenv("ATTACHMENT_FIELDS")) {
		field, card, ok := strings.Cut(pair, "=")
		if !ok {
			card = string(models.CardinalitySingle)
		}
		cfg.Attachments = append(cfg.Attachments, Attachment{
			Field:       strings.TrimSpace(field),
			Cardinality: strings.TrimSpace(card),
		})
	}

	return cfg
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func loadEndpoint(prefix string) Endpoint {
	return Endpoint{
		Store:     strings.ToLower(getEnv(prefix+"STORE", StorePocketBase)),
		URL:       firstEnv(prefix+"URL", prefix+"POCKETBASE_URL"),
		User:      firstEnv(prefix+"USER", prefix+"SUPERUSER_EMAIL"),
		Password:  firstEnv(prefix+"PASSWORD", prefix+"SUPERUSER_PASSWORD"),
		Namespace: getEnv(prefix+"NAMESPACE", ""),
		Database:  getEnv(prefix+"DATABASE", ""),
		AuthLevel: getEnv(prefix+"AUTH_LEVEL", "root"),
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	for _, p := range c.problems {
		add("%s", p)
	}

	for _, side := range []struct {
		name string
		ep   Endpoint
	}{{"source", c.Source}, {"destination", c.Destination}} {
		ep := side.ep
		if ep.URL == "" {
			add("%s url is required", side.name)
		}
		switch ep.Store {
		case StorePocketBase:
			if ep.User == "" || ep.Password == "" {
				add("%s user and password are required", side.name)
			}
		case StoreSurrealDB:
			if ep.Namespace == "" || ep.Database == "" {
				add("%s namespace and database are required", side.name)
			}
		default:
			add("%s store %q is not one of %s, %s", side.name, ep.Store, StorePocketBase, StoreSurrealDB)
		}
	}

	if len(c.Collections) == 0 {
		add("at least one collection is required")
	}
	seen := map[string]bool{}
	for _, coll := range c.Collections {
		if coll.Name == "" {
			add("collection name is empty")
			continue
		}
		if seen[coll.Name] {
			add("collection %s is listed twice", coll.Name)
		}
		seen[coll.Name] = true

		schema := c.Attachments
		if coll.Attachments != nil {
			schema = coll.Attachments
		}
		for _, a := range schema {
			if a.Field != "" && a.Field == coll.SelfReference {
				add("collection %s: field %s cannot be both self reference and attachment", coll.Name, a.Field)
			}
		}
		for _, a := range coll.Attachments {
			errs = append(errs, validateAttachment(a)...)
		}
	}
	for _, a := range c.Attachments {
		errs = append(errs, validateAttachment(a)...)
	}

	if c.BatchSize <= 0 {
		add("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Parallel <= 0 {
		add("parallel must be positive, got %d", c.Parallel)
	}
	if c.MaxRetries < 0 {
		add("max retries cannot be negative, got %d", c.MaxRetries)
	}
	if c.DownloadTimeout <= 0 {
		add("download timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		add("request timeout must be positive")
	}

	return errors.Join(errs...)
}

func validateAttachment(a Attachment) []error {
	var errs []error
	if a.Field == "" {
		errs = append(errs, fmt.Errorf("%w: attachment field name is empty", ErrInvalid))
	}
	if _, err := models.ParseCardinality(a.Cardinality); err != nil {
		errs = append(errs, fmt.Errorf("%w: attachment %s: %w", ErrInvalid, a.Field, err))
	}
	return errs
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// AttachmentSchema returns the run-wide attachment schema. Call after Validate.
func (c Config) AttachmentSchema() models.AttachmentSchema {
	return toSchema(c.Attachments)
}

// CollectionSpecs returns the collections to transfer in configured order.
func (c Config) CollectionSpecs() []models.CollectionSpec {
	specs := make([]models.CollectionSpec, 0, len(c.Collections))
	for _, coll := range c.Collections {
		spec := models.CollectionSpec{Name: coll.Name, SelfReference: coll.SelfReference}
		if coll.Attachments != nil {
			spec.Attachments = toSchema(coll.Attachments)
		}
		specs = append(specs, spec)
	}
	return specs
}

func toSchema(attachments []Attachment) models.AttachmentSchema {
	schema := make(models.AttachmentSchema, 0, len(attachments))
	for _, a := range attachments {
		card, err := models.ParseCardinality(a.Cardinality)
		if err != nil {
			continue
		}
		schema = append(schema, models.AttachmentField{Name: a.Field, Cardinality: card})
	}
	return schema
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// firstEnv returns the first non-empty variable of keys.
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func (c *Config) intEnv(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s=%q is not an integer", key, val))
		return defaultVal
	}
	return n
}

// durationEnv accepts Go durations ("45s") or plain seconds ("45").
func (c *Config) durationEnv(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		c.problems = append(c.problems, fmt.Sprintf("%s=%q is not a duration", key, val))
		return defaultVal
	}
	return d
}

// pairsEnv parses "k=v,k2=v2".
func (c *Config) pairsEnv(key string) map[string]string {
	out := map[string]string{}
	for _, pair := range splitList(os.Getenv(key)) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			c.problems = append(c.problems, fmt.Sprintf("%s entry %q is not name=field", key, pair))
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// splitList splits a comma list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
