// Package config loads importer configuration from YAML and merges it with
// command-line overrides.
// Priority: defaults < file < env < flags
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/ingest"
	ingerrors "github.com/logflow/jsonimport/pkg/ingest/errors"
	"github.com/logflow/jsonimport/pkg/parser"
	"github.com/logflow/jsonimport/pkg/sink"
)

// Environment variables consulted by Load.
const (
	EnvConfig      = "JSONIMPORT_CONFIG"
	EnvSinkAddress = "JSONIMPORT_SINK_ADDRESS"
	EnvLogLevel    = "JSONIMPORT_LOG_LEVEL"
	EnvAuthToken   = "JSONIMPORT_AUTH_TOKEN"
)

// ProjectFile is looked up in the working directory when no config path
// is given.
const ProjectFile = ".jsonimport.yaml"

// Config holds all importer configuration.
type Config struct {
	EventNames          []string        `yaml:"event-names"`
	EventNamePrefix     string          `yaml:"event-name-prefix"`
	TimelineNames       []string        `yaml:"timeline-names"`
	TimelineNamePrefix  string          `yaml:"timeline-name-prefix"`
	TimelineAttrs       []string        `yaml:"timeline-attrs"`
	RenameTimelineAttrs []ingest.Rename `yaml:"rename-timeline-attrs"`
	RenameEventAttrs    []ingest.Rename `yaml:"rename-event-attrs"`
	TimestampAttr       string          `yaml:"timestamp-attr"`
	TimestampAttrUnits  string          `yaml:"timestamp-attr-units"`
	NonJSONRegex        string          `yaml:"non-json-regex"`
	NonJSONAttrs        []string        `yaml:"non-json-attrs"`
	Inputs              []string        `yaml:"inputs"`
	DryRun              bool            `yaml:"dry-run"`
	RunID               string          `yaml:"run-id"`

	// Entries are "key=value"; values are coerced like regex captures.
	AdditionalTimelineAttrs []string `yaml:"additional-timeline-attrs"`
	OverrideTimelineAttrs   []string `yaml:"override-timeline-attrs"`

	Parallel int `yaml:"parallel"`

	Sink      SinkConfig      `yaml:"sink"`
	Errors    ErrorsConfig    `yaml:"errors"`
	Registry  RegistryConfig  `yaml:"registry"`
	S3        S3Config        `yaml:"s3"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Watch     WatchConfig     `yaml:"watch"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-"`
}

// SinkConfig selects where events go.
type SinkConfig struct {
	Kind    string        `yaml:"kind"`    // ndjson | parquet | memory
	Network string        `yaml:"network"` // tcp | unix
	Address string        `yaml:"address"`
	Path    string        `yaml:"path"` // parquet output file
	Timeout time.Duration `yaml:"timeout"`

	// Token is only ever taken from the environment.
	Token string `yaml:"-"`
}

// ErrorsConfig controls what happens to records that cannot be imported.
type ErrorsConfig struct {
	Policy         string `yaml:"policy"` // strict | skip | quarantine
	MaxErrors      int    `yaml:"max-errors"`
	QuarantinePath string `yaml:"quarantine-path"`
}

// RegistryConfig enables the shared Redis timeline store.
type RegistryConfig struct {
	RedisAddress string `yaml:"redis-address"`
	RedisPrefix  string `yaml:"redis-prefix"`
}

// S3Config configures s3:// inputs.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path-style"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// LogConfig for the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// WatchConfig for the watch command.
type WatchConfig struct {
	Pattern  string        `yaml:"pattern"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Sink: SinkConfig{
			Kind:    string(sink.KindNDJSON),
			Network: "tcp",
			Address: "127.0.0.1:14181",
			Timeout: 30 * time.Second,
		},
		Errors: ErrorsConfig{
			Policy: ingerrors.PolicyStrict.String(),
		},
		Registry: RegistryConfig{
			RedisPrefix: "jsonimport:timelines:",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Pattern:  "*.{json,jsonl,log}",
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load builds the configuration from defaults, one YAML file and the
// environment. The file is path if set, else $JSONIMPORT_CONFIG, else
// ./.jsonimport.yaml when it exists. An explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if v := os.Getenv(EnvConfig); v != "" {
			path, explicit = v, true
		} else {
			path = ProjectFile
		}
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else {
		cfg.Source = path
	}

	cfg.loadEnv()
	return cfg, nil
}

// loadFile reads one config file and merges it into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&partial); err != nil && !errors.Is(err, io.EOF) {
		return lferrors.InvalidConfig(path, err)
	}

	c.Merge(&partial)
	return nil
}

// loadEnv applies environment overrides.
func (c *Config) loadEnv() {
	if v := os.Getenv(EnvSinkAddress); v != "" {
		c.Sink.Address = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.Sink.Token = v
	}
}

// Merge merges src into c. Non-zero scalars override, lists are appended
// to, and non-json-attrs is replaced since it pairs with the regex.
func (c *Config) Merge(src *Config) {
	c.EventNames = append(c.EventNames, src.EventNames...)
	c.TimelineNames = append(c.TimelineNames, src.TimelineNames...)
	c.TimelineAttrs = append(c.TimelineAttrs, src.TimelineAttrs...)
	c.RenameTimelineAttrs = append(c.RenameTimelineAttrs, src.RenameTimelineAttrs...)
	c.RenameEventAttrs = append(c.RenameEventAttrs, src.RenameEventAttrs...)
	c.Inputs = append(c.Inputs, src.Inputs...)
	c.AdditionalTimelineAttrs = append(c.AdditionalTimelineAttrs, src.AdditionalTimelineAttrs...)
	c.OverrideTimelineAttrs = append(c.OverrideTimelineAttrs, src.OverrideTimelineAttrs...)

	if len(src.NonJSONAttrs) > 0 {
		c.NonJSONAttrs = src.NonJSONAttrs
	}

	setString(&c.EventNamePrefix, src.EventNamePrefix)
	setString(&c.TimelineNamePrefix, src.TimelineNamePrefix)
	setString(&c.TimestampAttr, src.TimestampAttr)
	setString(&c.TimestampAttrUnits, src.TimestampAttrUnits)
	setString(&c.NonJSONRegex, src.NonJSONRegex)
	setString(&c.RunID, src.RunID)
	if src.DryRun {
		c.DryRun = true
	}
	if src.Parallel != 0 {
		c.Parallel = src.Parallel
	}

	// Sink
	setString(&c.Sink.Kind, src.Sink.Kind)
	setString(&c.Sink.Network, src.Sink.Network)
	setString(&c.Sink.Address, src.Sink.Address)
	setString(&c.Sink.Path, src.Sink.Path)
	setString(&c.Sink.Token, src.Sink.Token)
	if src.Sink.Timeout != 0 {
		c.Sink.Timeout = src.Sink.Timeout
	}

	// Errors
	setString(&c.Errors.Policy, src.Errors.Policy)
	setString(&c.Errors.QuarantinePath, src.Errors.QuarantinePath)
	if src.Errors.MaxErrors != 0 {
		c.Errors.MaxErrors = src.Errors.MaxErrors
	}

	setString(&c.Registry.RedisAddress, src.Registry.RedisAddress)
	setString(&c.Registry.RedisPrefix, src.Registry.RedisPrefix)

	setString(&c.S3.Region, src.S3.Region)
	setString(&c.S3.Endpoint, src.S3.Endpoint)
	if src.S3.PathStyle {
		c.S3.PathStyle = true
	}

	if src.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	setString(&c.Telemetry.Endpoint, src.Telemetry.Endpoint)
	if src.Telemetry.Insecure {
		c.Telemetry.Insecure = true
	}

	setString(&c.Log.Level, src.Log.Level)
	setString(&c.Log.Format, src.Log.Format)

	setString(&c.Watch.Pattern, src.Watch.Pattern)
	if src.Watch.Debounce != 0 {
		c.Watch.Debounce = src.Watch.Debounce
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks every field that can be checked before a run starts.
func (c *Config) Validate() error {
	if _, err := c.Ingest(); err != nil {
		return err
	}
	if _, err := sink.ParseKind(c.Sink.Kind); err != nil {
		return lferrors.InvalidConfig("sink.kind", err)
	}
	if c.Sink.Kind == string(sink.KindParquet) && c.Sink.Path == "" && !c.DryRun {
		return lferrors.InvalidConfig("sink.path", errors.New("parquet sink needs an output path"))
	}
	policy, err := ingerrors.ParsePolicy(c.Errors.Policy)
	if err != nil {
		return lferrors.InvalidConfig("errors.policy", err)
	}
	if policy == ingerrors.PolicyQuarantine && c.Errors.QuarantinePath == "" {
		return lferrors.InvalidConfig("errors.quarantine-path", errors.New("quarantine policy needs a file path"))
	}
	if c.Errors.MaxErrors < 0 {
		return lferrors.InvalidConfig("errors.max-errors", errors.New("must not be negative"))
	}
	if c.RunID != "" {
		if _, err := uuid.Parse(c.RunID); err != nil {
			return lferrors.InvalidConfig("run-id", err)
		}
	}
	if c.Parallel < 0 {
		return lferrors.InvalidConfig("parallel", errors.New("must not be negative"))
	}
	return nil
}

// Ingest converts the configuration into importer settings.
func (c *Config) Ingest() (ingest.Config, error) {
	unit, err := ingest.ParseTimestampUnit(c.TimestampAttrUnits)
	if err != nil {
		return ingest.Config{}, lferrors.InvalidConfig("timestamp-attr-units", err)
	}

	var re *regexp.Regexp
	if c.NonJSONRegex != "" {
		re, err = regexp.Compile(c.NonJSONRegex)
		if err != nil {
			return ingest.Config{}, lferrors.InvalidConfig("non-json-regex", err)
		}
	}

	additional, err := ParseAttrs(c.AdditionalTimelineAttrs)
	if err != nil {
		return ingest.Config{}, lferrors.InvalidConfig("additional-timeline-attrs", err)
	}
	override, err := ParseAttrs(c.OverrideTimelineAttrs)
	if err != nil {
		return ingest.Config{}, lferrors.InvalidConfig("override-timeline-attrs", err)
	}

	cfg := ingest.Config{
		Classify: ingest.ClassifyConfig{
			TimelineNames:           c.TimelineNames,
			TimelineAttrs:           c.TimelineAttrs,
			EventNames:              c.EventNames,
			TimelineNamePrefix:      c.TimelineNamePrefix,
			EventNamePrefix:         c.EventNamePrefix,
			TimestampAttr:           c.TimestampAttr,
			TimestampUnit:           unit,
			RunID:                   c.RunID,
			AdditionalTimelineAttrs: additional,
			OverrideTimelineAttrs:   override,
		},
		Reader: parser.ReaderConfig{
			Regex: re,
			Attrs: c.NonJSONAttrs,
		},
		RenameTimeline: c.RenameTimelineAttrs,
		RenameEvent:    c.RenameEventAttrs,
	}
	if err := cfg.Classify.Validate(); err != nil {
		return ingest.Config{}, err
	}
	return cfg, nil
}

// Handler builds the record error handler for the configured policy. The
// returned close function flushes the quarantine file, if any.
func (c *Config) Handler() (*ingerrors.Handler, func() error, error) {
	policy, err := ingerrors.ParsePolicy(c.Errors.Policy)
	if err != nil {
		return nil, nil, lferrors.InvalidConfig("errors.policy", err)
	}

	h := ingerrors.NewHandler(policy, c.Errors.MaxErrors)
	if policy != ingerrors.PolicyQuarantine {
		return h, func() error { return nil }, nil
	}

	q, err := ingerrors.NewFileQuarantine(c.Errors.QuarantinePath)
	if err != nil {
		return nil, nil, lferrors.InvalidConfig("errors.quarantine-path", err)
	}
	h.SetQuarantine(q)
	return h, q.Close, nil
}

// ParseAttrs parses "key=value" entries. Values are coerced the same way
// as regex captures.
func ParseAttrs(entries []string) (model.KVs, error) {
	var out model.KVs
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q (want key=value)", e)
		}
		out = append(out, model.KV{Key: key, Value: parser.CoerceString(value)})
	}
	return out, nil
}
