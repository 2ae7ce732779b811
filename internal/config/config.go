package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/feedsync/internal/model"
	"github.com/roach88/feedsync/internal/persist"
	"github.com/roach88/feedsync/internal/stories"
)

//go:embed schema.cue
var schemaCUE string

// Config is the complete engine configuration.
type Config struct {
	ViewerID string   `yaml:"viewer_id"`
	LogLevel string   `yaml:"log_level"`
	Backend  Backend  `yaml:"backend"`
	Snapshot Snapshot `yaml:"snapshot"`
	Timing   Timing   `yaml:"timing"`
	Stories  Stories  `yaml:"stories"`
}

// Backend locates the remote service.
type Backend struct {
	APIURL    string `yaml:"api_url"`
	StreamURL string `yaml:"stream_url"`

	// Token is the bearer token; its sub claim is the default viewer.
	Token string `yaml:"token"`
}

// Snapshot locates the durable snapshot store.
type Snapshot struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Timing holds every period and timeout.
type Timing struct {
	StoryTTL          Duration `yaml:"story_ttl"`
	StoryRefresh      Duration `yaml:"story_refresh"`
	PersistDebounce   Duration `yaml:"persist_debounce"`
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	PerformTimeout    Duration `yaml:"perform_timeout"`
}

// Stories configures the story lifecycle.
type Stories struct {
	Retention string `yaml:"retention"`
}

// Duration is a time.Duration written as a Go duration string ("200ms").
type Duration time.Duration

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Snapshot: Snapshot{Driver: string(persist.DialectSQLite), DSN: "feedsync.db"},
		Timing: Timing{
			StoryTTL:          Duration(model.StoryTTL),
			StoryRefresh:      Duration(stories.DefaultRefresh),
			PersistDebounce:   Duration(persist.DefaultDebounce),
			ReconcileInterval: Duration(5 * time.Minute),
			PerformTimeout:    Duration(10 * time.Second),
		},
		Stories: Stories{Retention: string(stories.RetentionSoft)},
	}
}

// Error is a configuration problem at a dotted field path.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is a configuration problem.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads path and overlays it on Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML data against the schema and overlays it on Default.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, &Error{Field: "yaml", Message: err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := checkSchema(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &Error{Field: "yaml", Message: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// checkSchema unifies the decoded document with #Config.
func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return &Error{Field: "document", Message: err.Error()}
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError keeps the first CUE error and its path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: "schema", Message: err.Error()}
	}
	first := errs[0]
	field := "schema"
	path := first.Path()
	if len(path) > 0 && path[0] == "#Config" {
		path = path[1:]
	}
	if len(path) > 0 {
		field = strings.Join(path, ".")
	}
	format, args := first.Msg()
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks what the schema cannot.
func (c Config) Validate() error {
	durations := []struct {
		field string
		d     Duration
	}{
		{"timing.story_ttl", c.Timing.StoryTTL},
		{"timing.story_refresh", c.Timing.StoryRefresh},
		{"timing.persist_debounce", c.Timing.PersistDebounce},
		{"timing.perform_timeout", c.Timing.PerformTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return &Error{Field: d.field, Message: "must be positive"}
		}
	}
	if c.Timing.ReconcileInterval < 0 {
		return &Error{Field: "timing.reconcile_interval", Message: "must not be negative (0 disables)"}
	}
	if _, err := stories.ParseRetention(c.Stories.Retention); err != nil {
		return &Error{Field: "stories.retention", Message: err.Error()}
	}
	if _, err := persist.ParseDialect(c.Snapshot.Driver); err != nil {
		return &Error{Field: "snapshot.driver", Message: err.Error()}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return &Error{Field: "log_level", Message: err.Error()}
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

// Retention returns the configured story retention.
func (c Config) Retention() stories.Retention {
	r, _ := stories.ParseRetention(c.Stories.Retention)
	return r
}

// Dialect returns the configured snapshot dialect.
func (c Config) Dialect() persist.Dialect {
	d, _ := persist.ParseDialect(c.Snapshot.Driver)
	return d
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
