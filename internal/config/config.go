package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

// Config is the YAML configuration of a generation run. Required keys follow
// the declaration order below; the first missing one is reported.
type Config struct {
	OutputDir    string         `yaml:"output_dir" validate:"required"`
	LLMType      string         `yaml:"llm_type" validate:"required"`
	LLMConfig    map[string]any `yaml:"llm_config" validate:"required"`
	StorySetting *StorySetting  `yaml:"story_setting" validate:"required"`
	Generation   *Generation    `yaml:"generation" validate:"required"`

	Limits        Limits        `yaml:"limits"`
	Logging       LoggingConfig `yaml:"logging"`
	Prompts       PromptsConfig `yaml:"prompts"`
	Cache         CacheConfig   `yaml:"llm_cache"`
	SessionNaming string        `yaml:"session_naming" validate:"omitempty,oneof=descriptive timestamp uuid"`
	StatusAddr    string        `yaml:"status_addr" validate:"omitempty,hostname_port"`
	HistoryDB     string        `yaml:"history_db"`
}

// StorySetting accepts either a plain premise string or a mapping.
type StorySetting struct {
	Premise     string `yaml:"premise" validate:"required"`
	Protagonist string `yaml:"protagonist"`
	Theme       string `yaml:"theme"`
}

func (s *StorySetting) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Premise = strings.TrimSpace(value.Value)
		return nil
	}

	type plain StorySetting
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = StorySetting(p)
	return nil
}

type Generation struct {
	MaxSections      int           `yaml:"max_sections" validate:"required,gt=0"`
	Length           string        `yaml:"length" validate:"required,oneof=short medium long"`
	SectionBudget    int           `yaml:"section_budget" validate:"omitempty,min=100,max=100000"`
	SectionDelimiter string        `yaml:"section_delimiter"`
	Closure          ClosureConfig `yaml:"closure"`
}

// ClosureConfig tunes the narrative completion heuristic.
type ClosureConfig struct {
	Markers           []string `yaml:"markers"`
	ProgressThreshold int      `yaml:"progress_threshold" validate:"omitempty,min=1,max=100"`
	Disabled          bool     `yaml:"disabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`

	// RawOutput keeps every prompt and response of a run in raw.jsonl.
	RawOutput bool `yaml:"raw_output"`
}

type PromptsConfig struct {
	// SectionTemplate overrides the built-in section prompt.
	SectionTemplate string `yaml:"section_template"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// TTL of zero keeps entries forever.
	TTL time.Duration `yaml:"ttl" validate:"min=0"`
}

const defaultDelimiter = "\n\n"

// DefaultMarkers end a story when they appear in a section.
var DefaultMarkers = []string{"[END]", "THE END"}

// Load reads the configuration at path. A .env file in the working directory
// is loaded first so ${VAR} references in the file can resolve against it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath picks the config file: the explicit flag value, then
// NOVELGEN_CONFIG, then config.yaml in the working directory.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("NOVELGEN_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-?([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[3]
	})
}

// expandTilde expands a tilde (~) at the beginning of a path to the user's home directory
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) applyDefaults() {
	c.OutputDir = expandTilde(strings.TrimSpace(c.OutputDir))
	c.LLMType = strings.ToLower(strings.TrimSpace(c.LLMType))
	c.Prompts.SectionTemplate = expandTilde(c.Prompts.SectionTemplate)
	if c.HistoryDB != "" {
		c.HistoryDB = expandTilde(c.HistoryDB)
	}
	if c.SessionNaming == "" {
		c.SessionNaming = "descriptive"
	}

	if g := c.Generation; g != nil {
		g.Length = strings.ToLower(strings.TrimSpace(g.Length))
		if g.SectionDelimiter == "" {
			g.SectionDelimiter = defaultDelimiter
		}
		if len(g.Closure.Markers) == 0 {
			g.Closure.Markers = append([]string(nil), DefaultMarkers...)
		}
		if g.Closure.ProgressThreshold == 0 {
			g.Closure.ProgressThreshold = 100
		}
	}

	c.Limits = c.Limits.withDefaults()

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	validate := validator.New()

	// Report YAML key names instead of Go field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return toConfigurationError(verrs[0])
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// toConfigurationError turns a validator failure into a ConfigurationError
// naming the dotted YAML key, e.g. "generation.max_sections".
func toConfigurationError(fe validator.FieldError) error {
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return ngerrors.MissingKey(key)
	case "oneof":
		return ngerrors.InvalidKey(key, fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value()))
	case "gt":
		return ngerrors.InvalidKey(key, fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value()))
	case "min":
		return ngerrors.InvalidKey(key, fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value()))
	case "max":
		return ngerrors.InvalidKey(key, fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value()))
	default:
		return ngerrors.InvalidKey(key, fmt.Sprintf("failed %q validation, got %v", fe.Tag(), fe.Value()))
	}
}
