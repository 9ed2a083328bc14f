package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"patternline/internal/validate"
	"patternline/internal/workflow"
)

const FileName = "patternline.yml"

// Config models patternline.yml.
type Config struct {
	Validation validate.Rules         `yaml:"validation"`
	Priority   workflow.PriorityRules `yaml:"priority"`
	Review     struct {
		Reviewers []string `yaml:"reviewers" validate:"dive,required"`
	} `yaml:"review"`
	Webhooks      []WebhookConfig `yaml:"webhooks" validate:"dive"`
	Notifications struct {
		BusTopic string `yaml:"bus_topic"`
	} `yaml:"notifications"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	} `yaml:"log"`
	Server struct {
		Addr             string `yaml:"addr"`
		BasePath         string `yaml:"base_path" validate:"omitempty,startswith=/"`
		JWTSecret        string `yaml:"jwt_secret"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"server"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"min=0"`
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Namespace()), describeTag(fe)))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	sc := c.Validation.Scorecard
	if sc.MarginalCeiling > sc.MaxTotal {
		return fmt.Errorf("invalid config: validation.scorecard.marginal_ceiling %d exceeds max_total %d", sc.MarginalCeiling, sc.MaxTotal)
	}
	if sc.MaxTotal > 8*sc.MaxDimension {
		return fmt.Errorf("invalid config: validation.scorecard.max_total %d exceeds 8 x max_dimension", sc.MaxTotal)
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// ReviewerRouter returns the configured round-robin reviewer router.
func (c *Config) ReviewerRouter() workflow.RoundRobin {
	return workflow.NewRoundRobin(c.Review.Reviewers)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Validation = validate.DefaultRules()
	cfg.Priority = workflow.DefaultPriorityRules()
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	return &cfg
}

// FromYAML parses config over the defaults and validates it, so omitted
// sections keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config as it would be written to disk.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateDefault returns the annotated default config file.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `# patternline configuration
validation:
  scorecard:
    min_dimension: 3
    max_dimension: 5
    min_total: 30
    max_total: 40
    # totals from min_total up to this value pass with a reviewer warning
    marginal_ceiling: 32
    # dimensions below this are listed as improvement suggestions
    strong_dimension: 4
  diagram:
    max_actors: 7
    max_steps: 18
    max_alt_blocks: 2

priority:
  high: [Technology, Healthcare]
  medium: [Finance, Professional Services]

review:
  reviewers: []

webhooks: []
#  - url: https://hooks.example.com/patternline
#    events: [validation_passed, validation_failed, production_deployment_completed]
#    secret: change-me
#    timeout_seconds: 5

notifications:
  bus_topic: patternline.notifications

log:
  level: info
  format: text

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
  allow_actor_header: true
`
