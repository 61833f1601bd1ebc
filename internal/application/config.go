// Package application wires the validation pipeline: it labels records,
// builds prompts, calls the completion endpoint and turns replies into
// verdicts.
package application

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// Defaults applied by DefaultConfig.
const (
	DefaultProvider        = "groq"
	DefaultTemperature     = 0.7
	DefaultRequestTimeout  = 60 * time.Second
	DefaultConcurrency     = 1
	DefaultRulesPath       = "rag/rules.txt"
	DefaultHTTPAddr        = ":8000"
	DefaultCircuitCooldown = 30 * time.Second
)

// DefaultAllowedOrigins lists the browser origins of the review front-ends.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}

// EnvPrefix prefixes every environment variable that overrides Config.
const EnvPrefix = "SMARTVALIDATOR_"

// Config defines the complete runtime configuration of the validator and
// serves as the single entry point shared by the CLI and the HTTP server.
// Use Config when constructing the provider registry, the credential
// resolver and the Service so every component agrees on the same settings.
type Config struct {
	// Provider names the completion provider preset used for every record.
	// "groq" talks to Groq's OpenAI-compatible endpoint.
	Provider string `yaml:"provider" validate:"required,oneof=groq openai anthropic google"`
	// Model overrides the preset's default model identifier.
	Model string `yaml:"model" validate:"omitempty,max=200"`
	// BaseURL overrides the preset's API endpoint, for example to point at a
	// self-hosted OpenAI-compatible gateway.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// SystemPrompt replaces the system role message sent with every request.
	SystemPrompt string `yaml:"system_prompt" validate:"max=4000"`
	// Temperature is the sampling temperature sent with every request. Zero
	// is rejected because OpenAI-compatible APIs treat it as unset.
	Temperature float64 `yaml:"temperature" validate:"gt=0,lte=2"`
	// MaxTokens caps the reply length. Zero keeps the client default.
	MaxTokens int `yaml:"max_tokens" validate:"gte=0,lte=200000"`
	// RequestTimeout bounds each completion request. Zero disables the bound.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0s,max=10m"`
	// RateLimit throttles outgoing requests across all batches.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// CircuitBreaker fails records fast while the provider keeps failing.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	// Concurrency is the number of records validated at once within a batch.
	// One keeps the batch strictly sequential.
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=64"`
	// Credentials describes where API keys are looked up.
	Credentials CredentialsConfig `yaml:"credentials"`
	// RulesPath is the rules document injected in retrieval-augmented mode.
	RulesPath string `yaml:"rules_path" validate:"required"`
	// Labels extends or overrides the field-code label table. An empty label
	// removes a code from the table.
	Labels map[string]string `yaml:"labels" validate:"max=200,dive,keys,required,endkeys"`
	// HTTP configures the HTTP wrapper.
	HTTP HTTPConfig `yaml:"http"`
}

// RateLimitConfig configures the token bucket shared by every request.
// Use RateLimitConfig to stay under a provider's per-key request quota.
type RateLimitConfig struct {
	// RPS is the sustained request rate. Zero disables limiting.
	RPS float64 `yaml:"rps" validate:"gte=0"`
	// Burst is the bucket size; values below one are raised to one.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// CircuitBreakerConfig configures the breaker in front of the provider.
// The breaker is disabled unless MaxFailures is positive.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive provider failures that opens
	// the circuit.
	MaxFailures int `yaml:"max_failures" validate:"gte=0"`
	// Cooldown is how long an open circuit rejects requests before letting
	// a single probe through.
	Cooldown time.Duration `yaml:"cooldown" validate:"required_with=MaxFailures,omitempty,min=1s"`
}

// CredentialsConfig describes the API key lookup chain.
type CredentialsConfig struct {
	// DefaultEnv is the default API key variable.
	DefaultEnv string `yaml:"default_env" validate:"omitempty,envvar"`
	// SecretsFile is a flat YAML map of secret names to values.
	SecretsFile string `yaml:"secrets_file"`
	// SecretName is the entry read from SecretsFile. Empty uses DefaultEnv.
	SecretName string `yaml:"secret_name"`
	// Channels maps a caller-supplied source hint to its dedicated variable.
	Channels map[string]string `yaml:"channels" validate:"dive,keys,required,endkeys,envvar"`
}

// HTTPConfig configures the HTTP wrapper.
type HTTPConfig struct {
	// Addr is the listen address, for example ":8000".
	Addr string `yaml:"addr" validate:"required,listenaddr"`
	// AllowedOrigins is the CORS allow-list.
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,origin"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0s"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{
		Provider:       DefaultProvider,
		Temperature:    DefaultTemperature,
		RequestTimeout: DefaultRequestTimeout,
		RateLimit:      RateLimitConfig{Burst: 1},
		CircuitBreaker: CircuitBreakerConfig{Cooldown: DefaultCircuitCooldown},
		Concurrency:    DefaultConcurrency,
		RulesPath:      DefaultRulesPath,
		HTTP: HTTPConfig{
			Addr:            DefaultHTTPAddr,
			AllowedOrigins:  append([]string(nil), DefaultAllowedOrigins...),
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig builds the runtime configuration. Defaults are applied first,
// then the YAML file at path when path is non-empty, then environment
// overrides. The result is validated before it is returned.
//
// Unknown YAML keys are rejected so typos surface instead of being ignored.
func LoadConfig(path string) (Config, error) {
	return loadConfig(path, os.ReadFile, os.LookupEnv)
}

func loadConfig(
	path string,
	readFile func(string) ([]byte, error),
	lookupEnv func(string) (string, bool),
) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := readFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, ports.NewConfigError(path, ports.ErrConfigNotFound)
			}
			return Config{}, ports.NewConfigError(path, err)
		}
		if err := decodeConfig(data, &config); err != nil {
			return Config{}, ports.NewConfigError(path, err)
		}
	}

	if err := applyEnv(&config, lookupEnv); err != nil {
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// decodeConfig decodes data over the defaults already present in config.
func decodeConfig(data []byte, config *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		// An empty document leaves the defaults untouched.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("YAML parsing failed: %w", err)
	}
	return nil
}

// applyEnv overlays SMARTVALIDATOR_* variables on config.
func applyEnv(config *Config, lookupEnv func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookupEnv(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PROVIDER"); ok {
		config.Provider = v
	}
	if v, ok := get("MODEL"); ok {
		config.Model = v
	}
	if v, ok := get("BASE_URL"); ok {
		config.BaseURL = v
	}
	if v, ok := get("RULES_PATH"); ok {
		config.RulesPath = v
	}
	if v, ok := get("HTTP_ADDR"); ok {
		config.HTTP.Addr = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		config.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := get("TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return ports.NewConfigError(EnvPrefix+"TEMPERATURE", err)
		}
		config.Temperature = f
	}
	if v, ok := get("CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ports.NewConfigError(EnvPrefix+"CONCURRENCY", err)
		}
		config.Concurrency = n
	}
	if v, ok := get("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ports.NewConfigError(EnvPrefix+"REQUEST_TIMEOUT", err)
		}
		config.RequestTimeout = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks every field against its struct tags and returns a
// *domain.ValidationError listing each failure.
func (c Config) Validate() error {
	v, err := newValidator()
	if err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("struct validation failed: %w", err)
		}
		verr := domain.NewValidationError("config")
		for _, fe := range fieldErrs {
			verr.AddError(describeFieldError(fe))
		}
		return verr
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it loads ".env".
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return ports.NewConfigError(strings.Join(present, ","), err)
	}
	return nil
}
