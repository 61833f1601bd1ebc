// Package credentials resolves the API key used for a validation batch.
//
// Keys are looked up through an ordered list of named strategies. The first
// strategy that yields a non-empty key wins and its origin label is reported
// with the batch result. A caller-supplied source hint that names a known
// channel puts that channel's environment variable in front of the list.
package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultEnvVar      = "GROQ_API_KEY"
	DefaultSecretsFile = ".secrets.yaml"
)

// DefaultChannels maps known source hints to their dedicated variables.
var DefaultChannels = map[string]string{
	"react": "GROQ_API_KEY_REACT",
}

// Config describes where keys may be found.
type Config struct {
	// DefaultEnv is the default API key variable.
	DefaultEnv string `yaml:"default_env"`
	// SecretsFile is a flat YAML map of secret names to values.
	SecretsFile string `yaml:"secrets_file"`
	// SecretName is the entry read from SecretsFile. Empty uses DefaultEnv.
	SecretName string `yaml:"secret_name"`
	// Channels maps a source hint to its dedicated environment variable.
	Channels map[string]string `yaml:"channels"`
}

// Strategy is one named way of finding a key.
type Strategy struct {
	// Name identifies the strategy in errors and logs.
	Name string
	// Origin is the label reported when the strategy supplies the key.
	Origin string
	// Lookup returns the key and whether one was found.
	Lookup func() (string, bool)
}

// Resolver implements ports.CredentialResolver.
type Resolver struct {
	config    Config
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	logger    *zap.Logger
}

var _ ports.CredentialResolver = (*Resolver)(nil)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for secret store warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// WithReadFile replaces os.ReadFile for the secrets file.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(r *Resolver) { r.readFile = fn }
}

// NewResolver creates a Resolver, filling unset config fields with defaults.
func NewResolver(config Config, opts ...Option) *Resolver {
	if config.DefaultEnv == "" {
		config.DefaultEnv = DefaultEnvVar
	}
	if config.SecretsFile == "" {
		config.SecretsFile = DefaultSecretsFile
	}
	if config.SecretName == "" {
		config.SecretName = config.DefaultEnv
	}
	if config.Channels == nil {
		config.Channels = DefaultChannels
	}

	channels := make(map[string]string, len(config.Channels))
	for source, env := range config.Channels {
		channels[normalizeSource(source)] = env
	}
	config.Channels = channels

	r := &Resolver{
		config:    config,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategies returns the ordered strategies consulted for source.
//
// For a known channel: the channel variable, then the default variable
// reported as the channel default, then the secret store. Otherwise: the
// secret store, then the default variable.
func (r *Resolver) Strategies(source string) []Strategy {
	secret := Strategy{
		Name:   "secret_store",
		Origin: domain.OriginSecretStore,
		Lookup: r.secretStore,
	}

	source = normalizeSource(source)
	if env, ok := r.config.Channels[source]; ok && source != "" {
		return []Strategy{
			{
				Name:   "channel_env:" + env,
				Origin: domain.ChannelOrigin(source),
				Lookup: r.env(env),
			},
			{
				Name:   "channel_default:" + r.config.DefaultEnv,
				Origin: domain.OriginChannelDefault,
				Lookup: r.env(r.config.DefaultEnv),
			},
			secret,
		}
	}

	return []Strategy{
		secret,
		{
			Name:   "env:" + r.config.DefaultEnv,
			Origin: domain.OriginEnvFallback,
			Lookup: r.env(r.config.DefaultEnv),
		},
	}
}

// Resolve returns the first key produced by Strategies(source).
// It returns a *domain.CredentialError naming every strategy tried when
// none produces a key.
func (r *Resolver) Resolve(source string) (domain.Credential, error) {
	strategies := r.Strategies(source)
	tried := make([]string, 0, len(strategies))

	for _, s := range strategies {
		tried = append(tried, s.Name)
		if key, ok := s.Lookup(); ok {
			return domain.Credential{Key: key, Origin: s.Origin}, nil
		}
	}

	return domain.Credential{Origin: domain.OriginNotFound}, domain.NewCredentialError(source, tried)
}

func (r *Resolver) env(name string) func() (string, bool) {
	return func() (string, bool) {
		v, ok := r.lookupEnv(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
}

// secretStore reads the secrets file on every call so edits apply to the
// next batch. A missing file is the normal case and is not logged.
func (r *Resolver) secretStore() (string, bool) {
	secrets, err := r.loadSecrets()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("secret store unavailable",
				zap.String("path", r.config.SecretsFile),
				zap.Error(err))
		}
		return "", false
	}

	v := strings.TrimSpace(secrets[r.config.SecretName])
	return v, v != ""
}

func (r *Resolver) loadSecrets() (map[string]string, error) {
	data, err := r.readFile(r.config.SecretsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, ports.NewConfigError(r.config.SecretsFile, fmt.Errorf("%w: %v", ports.ErrSecretsUnreadable, err))
	}

	secrets := map[string]string{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, ports.NewConfigError(r.config.SecretsFile, fmt.Errorf("%w: %v", ports.ErrSecretsUnreadable, err))
	}
	return secrets, nil
}

func normalizeSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
