package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/smartvalidator/infrastructure/credentials"
	"github.com/ahrav/smartvalidator/infrastructure/llm"
	"github.com/ahrav/smartvalidator/infrastructure/middleware"
	"github.com/ahrav/smartvalidator/infrastructure/rules"
	"github.com/ahrav/smartvalidator/internal/application"
	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// buildService assembles the validation service from the loaded config.
func (c *cli) buildService() (*application.Service, error) {
	cfg := c.config

	registerer := c.deps.registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	metrics := middleware.NewPrometheusMetrics(registerer)

	newClient := c.deps.newClient
	if newClient == nil {
		registry, err := llm.NewRegistry(llm.RegistryConfig{
			Provider:           cfg.Provider,
			Model:              cfg.Model,
			BaseURL:            cfg.BaseURL,
			Temperature:        cfg.Temperature,
			MaxTokens:          cfg.MaxTokens,
			SystemPrompt:       cfg.SystemPrompt,
			RequestTimeout:     cfg.RequestTimeout,
			RateLimit:          cfg.RateLimit.RPS,
			RateBurst:          cfg.RateLimit.Burst,
			CircuitMaxFailures: cfg.CircuitBreaker.MaxFailures,
			CircuitCooldown:    cfg.CircuitBreaker.Cooldown,
			Metrics:            metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build provider registry: %w", err)
		}
		newClient = func(apiKey string) (ports.CompletionClient, error) {
			client, err := registry.ClientFor(apiKey)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}

	resolver := credentials.NewResolver(credentialsConfig(cfg), credentials.WithLogger(c.logger))

	return application.NewService(
		resolver,
		rules.NewFileLoader(cfg.RulesPath, c.logger),
		newClient,
		domain.NewFieldLabeler(cfg.Labels),
		application.ServiceOptions{
			Logger:      c.logger,
			Metrics:     metrics,
			Concurrency: cfg.Concurrency,
		},
	)
}

// credentialsConfig maps the config section onto the resolver. Without an
// explicit default variable the provider preset's conventional one is used.
func credentialsConfig(cfg application.Config) credentials.Config {
	out := credentials.Config{
		DefaultEnv:  cfg.Credentials.DefaultEnv,
		SecretsFile: cfg.Credentials.SecretsFile,
		SecretName:  cfg.Credentials.SecretName,
		Channels:    cfg.Credentials.Channels,
	}
	if out.DefaultEnv == "" {
		if preset, ok := llm.DefaultProviders[cfg.Provider]; ok {
			out.DefaultEnv = preset.EnvVar
		}
	}
	return out
}
