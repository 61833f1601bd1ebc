package application

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// envVarPattern matches portable environment variable names.
var envVarPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// registerCustomValidators registers the domain-specific validation tags
// used by Config and by the verdict shape check.
// registerCustomValidators returns an error if any registration fails.
func registerCustomValidators(v *validator.Validate) error {
	validators := map[string]validator.Func{
		"envvar":     validateEnvVar,
		"listenaddr": validateListenAddr,
		"origin":     validateOrigin,
	}
	for tag, fn := range validators {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// newValidator returns a validator with every custom tag registered.
func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := registerCustomValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}

// validateEnvVar validates that a string is usable as an environment
// variable name.
func validateEnvVar(fl validator.FieldLevel) bool {
	return envVarPattern.MatchString(fl.Field().String())
}

// validateListenAddr validates a host:port listen address. The host may be
// empty to listen on every interface.
func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// validateOrigin validates a CORS origin: an http or https scheme and a host,
// with no path, query or fragment. "*" is accepted as the wildcard origin.
func validateOrigin(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "*" {
		return true
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.Path == "" && u.RawQuery == "" && u.Fragment == ""
}
