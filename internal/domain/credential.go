package domain

import "fmt"

// Key origin labels reported alongside every batch result.
const (
	OriginChannelDefault = "Channel default"
	OriginSecretStore    = "Secret store"
	OriginEnvFallback    = "Environment fallback"
	OriginNotFound       = "Not found"
)

// ChannelOrigin returns the origin label for a key taken from a channel's
// dedicated environment variable.
func ChannelOrigin(source string) string {
	return fmt.Sprintf("Channel key (%s)", source)
}

// Credential is an API key together with the label of the strategy that
// produced it. It is resolved once per batch and never changes afterwards.
type Credential struct {
	Key    string
	Origin string
}

// String implements fmt.Stringer without exposing the key.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Origin: %q, Key: %s}", c.Origin, redact(c.Key))
}

func redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
