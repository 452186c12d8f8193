// Package config loads the environment variables spec.md §6 names, bound
// through viper the way the teacher's app/serve.go binds cobra flags, plus
// an optional YAML seed file of pre-registered services/routes (additive
// sugar over spec.md, not a requirement of it).
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved set of environment inputs spec.md §6 lists, plus
// the telemetry export knobs SPEC_FULL.md §12 adds on top of it.
type Config struct {
	RegistryURL      string
	GatewayURL       string
	RegistryToken    string
	Environment      string
	ServiceURL       string
	LogIncludeLines  bool
	SeedFile         string
	TelemetryEnabled bool
	OTLPEndpoint     string
	OTLPInsecure     bool
}

// Load reads the spec.md §6 environment variables via viper.AutomaticEnv.
// Every field is optional at this layer; internal/bootstrap enforces the
// production/staging token requirement (spec.md §4.k step 1).
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range []string{
		"YAMF_REGISTRY_URL",
		"YAMF_GATEWAY_URL",
		"YAMF_REGISTRY_TOKEN",
		"ENVIRONMENT",
		"YAMF_SERVICE_URL",
		"LOG_INCLUDE_LINES",
		"YAMF_SEED_FILE",
		"YAMF_TELEMETRY_ENABLED",
		"YAMF_OTLP_ENDPOINT",
		"YAMF_OTLP_INSECURE",
	} {
		_ = v.BindEnv(key)
	}

	return &Config{
		RegistryURL:      v.GetString("YAMF_REGISTRY_URL"),
		GatewayURL:       v.GetString("YAMF_GATEWAY_URL"),
		RegistryToken:    v.GetString("YAMF_REGISTRY_TOKEN"),
		Environment:      v.GetString("ENVIRONMENT"),
		ServiceURL:       v.GetString("YAMF_SERVICE_URL"),
		LogIncludeLines:  v.GetBool("LOG_INCLUDE_LINES"),
		SeedFile:         v.GetString("YAMF_SEED_FILE"),
		TelemetryEnabled: v.GetBool("YAMF_TELEMETRY_ENABLED"),
		OTLPEndpoint:     v.GetString("YAMF_OTLP_ENDPOINT"),
		OTLPInsecure:     v.GetBool("YAMF_OTLP_INSECURE"),
	}
}

// EnvKind classifies an ENVIRONMENT value per spec.md §6's substring rule.
type EnvKind int

const (
	// Dev is the default when ENVIRONMENT matches nothing else.
	Dev EnvKind = iota
	// Test marks a test environment (reduced strictness, same as Dev for
	// token enforcement purposes).
	Test
	// Staging requires a registry token (spec.md §4.k).
	Staging
	// Prod requires a registry token (spec.md §4.k).
	Prod
)

// Classify applies spec.md §6's substring match: "dev|test|stag|prod".
// Production/staging are the two kinds that require a registry token.
func Classify(environment string) EnvKind {
	lower := strings.ToLower(environment)
	switch {
	case strings.Contains(lower, "prod"):
		return Prod
	case strings.Contains(lower, "stag"):
		return Staging
	case strings.Contains(lower, "test"):
		return Test
	default:
		return Dev
	}
}

// RequiresToken reports whether kind is production or staging (spec.md
// §4.k step 1, §3's invariant "the registry rejects startup in
// production/staging without a configured registry token").
func (k EnvKind) RequiresToken() bool {
	return k == Prod || k == Staging
}

// String implements fmt.Stringer for logging.
func (k EnvKind) String() string {
	switch k {
	case Prod:
		return "production"
	case Staging:
		return "staging"
	case Test:
		return "test"
	default:
		return "development"
	}
}
