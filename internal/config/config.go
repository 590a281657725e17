// Package config loads a typed, validated Config once at process start
// (§1.1 ambient stack / §9 Design Notes: "ambient configuration via
// environment" is loaded once into a record, never read ad hoc).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// OperatingConfig selects CommandGate policy and the destructive-actions
// unlock (§6 environment keys).
type OperatingConfig struct {
	Mode               string `yaml:"mode"`
	DestructiveEnabled bool   `yaml:"destructive_enabled"`
	// GatePolicyPath is a Rego policy file the CommandGate's optional
	// policy.Evaluator compiles and hot-reloads. Empty uses the built-in
	// default policy (production-scoped commands always require approval).
	GatePolicyPath string `yaml:"gate_policy_path"`
}

// ApprovalConfig tunes ApprovalRegistry timeouts and retention. An empty
// RedisAddress keeps pending approvals in the in-process MemoryStore, which
// does not survive a restart or span replicas; set it to share state via
// RedisStore instead.
type ApprovalConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetentionHours int    `yaml:"retention_hours"`
	RedisAddress   string `yaml:"redis_address"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// TimeoutDuration returns the approval wait timeout, defaulting to 300s.
func (c ApprovalConfig) TimeoutDuration() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetentionDuration returns the sweeper retention window, defaulting to 24h.
func (c ApprovalConfig) RetentionDuration() time.Duration {
	if c.RetentionHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.RetentionHours) * time.Hour
}

// CircuitBreakerConfig tunes the per-pipeline CircuitBreaker (§4.4).
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

// CooldownDuration returns the open->half-open cooldown, defaulting to 300s.
func (c CircuitBreakerConfig) CooldownDuration() time.Duration {
	if c.CooldownSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c CircuitBreakerConfig) failureThresholdOrDefault() int {
	if c.FailureThreshold <= 0 {
		return 5
	}
	return c.FailureThreshold
}

func (c CircuitBreakerConfig) successThresholdOrDefault() int {
	if c.SuccessThreshold <= 0 {
		return 2
	}
	return c.SuccessThreshold
}

// FailureThresholdOrDefault exposes the defaulted failure threshold (F).
func (c CircuitBreakerConfig) FailureThresholdOrDefault() int { return c.failureThresholdOrDefault() }

// SuccessThresholdOrDefault exposes the defaulted success quorum (S).
func (c CircuitBreakerConfig) SuccessThresholdOrDefault() int { return c.successThresholdOrDefault() }

// LLMConfig configures the LLMClient (§6).
type LLMConfig struct {
	Provider              string  `yaml:"provider"` // "claude" | "local"
	Model                 string  `yaml:"model"`
	MaxTokens             int     `yaml:"max_tokens"`
	TimeoutSeconds        int     `yaml:"timeout_seconds"`
	Endpoint              string  `yaml:"endpoint"` // local provider only
	Temperature           float32 `yaml:"temperature"`
	APIKeyCredentialHandle string `yaml:"api_key_credential_handle"` // claude provider only
}

// TimeoutDuration returns the LLM call timeout, defaulting to 60s.
func (c LLMConfig) TimeoutDuration() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ContextGatherConfig tunes the per-incident context-gathering stage deadline.
type ContextGatherConfig struct {
	DeadlineSeconds int `yaml:"deadline_seconds"`
}

// DeadlineDuration returns the stage deadline, defaulting to 30s.
func (c ContextGatherConfig) DeadlineDuration() time.Duration {
	if c.DeadlineSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DeadlineSeconds) * time.Second
}

// ExecutorConfig tunes the per-action verification poll and the per-plan
// failure ceiling (§4.8).
type ExecutorConfig struct {
	VerifyTimeoutSeconds int `yaml:"verify_timeout_seconds"`
	MaxFailures          int `yaml:"max_failures"`
}

// VerifyTimeoutDuration returns the post-condition poll ceiling, defaulting
// to 30s (§4.8).
func (c ExecutorConfig) VerifyTimeoutDuration() time.Duration {
	if c.VerifyTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.VerifyTimeoutSeconds) * time.Second
}

// MaxFailuresOrDefault returns the per-plan hard-stop threshold, defaulting
// to 3 (§4.8 step 8).
func (c ExecutorConfig) MaxFailuresOrDefault() int {
	if c.MaxFailures <= 0 {
		return 3
	}
	return c.MaxFailures
}

// NotifierConfig configures the Slack delivery channel the notifier posts
// approval-required and terminal events to.
type NotifierConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Channel          string `yaml:"channel"`
	CredentialHandle string `yaml:"credential_handle"`
}

// KubernetesAdapterConfig configures the kubernetes BackendAdapter. An empty
// Kubeconfig means "use in-cluster config"; MCPCommand empty disables the
// MCP subprocess transport in favor of CLIBinary.
type KubernetesAdapterConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Kubeconfig          string   `yaml:"kubeconfig"`
	MCPCommand          string   `yaml:"mcp_command"`
	MCPArgs             []string `yaml:"mcp_args"`
	CLIBinary           string   `yaml:"cli_binary"`
	DestructiveDisabled bool     `yaml:"destructive_disabled"`
}

// SourceHostingAdapterConfig configures the sourcehosting BackendAdapter.
// TokenCredentialHandle is resolved to the GitHub token at wiring time.
type SourceHostingAdapterConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Owner                 string `yaml:"owner"`
	Repo                  string `yaml:"repo"`
	BaseURL               string `yaml:"base_url"`
	TokenCredentialHandle string `yaml:"token_credential_handle"`
}

// ObservabilityAdapterConfig configures the observability BackendAdapter.
type ObservabilityAdapterConfig struct {
	Enabled                   bool   `yaml:"enabled"`
	PrometheusAddress         string `yaml:"prometheus_address"`
	GrafanaBaseURL            string `yaml:"grafana_base_url"`
	GrafanaAPIKeyCredentialHandle string `yaml:"grafana_api_key_credential_handle"`
}

// DocumentationAdapterConfig configures the documentation BackendAdapter. An
// empty BaseURL leaves the adapter in its offline, mock-record-only mode.
type DocumentationAdapterConfig struct {
	Enabled                bool   `yaml:"enabled"`
	BaseURL                string `yaml:"base_url"`
	APITokenCredentialHandle string `yaml:"api_token_credential_handle"`
	TimeoutSeconds         int    `yaml:"timeout_seconds"`
}

// PagerAdapterConfig configures the pager BackendAdapter.
type PagerAdapterConfig struct {
	Enabled                    bool   `yaml:"enabled"`
	RoutingKeyCredentialHandle string `yaml:"routing_key_credential_handle"`
	APITokenCredentialHandle   string `yaml:"api_token_credential_handle"`
	ClientName                 string `yaml:"client_name"`
}

// AdaptersConfig groups every BackendAdapter's typed configuration.
type AdaptersConfig struct {
	Kubernetes    KubernetesAdapterConfig    `yaml:"kubernetes"`
	SourceHosting SourceHostingAdapterConfig `yaml:"sourcehosting"`
	Observability ObservabilityAdapterConfig `yaml:"observability"`
	Documentation DocumentationAdapterConfig `yaml:"documentation"`
	Pager         PagerAdapterConfig         `yaml:"pager"`
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus exposition server (§4.11/§6).
type MetricsConfig struct {
	Port string `yaml:"port"`
}

// Config is the top-level typed configuration record, loaded once and
// passed by reference to every component constructor.
type Config struct {
	Operating      OperatingConfig      `yaml:"operating"`
	Approval       ApprovalConfig       `yaml:"approval"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	ContextGather  ContextGatherConfig  `yaml:"context_gather"`
	Executor       ExecutorConfig       `yaml:"executor"`
	LLM            LLMConfig            `yaml:"llm"`
	Notifier       NotifierConfig       `yaml:"notifier"`
	Adapters       AdaptersConfig       `yaml:"adapters"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// Load reads and parses a YAML config file, applies environment-variable
// overrides (§6), defaults missing values, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides implements the §6 "Environment / configuration"
// recognized keys, taking precedence over file values when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPERATING_MODE"); v != "" {
		cfg.Operating.Mode = v
	}
	if v := os.Getenv("DESTRUCTIVE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Operating.DestructiveEnabled = b
		}
	}
	if v := os.Getenv("APPROVAL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Approval.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("CIRCUIT_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CircuitBreaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("CIRCUIT_SUCCESS_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CircuitBreaker.SuccessThreshold = n
		}
	}
	if v := os.Getenv("CIRCUIT_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CircuitBreaker.CooldownSeconds = n
		}
	}
	if v := os.Getenv("CONTEXT_GATHER_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextGather.DeadlineSeconds = n
		}
	}
	if v := os.Getenv("EXECUTOR_VERIFY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.VerifyTimeoutSeconds = n
		}
	}
	if v := os.Getenv("EXECUTOR_MAX_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.MaxFailures = n
		}
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("NOTIFIER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Notifier.Enabled = b
		}
	}
	if v := os.Getenv("NOTIFIER_SLACK_CHANNEL"); v != "" {
		cfg.Notifier.Channel = v
	}
	if v := os.Getenv("NOTIFIER_CREDENTIAL_HANDLE"); v != "" {
		cfg.Notifier.CredentialHandle = v
	}
	if v := os.Getenv("APPROVAL_REDIS_ADDRESS"); v != "" {
		cfg.Approval.RedisAddress = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Metrics.Port = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Operating.Mode == "" {
		cfg.Operating.Mode = "PLAN"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "claude"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Port == "" {
		cfg.Metrics.Port = "9090"
	}
	if cfg.Approval.RedisKeyPrefix == "" {
		cfg.Approval.RedisKeyPrefix = "incident-core:approval:"
	}
}

func validate(cfg *Config) error {
	switch cfg.Operating.Mode {
	case "PLAN", "APPROVAL", "AUTO":
	default:
		return fmt.Errorf("unsupported operating mode: %s", cfg.Operating.Mode)
	}

	switch cfg.LLM.Provider {
	case "claude", "local":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}

	if cfg.LLM.Provider == "local" && cfg.LLM.Endpoint == "" {
		return fmt.Errorf("LLM endpoint is required for the local provider")
	}

	return nil
}
