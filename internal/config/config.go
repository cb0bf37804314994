// Package config loads the uigen server configuration from YAML or JSON.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/uigen/internal/providerspec"
)

const (
	ProviderOpenAI  = "openai"
	ProviderStandIn = providerspec.StandIn
)

type ModelConfig struct {
	Provider  string            `json:"provider" yaml:"provider"`
	Model     string            `json:"model" yaml:"model"`
	BaseURL   string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Path      string            `json:"path,omitempty" yaml:"path,omitempty"`
	APIKeyEnv string            `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

type OrchestratorConfig struct {
	MaxEdits        int  `json:"max_edits,omitempty" yaml:"max_edits,omitempty"`
	MaxSteps        int  `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	StandInMaxSteps int  `json:"standin_max_steps,omitempty" yaml:"standin_max_steps,omitempty"`
	ReviewTimeoutMS int  `json:"review_timeout_ms,omitempty" yaml:"review_timeout_ms,omitempty"`
	SaveTimeoutMS   int  `json:"save_timeout_ms,omitempty" yaml:"save_timeout_ms,omitempty"`
	MaxLLMRetries   *int `json:"max_llm_retries,omitempty" yaml:"max_llm_retries,omitempty"`
}

type RateLimitConfig struct {
	Enabled       *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	RedisURL      string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	RedisURLEnv   string `json:"redis_url_env,omitempty" yaml:"redis_url_env,omitempty"`
	DailyLimit    int64  `json:"daily_limit,omitempty" yaml:"daily_limit,omitempty"`
	WindowLimit   int64  `json:"window_limit,omitempty" yaml:"window_limit,omitempty"`
	WindowSeconds int    `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`
}

type File struct {
	Version int `json:"version" yaml:"version"`

	Server struct {
		Addr            string `json:"addr" yaml:"addr"`
		ShutdownTimeout int    `json:"shutdown_timeout_ms,omitempty" yaml:"shutdown_timeout_ms,omitempty"`
		// AllowedOrigins are browser hostnames, besides localhost, that may POST.
		AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	} `json:"server" yaml:"server"`

	Log struct {
		Level       string `json:"level" yaml:"level"`
		Development bool   `json:"development,omitempty" yaml:"development,omitempty"`
	} `json:"log" yaml:"log"`

	Model        ModelConfig        `json:"model" yaml:"model"`
	Critic       ModelConfig        `json:"critic,omitempty" yaml:"critic,omitempty"`
	Orchestrator OrchestratorConfig `json:"orchestrator,omitempty" yaml:"orchestrator,omitempty"`
	RateLimit    RateLimitConfig    `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	Store struct {
		Path string `json:"path" yaml:"path"`
	} `json:"store" yaml:"store"`

	Auth struct {
		// Tokens maps a bearer token to the user id it authenticates.
		Tokens    map[string]string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
		TokensEnv string            `json:"tokens_env,omitempty" yaml:"tokens_env,omitempty"`
	} `json:"auth,omitempty" yaml:"auth,omitempty"`
}

func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration that runs entirely in process
// with the stand-in model.
func Default() *File {
	var cfg File
	applyDefaults(&cfg)
	return &cfg
}

func decodeJSONStrict(b []byte, cfg *File) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *File) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.Server.Addr = strings.TrimSpace(cfg.Server.Addr)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	applyModelDefaults(&cfg.Model)
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 10000
	}
	// The critic inherits the generation model unless configured apart.
	if strings.TrimSpace(cfg.Critic.Provider) == "" && strings.TrimSpace(cfg.Critic.Model) == "" {
		cfg.Critic = cfg.Model
		cfg.Critic.MaxTokens = 0
	}
	applyModelDefaults(&cfg.Critic)
	if cfg.Critic.MaxTokens == 0 {
		cfg.Critic.MaxTokens = 1000
	}

	o := &cfg.Orchestrator
	if o.MaxEdits == 0 {
		o.MaxEdits = 3
	}
	if o.MaxSteps == 0 {
		o.MaxSteps = 40
	}
	if o.StandInMaxSteps == 0 {
		o.StandInMaxSteps = 4
	}
	if o.ReviewTimeoutMS == 0 {
		o.ReviewTimeoutMS = 25000
	}
	if o.SaveTimeoutMS == 0 {
		o.SaveTimeoutMS = 10000
	}
	if o.MaxLLMRetries == nil {
		v := 2
		o.MaxLLMRetries = &v
	}

	rl := &cfg.RateLimit
	if rl.Enabled == nil {
		t := true
		rl.Enabled = &t
	}
	rl.RedisURL = strings.TrimSpace(rl.RedisURL)
	rl.RedisURLEnv = strings.TrimSpace(rl.RedisURLEnv)
	if rl.DailyLimit == 0 {
		rl.DailyLimit = 100
	}
	if rl.WindowLimit == 0 {
		rl.WindowLimit = 3
	}
	if rl.WindowSeconds == 0 {
		rl.WindowSeconds = 60
	}

	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	if cfg.Store.Path == "" {
		cfg.Store.Path = "uigen.db"
	}
	if cfg.Auth.Tokens == nil {
		cfg.Auth.Tokens = map[string]string{}
	}
	cfg.Auth.TokensEnv = strings.TrimSpace(cfg.Auth.TokensEnv)
}

func applyModelDefaults(m *ModelConfig) {
	m.Provider = providerspec.CanonicalProviderKey(m.Provider)
	if m.Provider == "" {
		m.Provider = ProviderStandIn
	}
	m.Model = strings.TrimSpace(m.Model)
	m.BaseURL = strings.TrimSpace(m.BaseURL)
	m.Path = strings.TrimSpace(m.Path)
	m.APIKeyEnv = strings.TrimSpace(m.APIKeyEnv)
	spec, ok := providerspec.Builtin(m.Provider)
	if !ok {
		return
	}
	if spec.Local {
		if m.Model == "" {
			m.Model = m.Provider
		}
		return
	}
	if m.BaseURL == "" {
		m.BaseURL = spec.DefaultBaseURL
	}
	if m.Path == "" {
		m.Path = spec.DefaultPath
	}
	if m.APIKeyEnv == "" {
		m.APIKeyEnv = spec.DefaultAPIKeyEnv
	}
}

func validate(cfg *File) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q (want debug|info|warn|error)", cfg.Log.Level)
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout_ms must be >= 0")
	}
	for i, h := range cfg.Server.AllowedOrigins {
		if strings.TrimSpace(h) == "" || strings.ContainsAny(h, "/:") {
			return fmt.Errorf("server.allowed_origins[%d]: %q is not a hostname", i, h)
		}
	}
	if err := validateModel("model", cfg.Model); err != nil {
		return err
	}
	if err := validateModel("critic", cfg.Critic); err != nil {
		return err
	}
	o := cfg.Orchestrator
	if o.MaxEdits < 0 {
		return fmt.Errorf("orchestrator.max_edits must be >= 0")
	}
	if o.MaxSteps < 1 || o.StandInMaxSteps < 1 {
		return fmt.Errorf("orchestrator.max_steps and orchestrator.standin_max_steps must be >= 1")
	}
	if o.ReviewTimeoutMS < 0 || o.SaveTimeoutMS < 0 {
		return fmt.Errorf("orchestrator timeouts must be >= 0")
	}
	if *o.MaxLLMRetries < 0 {
		return fmt.Errorf("orchestrator.max_llm_retries must be >= 0")
	}
	rl := cfg.RateLimit
	if rl.DailyLimit < 0 || rl.WindowLimit < 0 {
		return fmt.Errorf("rate_limit limits must be >= 0")
	}
	if rl.WindowSeconds < 1 {
		return fmt.Errorf("rate_limit.window_seconds must be >= 1")
	}
	if rl.RedisURL != "" && rl.RedisURLEnv != "" {
		return fmt.Errorf("rate_limit.redis_url and rate_limit.redis_url_env are mutually exclusive")
	}
	for token, user := range cfg.Auth.Tokens {
		if strings.TrimSpace(token) == "" || strings.TrimSpace(user) == "" {
			return fmt.Errorf("auth.tokens entries need a non-empty token and user id")
		}
	}
	return nil
}

func validateModel(section string, m ModelConfig) error {
	spec, builtin := providerspec.Builtin(m.Provider)
	if builtin && spec.Local {
		return nil
	}
	if !builtin && m.BaseURL == "" {
		return fmt.Errorf("invalid %s.provider: %q (want one of %s, or set %s.base_url)",
			section, m.Provider, strings.Join(providerspec.Keys(), "|"), section)
	}
	if m.Model == "" {
		return fmt.Errorf("%s.model is required for provider %s", section, m.Provider)
	}
	if m.MaxTokens < 0 {
		return fmt.Errorf("%s.max_tokens must be >= 0", section)
	}
	return nil
}

// IsLocal reports whether the provider runs in process.
func (m ModelConfig) IsLocal() bool {
	spec, ok := providerspec.Builtin(m.Provider)
	return ok && spec.Local
}

// RequiresKey reports whether requests need an API key. Custom providers
// need one only when api_key_env is set.
func (m ModelConfig) RequiresKey() bool {
	if spec, ok := providerspec.Builtin(m.Provider); ok {
		return !spec.Local && !spec.KeyOptional
	}
	return m.APIKeyEnv != ""
}

// OptionsKey names the provider_options entry merged into requests.
func (m ModelConfig) OptionsKey() string {
	if spec, ok := providerspec.Builtin(m.Provider); ok && spec.ProviderOptionsKey != "" {
		return spec.ProviderOptionsKey
	}
	return m.Provider
}

func (o OrchestratorConfig) ReviewTimeout() time.Duration {
	return time.Duration(o.ReviewTimeoutMS) * time.Millisecond
}

func (o OrchestratorConfig) SaveTimeout() time.Duration {
	return time.Duration(o.SaveTimeoutMS) * time.Millisecond
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// ResolveRedisURL returns the configured Redis URL, reading it from the
// environment when redis_url_env is set. Empty means in-process counters.
func (r RateLimitConfig) ResolveRedisURL() string {
	if r.RedisURLEnv != "" {
		return strings.TrimSpace(os.Getenv(r.RedisURLEnv))
	}
	return r.RedisURL
}

// APIKey reads the model's API key from its configured environment variable.
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(m.APIKeyEnv))
}

// ResolveTokens merges auth.tokens with "token=user" pairs read from
// tokens_env, comma separated.
func (f *File) ResolveTokens() (map[string]string, error) {
	out := make(map[string]string, len(f.Auth.Tokens))
	for k, v := range f.Auth.Tokens {
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if f.Auth.TokensEnv == "" {
		return out, nil
	}
	raw := strings.TrimSpace(os.Getenv(f.Auth.TokensEnv))
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, "=")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("%s: malformed entry %q (want token=user)", f.Auth.TokensEnv, pair)
		}
		out[token] = user
	}
	return out, nil
}
