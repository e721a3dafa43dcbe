// Package config loads runtime settings from a config file, MIXIFY_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. MIXIFY_OPENAI_API_KEY.
const EnvPrefix = "MIXIFY"

// ConfigName is the config file looked up in the home directory.
const ConfigName = ".mixify"

// Server holds the mixing API settings.
type Server struct {
	Addr             string
	SessionRetention time.Duration
}

// Cache holds the analysis cache and precomputed store settings.
type Cache struct {
	Path           string
	Capacity       int
	AnalysisTTL    time.Duration
	StemTTL        time.Duration
	PrecomputedTTL time.Duration
}

// Audio holds the audio-processing service and local fallback settings.
type Audio struct {
	URL               string
	Timeout           time.Duration
	Attempts          uint
	Delay             time.Duration
	RequestsPerSecond float64
	LocalRoot         string
	RemoteHosts       []string
	AnalyzeTimeout    time.Duration
	RenderTimeout     time.Duration
}

// Gateway holds both the client side (URL, credentials) and the server side
// (listen address, accepted clients) of the remote orchestration service.
type Gateway struct {
	URL          string
	ClientID     string
	ClientSecret string
	MaxRetries   int
	Backoff      time.Duration

	Addr     string
	Clients  map[string]string
	TokenTTL time.Duration
}

// OpenAI configures the first direct provider.
type OpenAI struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
}

// Ollama configures the second direct provider.
type Ollama struct {
	Host  string
	Model string
}

// Resolver configures the provider chain.
type Resolver struct {
	ProviderTimeout time.Duration
	TickInterval    time.Duration
}

// Worker configures the prefetch pool.
type Worker struct {
	Count      int
	QueueSize  int
	JobTimeout time.Duration
}

// Config is the validated runtime configuration.
type Config struct {
	Server   Server
	Cache    Cache
	Audio    Audio
	Gateway  Gateway
	OpenAI   OpenAI
	Ollama   Ollama
	Resolver Resolver
	Worker   Worker
	Verbose  bool
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.session_retention", time.Hour)

	v.SetDefault("cache.path", "mixify.db")
	v.SetDefault("cache.capacity", 512)
	v.SetDefault("cache.analysis_ttl", 24*time.Hour)
	v.SetDefault("cache.stem_ttl", 7*24*time.Hour)
	v.SetDefault("cache.precomputed_ttl", 24*time.Hour)

	v.SetDefault("audio.url", "http://localhost:5000")
	v.SetDefault("audio.timeout", 2*time.Minute)
	v.SetDefault("audio.attempts", 3)
	v.SetDefault("audio.delay", 500*time.Millisecond)
	v.SetDefault("audio.requests_per_second", 0)
	v.SetDefault("audio.local_root", "")
	v.SetDefault("audio.remote_hosts", []string{})
	v.SetDefault("audio.analyze_timeout", 90*time.Second)
	v.SetDefault("audio.render_timeout", 2*time.Minute)

	v.SetDefault("gateway.url", "")
	v.SetDefault("gateway.client_id", "")
	v.SetDefault("gateway.client_secret", "")
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.backoff", 500*time.Millisecond)
	v.SetDefault("gateway.addr", ":9090")
	v.SetDefault("gateway.token_ttl", 15*time.Minute)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.requests_per_second", 1)

	v.SetDefault("ollama.host", "")
	v.SetDefault("ollama.model", "deepseek-r1:8b")

	v.SetDefault("resolver.provider_timeout", 30*time.Second)
	v.SetDefault("resolver.tick_interval", 500*time.Millisecond)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.job_timeout", 5*time.Minute)

	v.SetDefault("verbose", false)
}

// New returns a viper instance with defaults, environment binding and the
// config file read in. A missing default config file is not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("config: find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(ConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}
	return v, nil
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:             v.GetString("server.addr"),
			SessionRetention: v.GetDuration("server.session_retention"),
		},
		Cache: Cache{
			Path:           v.GetString("cache.path"),
			Capacity:       v.GetInt("cache.capacity"),
			AnalysisTTL:    v.GetDuration("cache.analysis_ttl"),
			StemTTL:        v.GetDuration("cache.stem_ttl"),
			PrecomputedTTL: v.GetDuration("cache.precomputed_ttl"),
		},
		Audio: Audio{
			URL:               v.GetString("audio.url"),
			Timeout:           v.GetDuration("audio.timeout"),
			Attempts:          v.GetUint("audio.attempts"),
			Delay:             v.GetDuration("audio.delay"),
			RequestsPerSecond: v.GetFloat64("audio.requests_per_second"),
			LocalRoot:         v.GetString("audio.local_root"),
			RemoteHosts:       v.GetStringSlice("audio.remote_hosts"),
			AnalyzeTimeout:    v.GetDuration("audio.analyze_timeout"),
			RenderTimeout:     v.GetDuration("audio.render_timeout"),
		},
		Gateway: Gateway{
			URL:          v.GetString("gateway.url"),
			ClientID:     v.GetString("gateway.client_id"),
			ClientSecret: v.GetString("gateway.client_secret"),
			MaxRetries:   v.GetInt("gateway.max_retries"),
			Backoff:      v.GetDuration("gateway.backoff"),
			Addr:         v.GetString("gateway.addr"),
			Clients:      v.GetStringMapString("gateway.clients"),
			TokenTTL:     v.GetDuration("gateway.token_ttl"),
		},
		OpenAI: OpenAI{
			APIKey:            v.GetString("openai.api_key"),
			BaseURL:           v.GetString("openai.base_url"),
			Model:             v.GetString("openai.model"),
			RequestsPerSecond: v.GetFloat64("openai.requests_per_second"),
		},
		Ollama: Ollama{
			Host:  v.GetString("ollama.host"),
			Model: v.GetString("ollama.model"),
		},
		Resolver: Resolver{
			ProviderTimeout: v.GetDuration("resolver.provider_timeout"),
			TickInterval:    v.GetDuration("resolver.tick_interval"),
		},
		Worker: Worker{
			Count:      v.GetInt("worker.count"),
			QueueSize:  v.GetInt("worker.queue_size"),
			JobTimeout: v.GetDuration("worker.job_timeout"),
		},
		Verbose: v.GetBool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"server.session_retention":  c.Server.SessionRetention,
		"audio.timeout":             c.Audio.Timeout,
		"audio.analyze_timeout":     c.Audio.AnalyzeTimeout,
		"audio.render_timeout":      c.Audio.RenderTimeout,
		"resolver.provider_timeout": c.Resolver.ProviderTimeout,
		"resolver.tick_interval":    c.Resolver.TickInterval,
		"gateway.token_ttl":         c.Gateway.TokenTTL,
		"worker.job_timeout":        c.Worker.JobTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	for key, d := range map[string]time.Duration{
		"cache.analysis_ttl":    c.Cache.AnalysisTTL,
		"cache.stem_ttl":        c.Cache.StemTTL,
		"cache.precomputed_ttl": c.Cache.PrecomputedTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", key, d))
		}
	}
	if c.Cache.Capacity < 1 {
		errs = append(errs, fmt.Errorf("cache.capacity must be at least 1, got %d", c.Cache.Capacity))
	}
	if c.Worker.Count < 1 || c.Worker.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("worker.count and worker.queue_size must be at least 1"))
	}
	if c.Audio.RequestsPerSecond < 0 || c.OpenAI.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests_per_second must not be negative"))
	}
	if c.Gateway.ClientID != "" && c.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway.client_id is set but gateway.url is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
