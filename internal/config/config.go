// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Temporal connection.
	TemporalHostPort string `yaml:"temporal_host_port"`
	TaskQueue        string `yaml:"task_queue"`

	// Ledger (CharonSwitch contract).
	RPCURL           string `yaml:"rpc_url"`
	ContractAddress  string `yaml:"contract_address"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ErrorInterval    time.Duration `yaml:"error_interval"`
	LookbackBlocks   uint64 `yaml:"lookback_blocks"`
	GracePeriodHours int    `yaml:"grace_period_hours"`

	// Execution.
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxConcurrent int           `yaml:"max_concurrent"`

	// Storage and listeners.
	DatabasePath   string `yaml:"database_path"`
	ArtifactDir    string `yaml:"artifact_dir"`
	APIListenAddr  string `yaml:"api_listen_addr"`
	ProgressListen string `yaml:"progress_listen_addr"`

	// Browser engine.
	BrowserHeadless bool `yaml:"browser_headless"`

	// Automation agent endpoint the runner delegates instructions to.
	AgentURL string `yaml:"agent_url"`

	// Unsealer identity (age X25519 private key, usually supplied via env)
	// and its public recipient, which is all the authoring API needs.
	UnsealIdentity  string `yaml:"unseal_identity"`
	UnsealRecipient string `yaml:"unseal_recipient"`

	// Guardian notifications.
	NotifyAPIKey    string `yaml:"notify_api_key"`
	NotifyFromEmail string `yaml:"notify_from_email"`
	NotifyBaseURL   string `yaml:"notify_base_url"`
}

// Default returns the built-in defaults, matching the intervals the
// pipeline is specified with.
func Default() Config {
	return Config{
		TemporalHostPort: "localhost:7233",
		TaskQueue:        "CHAROND_TASK_QUEUE",
		PollInterval:     10 * time.Second,
		ErrorInterval:    30 * time.Second,
		LookbackBlocks:   100,
		GracePeriodHours: 72,
		MaxAttempts:      3,
		RetryDelay:       2 * time.Second,
		MaxConcurrent:    4,
		DatabasePath:     "charond.db",
		ArtifactDir:      "artifacts",
		APIListenAddr:    ":8090",
		ProgressListen:   ":8091",
		BrowserHeadless:  true,
		AgentURL:         "http://localhost:8100",
		NotifyFromEmail:  "noreply@charon.estate",
		NotifyBaseURL:    "https://api.resend.com",
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("TEMPORAL_HOST_PORT", &cfg.TemporalHostPort)
	envString("TASK_QUEUE", &cfg.TaskQueue)
	envString("RPC_URL", &cfg.RPCURL)
	envString("CHARON_SWITCH_ADDRESS", &cfg.ContractAddress)
	envDuration("POLL_INTERVAL", &cfg.PollInterval)
	envDuration("ERROR_INTERVAL", &cfg.ErrorInterval)
	envUint64("LOOKBACK_BLOCKS", &cfg.LookbackBlocks)
	envInt("GRACE_PERIOD_HOURS", &cfg.GracePeriodHours)
	envInt("MAX_ATTEMPTS", &cfg.MaxAttempts)
	envDuration("RETRY_DELAY", &cfg.RetryDelay)
	envInt("MAX_CONCURRENT", &cfg.MaxConcurrent)
	envString("DATABASE_PATH", &cfg.DatabasePath)
	envString("ARTIFACT_DIR", &cfg.ArtifactDir)
	envString("API_LISTEN_ADDR", &cfg.APIListenAddr)
	envString("PROGRESS_LISTEN_ADDR", &cfg.ProgressListen)
	envBool("BROWSER_HEADLESS", &cfg.BrowserHeadless)
	envString("AGENT_URL", &cfg.AgentURL)
	envString("UNSEAL_IDENTITY", &cfg.UnsealIdentity)
	envString("UNSEAL_RECIPIENT", &cfg.UnsealRecipient)
	envString("NOTIFY_API_KEY", &cfg.NotifyAPIKey)
	envString("NOTIFY_FROM_EMAIL", &cfg.NotifyFromEmail)
	envString("NOTIFY_BASE_URL", &cfg.NotifyBaseURL)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
