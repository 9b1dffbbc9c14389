package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SMTPConfig configures the email sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMSConfig configures the SMS gateway sender.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	APISecret  string
	From       string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL         string
	Watchlist      string
	Users          string
	MaxRetries     int
	RetryDelay     time.Duration
	HealthInterval time.Duration
	ReplayBlocks   uint64

	PostgresDSN       string
	RedisAddr         string
	NATSURL           string
	NATSSubjectPrefix string

	AIAPIKey     string
	AIModel      string
	AITimeout    time.Duration
	AIBatchDelay time.Duration

	SMTP           SMTPConfig
	SMS            SMSConfig
	PushGatewayURL string
	DevSenders     bool

	Importance       map[string]string
	Handlers         map[string]string
	BatchWindow      time.Duration
	EnforceRateLimit bool

	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool

	MetricsAddr string
	AuditOut    string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PINGME")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("watchlist", "./contracts.yaml")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-delay", 5*time.Second)
	v.SetDefault("health-interval", 30*time.Second)
	v.SetDefault("replay-blocks", uint64(100))
	v.SetDefault("nats-subject-prefix", "pingme.events")
	v.SetDefault("ai-model", "gemini-2.5-flash")
	v.SetDefault("ai-timeout", 15*time.Second)
	v.SetDefault("ai-batch-delay", time.Second)
	v.SetDefault("smtp-port", 587)
	v.SetDefault("dev-senders", false)
	v.SetDefault("batch-window", time.Minute)
	v.SetDefault("enforce-rate-limit", false)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("checkpoint", "./data/replay_checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("metrics-addr", ":9090")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		Watchlist:         v.GetString("watchlist"),
		Users:             v.GetString("users"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryDelay:        v.GetDuration("retry-delay"),
		HealthInterval:    v.GetDuration("health-interval"),
		ReplayBlocks:      v.GetUint64("replay-blocks"),
		PostgresDSN:       v.GetString("pg-dsn"),
		RedisAddr:         v.GetString("redis-addr"),
		NATSURL:           v.GetString("nats-url"),
		NATSSubjectPrefix: v.GetString("nats-subject-prefix"),
		AIAPIKey:          v.GetString("ai-api-key"),
		AIModel:           v.GetString("ai-model"),
		AITimeout:         v.GetDuration("ai-timeout"),
		AIBatchDelay:      v.GetDuration("ai-batch-delay"),
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp-host"),
			Port:     v.GetInt("smtp-port"),
			Username: v.GetString("smtp-user"),
			Password: v.GetString("smtp-password"),
			From:     v.GetString("smtp-from"),
		},
		SMS: SMSConfig{
			GatewayURL: v.GetString("sms-gateway-url"),
			APIKey:     v.GetString("sms-api-key"),
			APISecret:  v.GetString("sms-api-secret"),
			From:       v.GetString("sms-from"),
		},
		PushGatewayURL:    v.GetString("push-gateway-url"),
		DevSenders:        v.GetBool("dev-senders"),
		Importance:        getStringMap(v, "importance"),
		Handlers:          getStringMap(v, "handlers"),
		BatchWindow:       v.GetDuration("batch-window"),
		EnforceRateLimit:  v.GetBool("enforce-rate-limit"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MetricsAddr:       v.GetString("metrics-addr"),
		AuditOut:          v.GetString("audit-out"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if c.Watchlist == "" {
		return fmt.Errorf("watchlist is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be >= 0")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health-interval must be > 0")
	}
	return nil
}

// getStringMap reads a map-valued key. Viper lowercases nested keys, so callers must
// compare map keys case-insensitively.
func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
