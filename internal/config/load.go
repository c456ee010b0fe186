package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads configuration from the given file (or the default search
// paths when path is empty), applying defaults first and environment
// overrides last.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ingestor")
	}

	setDefaults(v)
	bindEnvironmentVariables(v)

	// Missing config file is fine; defaults plus env cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && path != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Logger defaults - production safe
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("ingest.batch_size", DefaultBatchSize)
	v.SetDefault("ingest.retry_limit", DefaultRetryLimit)
	v.SetDefault("ingest.retry_backoff", DefaultRetryBackoff)
	v.SetDefault("ingest.concurrency", DefaultConcurrency)

	v.SetDefault("spool.dir", "/data")
	v.SetDefault("fingerprint.path", "/data/fingerprints.db")

	v.SetDefault("elasticsearch.addresses", []string{DefaultAddress})
	v.SetDefault("elasticsearch.index_name", DefaultIndexName)
	v.SetDefault("elasticsearch.attempt_timeout", DefaultAttemptTimeout)

	v.SetDefault("scheduler.schedule", DefaultSchedule)

	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	v.SetDefault("server.write_timeout", DefaultServerWriteTimeout)
}

// bindEnvironmentVariables binds well-known environment variables to
// config keys so deploys can configure the ingestor without a file.
func bindEnvironmentVariables(v *viper.Viper) {
	bindings := map[string]string{
		"logger.level":             "LOG_LEVEL",
		"ingest.batch_size":        "INGEST_BATCH_SIZE",
		"ingest.retry_limit":       "INGEST_RETRY_LIMIT",
		"ingest.retry_backoff":     "INGEST_RETRY_BACKOFF",
		"ingest.concurrency":       "INGEST_CONCURRENCY",
		"spool.dir":                "SPOOL_DIR",
		"fingerprint.path":         "FINGERPRINT_PATH",
		"elasticsearch.addresses":  "ELASTICSEARCH_ADDRESSES",
		"elasticsearch.index_name": "ELASTICSEARCH_INDEX_NAME",
		"elasticsearch.username":   "ELASTICSEARCH_USERNAME",
		"elasticsearch.password":   "ELASTICSEARCH_PASSWORD",
		"elasticsearch.api_key":    "ELASTICSEARCH_API_KEY",
		"scheduler.schedule":       "SCHEDULER_SCHEDULE",
		"server.address":           "SERVER_ADDRESS",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}
