package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// IngestPolicy bounds what a single ingestion request may carry.
type IngestPolicy struct {
	MaxBatchSize    int `mapstructure:"maxBatchSize"`
	MaxMetadataKeys int `mapstructure:"maxMetadataKeys"`
}

func DefaultIngestPolicy() IngestPolicy {
	return IngestPolicy{
		MaxBatchSize:    1000,
		MaxMetadataKeys: 256,
	}
}

type IngestPolicyHolder struct {
	current atomic.Value // holds IngestPolicy
	source  string
}

// NewStaticIngestPolicy returns a holder that never reloads.
func NewStaticIngestPolicy(policy IngestPolicy) *IngestPolicyHolder {
	holder := &IngestPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewIngestPolicyHolder reads ingest.yml and keeps it current on file changes.
func NewIngestPolicyHolder(log *zap.Logger) (*IngestPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()

	v.SetConfigName("ingest")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/telemetry")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TELEMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultIngestPolicy()
	v.SetDefault("ingest.maxBatchSize", defaults.MaxBatchSize)
	v.SetDefault("ingest.maxMetadataKeys", defaults.MaxMetadataKeys)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy := defaults
	if err := v.UnmarshalKey("ingest", &policy); err != nil {
		return nil, err
	}
	if err := validateIngestPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticIngestPolicy(policy)
	if !fileLoaded {
		return holder, nil
	}
	holder.source = v.ConfigFileUsed()

	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultIngestPolicy()
		if err := v.UnmarshalKey("ingest", &updated); err != nil {
			log.Warn("ingest policy reload failed", zap.Error(err))
			return
		}
		if err := validateIngestPolicy(updated); err != nil {
			log.Warn("invalid ingest policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("ingest policy reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *IngestPolicyHolder) Get() IngestPolicy {
	if h == nil {
		return DefaultIngestPolicy()
	}
	return h.current.Load().(IngestPolicy)
}

// Source is the watched policy file, or empty when defaults are in use.
func (h *IngestPolicyHolder) Source() string {
	if h == nil {
		return ""
	}
	return h.source
}

func validateIngestPolicy(policy IngestPolicy) error {
	if policy.MaxBatchSize <= 0 {
		return errors.New("ingest.maxBatchSize must be positive")
	}
	if policy.MaxMetadataKeys <= 0 {
		return errors.New("ingest.maxMetadataKeys must be positive")
	}
	return nil
}
