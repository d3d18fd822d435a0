// Package config loads the process-wide recognised options from
// viper-backed YAML (settings.yaml) and the harvester-registry file
// (harvesters.toml), hot-reloaded via fsnotify.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// Settings is the closed, recognised set of process-wide options; an
// option outside this set is simply never read (viper tolerates unknown
// keys in the file).
type Settings struct {
	BrokerHost     string `mapstructure:"broker_host"`
	BrokerUser     string `mapstructure:"broker_user"`
	BrokerPassword string `mapstructure:"broker_password"`

	ExchangeName string `mapstructure:"exchange_name"`
	QueueName    string `mapstructure:"queue_name"`

	PrefetchCount             int           `mapstructure:"prefetch_count"`
	ConsumerAckTimeout        time.Duration `mapstructure:"consumer_ack_timeout"`
	WaitBeforeShutdown        time.Duration `mapstructure:"wait_before_shutdown"`
	InnerTaskQueueLength      int           `mapstructure:"inner_task_queue_length"`
	InnerTaskParallelismLimit int           `mapstructure:"inner_task_parallelism_limit"`

	// Identifiers widens types.RecognisedIdentifierTypes.
	Identifiers []IdentifierSpec `mapstructure:"identifiers"`

	// Harvesters is the adapter registry list; also
	// loadable independently (hot-reloaded) from a dedicated TOML file,
	// see harvesters.go.
	Harvesters []HarvesterSpec `mapstructure:"harvesters"`

	// ConceptLanguages is the ordered label-language preference the entity
	// reconciler walks when more than one Label is available for a Concept.
	ConceptLanguages []string `mapstructure:"concept_languages"`

	// SourceTimeouts maps a harvester name to its external-call timeout.
	SourceTimeouts map[string]time.Duration `mapstructure:"source_timeouts"`

	// CacheNamespaces maps a third-party-cache namespace to its TTL.
	CacheNamespaces        map[string]time.Duration `mapstructure:"cache_namespaces"`
	ThirdAPICachingEnabled bool                     `mapstructure:"third_api_caching_enabled"`

	HealthAddr   string `mapstructure:"health_addr"`
	StoreBackend string `mapstructure:"store_backend"`
	StoreDSN     string `mapstructure:"store_dsn"`
	RedisAddr    string `mapstructure:"redis_addr"`
}

// IdentifierSpec is one entry of the `identifiers` option.
type IdentifierSpec struct {
	Key string `mapstructure:"key"`
}

// HarvesterSpec is one entry of the `harvesters` option. Module/Class describe where the
// original system dynamically loaded an adapter class from; this module's
// adapters are statically registered Go factories (internal/harvester's
// Registry.Register at init time), so Module/Class are carried through for
// audit/display purposes only. Name is what actually selects the
// factory, Options is what the factory receives.
type HarvesterSpec struct {
	Name    string         `mapstructure:"name" toml:"name"`
	Module  string         `mapstructure:"module" toml:"module"`
	Class   string         `mapstructure:"class" toml:"class"`
	Options map[string]any `mapstructure:"options" toml:"options"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("exchange_name", "publications")
	v.SetDefault("queue_name", "references-retrieval")
	v.SetDefault("prefetch_count", 64)
	v.SetDefault("consumer_ack_timeout", "30s")
	v.SetDefault("wait_before_shutdown", "30s")
	v.SetDefault("inner_task_queue_length", 64)
	v.SetDefault("inner_task_parallelism_limit", 4)
	v.SetDefault("concept_languages", []string{"fr", "en"})
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("store_backend", "sqlite")
}

// Load reads settings.yaml from path (a directory: path/settings.yaml)
// and overlays SVP_HARVESTER_-prefixed environment variables.
func Load(path string) (*Settings, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigName("settings")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("SVP_HARVESTER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read settings.yaml: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}

// RecognisedIdentifierTypes builds the closed identifier-type set the
// broker's inbound message decoding validates against, starting from
// types.RecognisedIdentifierTypes and widening it per Identifiers.
func (s *Settings) RecognisedIdentifierTypes() map[types.IdentifierType]bool {
	out := make(map[types.IdentifierType]bool, len(types.RecognisedIdentifierTypes)+len(s.Identifiers))
	for k, v := range types.RecognisedIdentifierTypes {
		out[k] = v
	}
	for _, id := range s.Identifiers {
		out[types.IdentifierType(id.Key)] = true
	}
	return out
}
