package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReplayTuningHolder serves the live replay tuning. Values come from the
// environment at boot and may be overridden by replay.yml, which is watched
// for changes.
type ReplayTuningHolder struct {
	current atomic.Value // holds ReplayConfig
}

func NewReplayTuningHolder(cfg Config) (*ReplayTuningHolder, error) {
	v := viper.New()

	v.SetConfigName("replay")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/waiterless")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WAITERLESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("replay.maxEvents", cfg.Replay.MaxEvents)
	v.SetDefault("replay.window", cfg.Replay.Window)
	v.SetDefault("replay.subscriberQueue", cfg.Replay.SubscriberQueue)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	tuning, err := decodeReplay(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticReplayTuning(tuning)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeReplay(v)
			if err != nil {
				log.Printf("[replay-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[replay-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticReplayTuning returns a holder that never reloads.
func NewStaticReplayTuning(cfg ReplayConfig) *ReplayTuningHolder {
	holder := &ReplayTuningHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *ReplayTuningHolder) Get() ReplayConfig {
	return h.current.Load().(ReplayConfig)
}

func decodeReplay(v *viper.Viper) (ReplayConfig, error) {
	var cfg ReplayConfig
	cfg.MaxEvents = v.GetInt("replay.maxEvents")
	cfg.Window = v.GetDuration("replay.window")
	cfg.SubscriberQueue = v.GetInt("replay.subscriberQueue")
	if err := validateReplayConfig(cfg); err != nil {
		return ReplayConfig{}, err
	}
	return cfg, nil
}

func validateReplayConfig(cfg ReplayConfig) error {
	if cfg.MaxEvents <= 0 {
		return errors.New("replay.maxEvents must be positive")
	}
	if cfg.Window <= 0 {
		return errors.New("replay.window must be positive")
	}
	if cfg.SubscriberQueue <= 0 {
		return errors.New("replay.subscriberQueue must be positive")
	}
	return nil
}
