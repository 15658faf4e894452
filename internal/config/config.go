// Package config provides configuration management for the lip-sync engine
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/spectrum"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	dirName   = ".cortexlipsync"
	envPrefix = "CORTEXLIPSYNC"
)

// Config holds all application configuration
type Config struct {
	Engine  avatar3d.Tuning `mapstructure:"engine" yaml:"engine"`
	Audio   AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Server  ServerConfig    `mapstructure:"server" yaml:"server"`
	Model   ModelConfig     `mapstructure:"model" yaml:"model"`
	Logging logging.Config  `mapstructure:"logging" yaml:"logging"`
}

// AudioConfig configures the audio side of the frame loop
type AudioConfig struct {
	FPS      int             `mapstructure:"fps" yaml:"fps"`
	Loop     bool            `mapstructure:"loop" yaml:"loop"`
	Spectrum spectrum.Config `mapstructure:"spectrum" yaml:"spectrum"`
	VAD      audio.VADConfig `mapstructure:"vad" yaml:"vad"`
}

// ServerConfig configures the WebSocket stream and metrics endpoint
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	StreamPath      string        `mapstructure:"stream_path" yaml:"stream_path"`
	MetricsPath     string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"` // Frames queued per client before dropping
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"` // Inbound message limit
}

// ModelConfig selects the avatar
type ModelConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`     // .glb/.gltf; empty uses the built-in rig
	Output string `mapstructure:"output" yaml:"output"` // Where simulate writes the posed model
	Rig    string `mapstructure:"rig" yaml:"rig"`       // readyplayerme or arkit
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine: avatar3d.DefaultTuning(),
		Audio: AudioConfig{
			FPS:      60,
			Loop:     false,
			Spectrum: spectrum.DefaultConfig(),
			VAD:      *audio.DefaultVADConfig(),
		},
		Server: ServerConfig{
			Listen:          ":8765",
			StreamPath:      "/ws",
			MetricsPath:     "/metrics",
			SendBuffer:      32,
			WriteTimeout:    5 * time.Second,
			MaxMessageBytes: 64 << 10,
		},
		Model: ModelConfig{
			Rig: "readyplayerme",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Validate checks ranges the engine cannot repair on its own.
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.FPS < 1 || c.Audio.FPS > 240 {
		errs = append(errs, fmt.Errorf("audio.fps %d outside [1,240]", c.Audio.FPS))
	}
	if err := c.Audio.Spectrum.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Audio.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("audio.vad.threshold %v is negative", c.Audio.VAD.Threshold))
	}
	if c.Engine.DecayFactor < 0 || c.Engine.DecayFactor >= 1 {
		errs = append(errs, fmt.Errorf("engine.decay_factor %v outside [0,1)", c.Engine.DecayFactor))
	}
	if c.Engine.VolumeGate < 0 {
		errs = append(errs, fmt.Errorf("engine.volume_gate %v is negative", c.Engine.VolumeGate))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is empty"))
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") || !strings.HasPrefix(c.Server.MetricsPath, "/") {
		errs = append(errs, errors.New("server paths must start with /"))
	}
	if c.Server.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("server.send_buffer %d must be positive", c.Server.SendBuffer))
	}
	switch c.Model.Rig {
	case "readyplayerme", "arkit":
	default:
		errs = append(errs, fmt.Errorf("model.rig %q is not readyplayerme or arkit", c.Model.Rig))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %v", err))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Manager owns a viper instance and the last valid configuration.
type Manager struct {
	v *viper.Viper

	mu  sync.RWMutex
	cfg *Config
}

// Load reads configuration from path, or from ~/.cortexlipsync/config.yaml
// and ./config.yaml when path is empty. Environment variables such as
// CORTEXLIPSYNC_SERVER_LISTEN override file values. A missing default file
// is not an error; a missing explicit path is.
func Load(path string) (*Manager, error) {
	v := viper.New()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if dir, err := GetConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// Environment variable overrides
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, cfg: cfg}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of def so env overrides apply to keys
// that no file mentions.
func setDefaults(v *viper.Viper, def *Config) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, val := range node {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := val.(map[string]any); ok {
				walk(key, child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// Config returns the current configuration. Callers must not modify it.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Path is the file the configuration was read from, empty when none.
func (m *Manager) Path() string {
	return m.v.ConfigFileUsed()
}

// Watch reloads the file on change. fn receives the new configuration, or
// the validation error while the previous configuration stays active.
func (m *Manager) Watch(fn func(cfg *Config, err error)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(m.v)
		if err != nil {
			fn(nil, err)
			return
		}
		m.mu.Lock()
		m.cfg = cfg
		m.mu.Unlock()
		fn(cfg, nil)
	})
	m.v.WatchConfig()
}

// Save writes cfg as YAML to path, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, dirName), nil
}

// DefaultPath is the config file used when no --config flag is given.
func DefaultPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
