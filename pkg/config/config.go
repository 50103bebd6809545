package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Source kinds understood by the agent.
const (
	SourceSLink   = "slink"
	SourceWinston = "winston"
	SourceFDSN    = "fdsn"
)

// EnvPrefix prefixes every environment override, e.g. WAVE_STATION_NETWORK.
const EnvPrefix = "WAVE"

// Config aggregates every section of the agent configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Station StationConfig `yaml:"station" mapstructure:"station"`
	Source  SourceConfig  `yaml:"source" mapstructure:"source"`
	Sink    SinkConfig    `yaml:"sink" mapstructure:"sink"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP endpoint serving /metrics, /health and the window stream.
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0"`
}

// StationConfig selects the seismometer stream: NET.STA.LOC.CHA.
type StationConfig struct {
	Network  string `yaml:"network" mapstructure:"network" validate:"required,max=8"`
	Station  string `yaml:"station" mapstructure:"station" validate:"required,max=8"`
	Location string `yaml:"location" mapstructure:"location" validate:"max=8"`
	Channel  string `yaml:"channel" mapstructure:"channel" validate:"required,max=8"`
}

// SourceConfig picks one upstream adapter and carries the settings of all of them.
type SourceConfig struct {
	Kind      string              `yaml:"kind" mapstructure:"kind" validate:"required,oneof=slink winston fdsn"`
	TickDelay time.Duration       `yaml:"tick_delay" mapstructure:"tick_delay" validate:"required,gt=0"`
	SLink     SLinkSourceConfig   `yaml:"slink" mapstructure:"slink"`
	Winston   WinstonSourceConfig `yaml:"winston" mapstructure:"winston"`
	FDSN      FDSNSourceConfig    `yaml:"fdsn" mapstructure:"fdsn"`
}

// SLinkSourceConfig configures the slinktool subprocess.
type SLinkSourceConfig struct {
	ToolPath    string        `yaml:"tool_path" mapstructure:"tool_path"`
	Server      string        `yaml:"server" mapstructure:"server"`
	StopTimeout time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
}

// WinstonSourceConfig configures the GETWAVERAW socket client.
type WinstonSourceConfig struct {
	Host       string        `yaml:"host" mapstructure:"host"`
	Port       int           `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	BigEndian  bool          `yaml:"big_endian" mapstructure:"big_endian"`
	CheckDelay time.Duration `yaml:"check_delay" mapstructure:"check_delay"`
	LimitTime  time.Duration `yaml:"limit_time" mapstructure:"limit_time"`
}

// FDSNSourceConfig configures the dataselect download and the miniSEED decoder subprocess.
type FDSNSourceConfig struct {
	DecoderPath      string        `yaml:"decoder_path" mapstructure:"decoder_path"`
	BaseURL          string        `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string        `yaml:"user_agent" mapstructure:"user_agent"`
	ScratchDir       string        `yaml:"scratch_dir" mapstructure:"scratch_dir"`
	CheckInterval    time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	DownloadInterval time.Duration `yaml:"download_interval" mapstructure:"download_interval"`
	LimitTime        time.Duration `yaml:"limit_time" mapstructure:"limit_time"`
	DecodeTimeout    time.Duration `yaml:"decode_timeout" mapstructure:"decode_timeout"`
}

// SinkConfig lists the window consumers besides in-process subscribers.
type SinkConfig struct {
	WebSocket WebSocketSinkConfig `yaml:"websocket" mapstructure:"websocket"`
	NATS      NATSSinkConfig      `yaml:"nats" mapstructure:"nats"`
}

// WebSocketSinkConfig exposes windows on the HTTP server.
type WebSocketSinkConfig struct {
	Enable bool   `yaml:"enable" mapstructure:"enable"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// NATSSinkConfig publishes windows to NATS when URL is set.
type NATSSinkConfig struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// ZapLogConfig configures the zap logger and its rotated file output.
type ZapLogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console"`
	Path   string `yaml:"path" mapstructure:"path" validate:"required"`
	MaxAge int    `yaml:"max_age" mapstructure:"max_age" validate:"required,gt=0"`
}

// NewDefaultConfig returns a configuration where every field holds a usable value.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Station: StationConfig{
			Network:  "IU",
			Station:  "ANMO",
			Location: "00",
			Channel:  "BHZ",
		},
		Source: SourceConfig{
			Kind:      SourceSLink,
			TickDelay: 200 * time.Millisecond,
			SLink: SLinkSourceConfig{
				ToolPath:    "slinktool",
				Server:      "rtserve.iris.washington.edu:18000",
				StopTimeout: 3 * time.Second,
			},
			Winston: WinstonSourceConfig{
				Port:       16022,
				BigEndian:  true,
				CheckDelay: 3 * time.Second,
				LimitTime:  30 * time.Second,
			},
			FDSN: FDSNSourceConfig{
				DecoderPath:      "mseedviewer",
				BaseURL:          "http://service.iris.edu/fdsnws/dataselect/1/query",
				UserAgent:        "wave-collector/1.0",
				ScratchDir:       os.TempDir(),
				CheckInterval:    5 * time.Second,
				DownloadInterval: 8 * time.Second,
				LimitTime:        60 * time.Second,
				DecodeTimeout:    30 * time.Second,
			},
		},
		Sink: SinkConfig{
			WebSocket: WebSocketSinkConfig{
				Enable: true,
				Path:   "/ws/windows",
			},
			NATS: NATSSinkConfig{
				SubjectPrefix: "wave.window",
			},
		},
		Log: ZapLogConfig{
			Level:  "info",
			Format: "json",
			Path:   "./logs",
			MaxAge: 7,
		},
	}
}

// LoadConfigWithCli merges defaults, the YAML file, WAVE_* environment variables and flags.
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			// the default path is optional, an explicit one is not
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if !missing || cmd.Flags().Changed("config") {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := Decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode overlays raw settings (as produced by viper) onto cfg.
func Decode(settings map[string]any, cfg *Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate runs the struct tags first, then the per-section checks.
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Sink.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// StreamID renders the station selector as NET.STA.LOC.CHA.
func (s StationConfig) StreamID() string {
	return strings.Join([]string{s.Network, s.Station, s.Location, s.Channel}, ".")
}
