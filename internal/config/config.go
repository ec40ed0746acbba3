package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/peercall/internal/domain"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	Signal    Signal    `mapstructure:"signal"`
	Transport Transport `mapstructure:"transport"`
	Media     Media     `mapstructure:"media"`
	Call      Call      `mapstructure:"call"`
	Recording Recording `mapstructure:"recording"`
	API       API       `mapstructure:"api"`
}

// Signal is the rendezvous websocket that hears join/disconnect.
type Signal struct {
	URL          string        `mapstructure:"url"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// Transport is the offer/answer broker plus ICE settings.
type Transport struct {
	BrokerURL   string        `mapstructure:"broker_url"`
	Path        string        `mapstructure:"path"`
	Key         string        `mapstructure:"key"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	PLIInterval time.Duration `mapstructure:"pli_interval"`
}

type Media struct {
	EchoCancellation bool `mapstructure:"echo_cancellation"`
	NoiseSuppression bool `mapstructure:"noise_suppression"`
	AutoGainControl  bool `mapstructure:"auto_gain_control"`
	VideoWidth       int  `mapstructure:"video_width"`
	VideoHeight      int  `mapstructure:"video_height"`
	VideoBitRate     int  `mapstructure:"video_bitrate"`

	ScreenShare        bool `mapstructure:"screen_share"`
	ScreenCursor       bool `mapstructure:"screen_cursor"`
	ScreenAudio        bool `mapstructure:"screen_audio"`
	ScreenSampleRate   int  `mapstructure:"screen_sample_rate"`
	ScreenVideoBitRate int  `mapstructure:"screen_video_bitrate"`
}

type Call struct {
	AutoAnswer bool `mapstructure:"auto_answer"`
}

type Recording struct {
	Dir         string `mapstructure:"dir"`
	SampleQueue int    `mapstructure:"sample_queue"`
}

type API struct {
	CallRateLimit    int           `mapstructure:"call_rate_limit"`
	CallRateInterval time.Duration `mapstructure:"call_rate_interval"`
	WatcherBuffer    int           `mapstructure:"watcher_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "peercall-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("signal.url", "ws://localhost:5000/ws")
	v.SetDefault("signal.write_timeout", "5s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.dial_timeout", "10s")

	v.SetDefault("transport.broker_url", "http://localhost:9000")
	v.SetDefault("transport.path", "/")
	v.SetDefault("transport.key", "peerjs")
	v.SetDefault("transport.open_timeout", "15s")
	v.SetDefault("transport.call_timeout", "20s")
	v.SetDefault("transport.heartbeat", "5s")
	v.SetDefault("transport.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("transport.pli_interval", "3s")

	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("media.auto_gain_control", true)
	v.SetDefault("media.video_width", 640)
	v.SetDefault("media.video_height", 480)
	v.SetDefault("media.video_bitrate", 1_500_000)
	v.SetDefault("media.screen_share", true)
	v.SetDefault("media.screen_cursor", true)
	v.SetDefault("media.screen_audio", true)
	v.SetDefault("media.screen_sample_rate", 44100)
	v.SetDefault("media.screen_video_bitrate", 2_500_000)

	v.SetDefault("call.auto_answer", true)

	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("recording.sample_queue", 256)

	v.SetDefault("api.call_rate_limit", 5)
	v.SetDefault("api.call_rate_interval", "10s")
	v.SetDefault("api.watcher_buffer", 32)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("PEERCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The browser build of the app took its rendezvous address from BACKEND_URL.
	if err := v.BindEnv("signal.url", "PEERCALL_SIGNAL_URL", "BACKEND_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("signal", cfg.Signal.URL).
		Str("broker", cfg.Transport.BrokerURL).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "release", "debug", "test":
	default:
		return fmt.Errorf("mode must be release, debug or test, got %q", c.Mode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if err := validateURL("signal.url", c.Signal.URL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("transport.broker_url", c.Transport.BrokerURL, "http", "https"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Transport.Key) == "" {
		return errors.New("transport.key is required")
	}
	if c.Transport.CallTimeout <= 0 {
		return errors.New("transport.call_timeout must be positive")
	}
	if c.Transport.OpenTimeout <= 0 {
		return errors.New("transport.open_timeout must be positive")
	}
	if c.Signal.SendBuffer <= 0 {
		return errors.New("signal.send_buffer must be positive")
	}
	if strings.TrimSpace(c.Recording.Dir) == "" {
		return errors.New("recording.dir is required")
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: expected %s url, got %q", key, strings.Join(schemes, "/"), raw)
}

// MediaConstraints turns the media section into a camera+mic request.
func (c *Config) MediaConstraints() domain.MediaConstraints {
	mc := domain.DefaultMediaConstraints()
	mc.EchoCancellation = c.Media.EchoCancellation
	mc.NoiseSuppression = c.Media.NoiseSuppression
	mc.AutoGainControl = c.Media.AutoGainControl
	if c.Media.VideoWidth > 0 {
		mc.Width = c.Media.VideoWidth
	}
	if c.Media.VideoHeight > 0 {
		mc.Height = c.Media.VideoHeight
	}
	if c.Media.VideoBitRate > 0 {
		mc.VideoBitRate = c.Media.VideoBitRate
	}
	return mc
}

func (c *Config) ScreenConstraints() domain.ScreenConstraints {
	sc := domain.DefaultScreenConstraints()
	sc.Cursor = c.Media.ScreenCursor
	sc.Audio = c.Media.ScreenAudio
	sc.EchoCancellation = c.Media.EchoCancellation
	sc.NoiseSuppression = c.Media.NoiseSuppression
	if c.Media.ScreenSampleRate > 0 {
		sc.SampleRate = c.Media.ScreenSampleRate
	}
	if c.Media.ScreenVideoBitRate > 0 {
		sc.VideoBitRate = c.Media.ScreenVideoBitRate
	}
	return sc
}
