package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Browser  BrowserConfig  `mapstructure:"browser"`
	Run      RunConfig      `mapstructure:"run"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Targets  []TargetConfig `mapstructure:"targets"`
}

type BrowserConfig struct {
	Engine          string        `mapstructure:"engine"` // firefox, chromium, webkit, cdp
	Headless        bool          `mapstructure:"headless"`
	ExecutablePath  string        `mapstructure:"executablePath"`
	UserAgent       string        `mapstructure:"userAgent"`
	ViewportWidth   int           `mapstructure:"viewportWidth"`
	ViewportHeight  int           `mapstructure:"viewportHeight"`
	MaxPages        int           `mapstructure:"maxPages"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type RunConfig struct {
	StepTimeout    time.Duration `mapstructure:"stepTimeout"`
	Deadline       time.Duration `mapstructure:"deadline"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `mapstructure:"retryMaxDelay"`
}

type ScheduleConfig struct {
	Loop        bool          `mapstructure:"loop"`
	DailyLimit  int           `mapstructure:"dailyLimit"`
	MinSleep    time.Duration `mapstructure:"minSleep"`
	MaxJitter   time.Duration `mapstructure:"maxJitter"`
	DedupeField string        `mapstructure:"dedupeField"`
	DedupeSize  int           `mapstructure:"dedupeSize"`
}

type SinkConfig struct {
	Path   string `mapstructure:"path"` // "-" means stdout
	Pretty bool   `mapstructure:"pretty"`
}

type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins"`
	ApiKey         string        `mapstructure:"apiKey"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// TargetConfig describes one page to drive: a set of mirror URLs tried in
// order, an optional wait selector marking the page as usable, interaction
// steps, and the extraction schema.
type TargetConfig struct {
	Name       string        `mapstructure:"name"`
	URLs       []string      `mapstructure:"urls"`
	WaitFor    string        `mapstructure:"waitFor"`
	Items      string        `mapstructure:"items"`
	MaxRecords int           `mapstructure:"maxRecords"`
	Steps      []StepConfig  `mapstructure:"steps"`
	Fields     []FieldConfig `mapstructure:"fields"`
}

type StepConfig struct {
	Type     string        `mapstructure:"type"`
	Selector string        `mapstructure:"selector"`
	Value    string        `mapstructure:"value"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type FieldConfig struct {
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"` // text, attr, html
	Selector  string `mapstructure:"selector"`
	Attr      string `mapstructure:"attr"`
	Pattern   string `mapstructure:"pattern"`
	Required  bool   `mapstructure:"required"`
	Transform string `mapstructure:"transform"` // number, time
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("browser.engine", "firefox")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.executablePath", "") // Attempt auto-detect if empty
	v.SetDefault("browser.userAgent", "")
	v.SetDefault("browser.viewportWidth", 1280)
	v.SetDefault("browser.viewportHeight", 720)
	v.SetDefault("browser.maxPages", 4)
	v.SetDefault("browser.shutdownTimeout", "10s")

	v.SetDefault("run.stepTimeout", "30s")
	v.SetDefault("run.deadline", "5m")
	v.SetDefault("run.maxAttempts", 3)
	v.SetDefault("run.retryBaseDelay", "500ms")
	v.SetDefault("run.retryMaxDelay", "15s")

	v.SetDefault("schedule.loop", false)
	v.SetDefault("schedule.dailyLimit", 15)
	v.SetDefault("schedule.minSleep", "60s")
	v.SetDefault("schedule.maxJitter", "5m")
	v.SetDefault("schedule.dedupeField", "")
	v.SetDefault("schedule.dedupeSize", 200)

	v.SetDefault("sink.path", "-")
	v.SetDefault("sink.pretty", false)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.idleTimeout", "60s")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.apiKey", "")

	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gleaner")
		v.AddConfigPath("/etc/gleaner")
	}

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("GLEANER")

	// Bare-name aliases honored by the container entry point contract.
	_ = v.BindEnv("browser.engine", "GLEANER_BROWSER_ENGINE", "ENGINE")
	_ = v.BindEnv("browser.headless", "GLEANER_BROWSER_HEADLESS", "HEADLESS")
	_ = v.BindEnv("run.stepTimeoutMs", "TIMEOUT_MS")
	_ = v.BindEnv("sink.path", "GLEANER_SINK_PATH", "OUTPUT_PATH")

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// TIMEOUT_MS is an integer millisecond count, not a duration string.
	if ms := v.GetInt64("run.stepTimeoutMs"); ms > 0 {
		cfg.Run.StepTimeout = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Browser.Engine {
	case "firefox", "chromium", "webkit", "cdp":
	default:
		return fmt.Errorf("unknown browser engine %q", c.Browser.Engine)
	}
	if c.Run.MaxAttempts < 1 {
		return fmt.Errorf("run.maxAttempts must be at least 1, got %d", c.Run.MaxAttempts)
	}
	if c.Browser.MaxPages < 1 {
		return fmt.Errorf("browser.maxPages must be at least 1, got %d", c.Browser.MaxPages)
	}
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("target %d: name is required", i)
		}
		if len(t.URLs) == 0 {
			return fmt.Errorf("target %q: at least one url is required", t.Name)
		}
		for _, f := range t.Fields {
			switch f.Kind {
			case "", "text", "attr", "html":
			default:
				return fmt.Errorf("target %q field %q: unknown kind %q", t.Name, f.Name, f.Kind)
			}
			if f.Kind == "attr" && f.Attr == "" {
				return fmt.Errorf("target %q field %q: attr kind requires an attribute name", t.Name, f.Name)
			}
		}
	}
	return nil
}
