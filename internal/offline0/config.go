package offline0

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port" validate:"gte=0,lte=65535"`
		Origin string `yaml:"origin" validate:"required,url"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path" validate:"required"`
		RAM  struct {
			Max ByteSize `yaml:"max"`
		} `yaml:"ram"`
		Disk struct {
			Max ByteSize `yaml:"max"`
		} `yaml:"disk"`
		Queue struct {
			Driver string `yaml:"driver" validate:"oneof=leveldb sqlite"`
			Path   string `yaml:"path"`
		} `yaml:"queue"`
	} `yaml:"storage"`

	Caches struct {
		Version     string   `yaml:"version" validate:"required,excludes=-"`
		Precache    []string `yaml:"precache" validate:"dive,startswith=/"`
		OfflinePage string   `yaml:"offlinePage" validate:"required,startswith=/"`
	} `yaml:"caches"`

	Routes struct {
		StaticExtensions  []string `yaml:"staticExtensions"`
		StaticPrefixes    []string `yaml:"staticPrefixes" validate:"dive,startswith=/"`
		ImmutablePrefixes []string `yaml:"immutablePrefixes" validate:"dive,startswith=/"`
		APIPrefix         string   `yaml:"apiPrefix" validate:"required,startswith=/"`
		CacheableAPI      []string `yaml:"cacheableApi" validate:"dive,startswith=/"`
		CriticalAPI       []string `yaml:"criticalApi" validate:"dive,startswith=/"`
		ImageExtensions   []string `yaml:"imageExtensions"`
	} `yaml:"routes"`

	Network struct {
		FirstTimeout  string `yaml:"firstTimeout"`
		ClientTimeout string `yaml:"clientTimeout"`
		Background    int    `yaml:"background" validate:"gte=1"`

		firstTimeoutDur  time.Duration
		clientTimeoutDur time.Duration
	} `yaml:"network"`

	Sync struct {
		Endpoints struct {
			Generic  string `yaml:"generic" validate:"required,startswith=/"`
			Bookings string `yaml:"bookings" validate:"required,startswith=/"`
			Profile  string `yaml:"profile" validate:"required,startswith=/"`
		} `yaml:"endpoints"`
		Probe struct {
			Path  string `yaml:"path" validate:"omitempty,startswith=/"`
			Every string `yaml:"every"`

			everyDur time.Duration
		} `yaml:"probe"`
	} `yaml:"sync"`

	Push struct {
		AnalyticsEndpoint string `yaml:"analyticsEndpoint" validate:"required,startswith=/"`
		Title             string `yaml:"title"`
		Body              string `yaml:"body"`
		Icon              string `yaml:"icon"`
		Badge             string `yaml:"badge"`
	} `yaml:"push"`

	Logging struct {
		Debug         bool   `yaml:"debug"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

// DefaultConfig is the configuration the booking platform ships with. A
// config file only needs to name the origin.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Storage.Path = "./data/offline0"
	cfg.Storage.RAM.Max = 64 * mib
	cfg.Storage.Disk.Max = 512 * mib
	cfg.Storage.Queue.Driver = "leveldb"

	cfg.Caches.Version = "v1"
	cfg.Caches.Precache = []string{
		"/",
		"/offline.html",
		"/manifest.json",
		"/courses/",
		"/icons/icon-192x192.png",
		"/icons/icon-512x512.png",
	}
	cfg.Caches.OfflinePage = "/offline.html"

	cfg.Routes.StaticExtensions = []string{"js", "css", "woff", "woff2", "ttf", "otf", "eot", "ico", "map"}
	cfg.Routes.StaticPrefixes = []string{"/_next/static/", "/static/"}
	cfg.Routes.ImmutablePrefixes = []string{"/_next/static/"}
	cfg.Routes.APIPrefix = "/api/"
	cfg.Routes.CacheableAPI = []string{"/api/courses", "/api/categories", "/api/instructors", "/api/locations", "/api/settings"}
	cfg.Routes.CriticalAPI = []string{"/api/auth", "/api/user", "/api/courses", "/api/bookings"}
	cfg.Routes.ImageExtensions = []string{"png", "jpg", "jpeg", "gif", "webp", "svg", "avif"}

	cfg.Network.FirstTimeout = "5s"
	cfg.Network.ClientTimeout = "30s"
	cfg.Network.Background = 32

	cfg.Sync.Endpoints.Generic = "/api/sync"
	cfg.Sync.Endpoints.Bookings = "/api/bookings"
	cfg.Sync.Endpoints.Profile = "/api/user/profile"
	cfg.Sync.Probe.Path = "/api/health"
	cfg.Sync.Probe.Every = "15s"

	cfg.Push.AnalyticsEndpoint = "/api/analytics/notification-close"
	cfg.Push.Title = "Booking Platform"
	cfg.Push.Body = "You have a new notification"
	cfg.Push.Icon = "/icons/icon-192x192.png"
	cfg.Push.Badge = "/icons/badge-72x72.png"

	cfg.Logging.LogStatsEvery = "0"
	return cfg
}

// LoadConfig reads the YAML file at path. An empty path means defaults only.
// Overrides run after decoding and before validation.
func LoadConfig(path string, overrides ...func(*Config)) (Config, error) {
	var b []byte
	if path != "" {
		var err error
		b, err = os.ReadFile(path)
		if err != nil {
			return Config{}, configError("read "+path, err)
		}
	}
	return ParseConfig(b, overrides...)
}

// ParseConfig decodes YAML over DefaultConfig, validates it and compiles the
// duration fields.
func ParseConfig(b []byte, overrides ...func(*Config)) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, configError("decode yaml", err)
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	cfg.Server.Origin = strings.TrimRight(strings.TrimSpace(cfg.Server.Origin), "/")
	if cfg.Storage.Queue.Path == "" && cfg.Storage.Queue.Driver == "sqlite" {
		cfg.Storage.Queue.Path = strings.TrimRight(cfg.Storage.Path, "/") + "/queue.db"
	}

	if err := validator.New().Struct(cfg); err != nil {
		return configError("invalid configuration", err)
	}

	u, err := url.Parse(cfg.Server.Origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return configError(fmt.Sprintf("server.origin %q must be an absolute http(s) URL", cfg.Server.Origin), err)
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"network.firstTimeout", cfg.Network.FirstTimeout, &cfg.Network.firstTimeoutDur},
		{"network.clientTimeout", cfg.Network.ClientTimeout, &cfg.Network.clientTimeoutDur},
		{"sync.probe.every", cfg.Sync.Probe.Every, &cfg.Sync.Probe.everyDur},
		{"logging.logStatsEvery", cfg.Logging.LogStatsEvery, &cfg.Logging.logStatsEveryDur},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return configError(d.name, err)
		}
		if v < 0 {
			return configError(d.name+" must not be negative", nil)
		}
		*d.out = v
	}
	if cfg.Network.firstTimeoutDur == 0 {
		return configError("network.firstTimeout must be set", nil)
	}
	return nil
}
