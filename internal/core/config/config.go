// Package config reads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type CacheCfg struct {
	Driver    string // none, memory or redis
	RedisAddr string
	TTL       time.Duration
	Size      int
	OpTimeout time.Duration
}

type ClickEventsCfg struct {
	Enabled bool
	Topic   string
}

// InvalidationCfg drives the layer change consumer.
type InvalidationCfg struct {
	Enabled bool
	Topic   string
	GroupID string
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	MapServerURL     string
	LayersFile       string
	FeatureTimeout   time.Duration
	FeatureFormat    string
	FeatureCount     int
	DefaultCenterLon float64
	DefaultCenterLat float64
	DefaultZoom      float64
	SessionMax       int
	MetricsEnabled   bool
	KafkaBrokers     string
	Cache            CacheCfg
	ClickEvents      ClickEventsCfg
	Invalidation     InvalidationCfg
}

func FromEnv() Config {
	driver := strings.ToLower(getenv("CACHE_DRIVER", "none"))
	switch driver {
	case "none", "memory", "redis":
	default:
		driver = "none"
	}

	zoom := getfloat("DEFAULT_ZOOM", 13)
	if zoom < 0 {
		zoom = 0
	}

	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		MapServerURL:     getenv("MAPSERVER_URL", "http://localhost:8080/cgi-bin/mapserv"),
		LayersFile:       getenv("LAYERS_FILE", ""),
		FeatureTimeout:   getduration("FEATUREINFO_TIMEOUT", 5*time.Second),
		FeatureFormat:    getenv("FEATUREINFO_FORMAT", "application/geo+json"),
		FeatureCount:     max(getint("FEATUREINFO_FEATURE_COUNT", 10), 1),
		DefaultCenterLon: getfloat("DEFAULT_CENTER_LON", 60.6057),
		DefaultCenterLat: getfloat("DEFAULT_CENTER_LAT", 56.838),
		DefaultZoom:      zoom,
		SessionMax:       max(getint("SESSION_MAX", 1024), 1),
		MetricsEnabled:   getbool("METRICS_ENABLED", true),
		KafkaBrokers:     getenv("KAFKA_BROKERS", "localhost:9092"),
		Cache: CacheCfg{
			Driver:    driver,
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("CACHE_TTL", 60*time.Second),
			Size:      max(getint("CACHE_SIZE", 4096), 1),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		ClickEvents: ClickEventsCfg{
			Enabled: getbool("CLICK_EVENTS_ENABLED", false),
			Topic:   getenv("CLICK_EVENTS_TOPIC", "map-clicks"),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("INVALIDATION_TOPIC", "layer-changes"),
			GroupID: getenv("INVALIDATION_GROUP_ID", "geoportal-cache"),
		},
	}
}

// Brokers splits a comma separated broker list.
func Brokers(s string) []string {
	var out []string
	for b := range strings.SplitSeq(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
