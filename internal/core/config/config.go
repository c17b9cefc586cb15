package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type LoadEventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

type MapCfg struct {
	CenterLat       float64
	CenterLon       float64
	Zoom            int
	FitPadding      int
	TileURL         string
	TileAttribution string
}

type Config struct {
	Addr               string
	LogLevel           string
	DataServiceURL     string
	DataServiceTimeout time.Duration // 0 means no deadline
	CatalogCacheTTL    time.Duration
	CatalogCacheSize   int
	DefaultBoundary    string
	DefaultIndicator   string
	Map                MapCfg
	LoadEvents         LoadEventsCfg
}

func FromEnv() Config {
	cacheSize := getint("CATALOG_CACHE_SIZE", 8)
	if cacheSize <= 0 {
		cacheSize = 8
	}
	padding := getint("MAP_FIT_PADDING", 20)
	if padding < 0 {
		padding = 0
	}
	timeout := getduration("DATA_SERVICE_TIMEOUT", 0)
	if timeout < 0 {
		timeout = 0
	}

	return Config{
		Addr:               getenv("ADDR", ":8090"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		DataServiceURL:     strings.TrimRight(getenv("DATA_SERVICE_URL", "http://localhost:8000/api"), "/"),
		DataServiceTimeout: timeout,
		CatalogCacheTTL:    getduration("CATALOG_CACHE_TTL", 10*time.Minute),
		CatalogCacheSize:   cacheSize,
		DefaultBoundary:    getenv("DEFAULT_BOUNDARY", "district"),
		DefaultIndicator:   getenv("DEFAULT_INDICATOR", "climate_vulnerability"),
		Map: MapCfg{
			CenterLat:       getfloat("MAP_CENTER_LAT", 30.3753),
			CenterLon:       getfloat("MAP_CENTER_LON", 69.3451),
			Zoom:            getint("MAP_ZOOM", 5),
			FitPadding:      padding,
			TileURL:         getenv("TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
			TileAttribution: getenv("TILE_ATTRIBUTION", "&copy; OpenStreetMap contributors"),
		},
		LoadEvents: LoadEventsCfg{
			Enabled: getbool("LOAD_EVENTS_ENABLED", false),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "choropleth-loads"),
			Queue:   getint("LOAD_EVENTS_QUEUE", 256),
		},
	}
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

// parse "a:9092, b:9092" into a list, dropping blanks
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
