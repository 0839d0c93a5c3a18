// Package config reads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type CatalogCfg struct {
	ManifestURL string
	BaseURL     string
}

type JoinKeyCfg struct {
	MinMatches int
	MinMargin  int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	CacheTTLDefault       time.Duration
	CacheMaxEntries       int
	CacheRespectFreshness bool
	FetchTimeout          time.Duration
	FetchMaxBytes         int64
	RedisAddr             string
	RedisTTL              time.Duration
	CacheOpTimeout        time.Duration
	LayerCacheSize        int
	LODCacheSize          int
	SymbolH3Res           int
	DefaultClasses        int
	DefaultPalette        string
	Catalog               CatalogCfg
	JoinKey               JoinKeyCfg
	Invalidation          InvalidationCfg
	MetricsEnabled        bool
	MetricsAddr           string
	MetricsPath           string
}

// LoadDotEnv loads .env style files when present. Missing files are ignored
// and real environment variables always win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func FromEnv() Config {
	ttlDefault := getduration("CACHE_TTL_DEFAULT", time.Hour)

	maxEntries := getint("CACHE_MAX_ENTRIES", 50)
	if maxEntries <= 0 {
		maxEntries = 50
	}
	classes := getint("DEFAULT_CLASSES", 5)
	if classes < 1 {
		classes = 5
	}
	symRes := getint("SYMBOL_H3_RES", -1)
	if symRes > 15 {
		symRes = 15
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		CacheTTLDefault:       ttlDefault,
		CacheMaxEntries:       maxEntries,
		CacheRespectFreshness: getbool("CACHE_RESPECT_FRESHNESS", true),
		FetchTimeout:          getduration("FETCH_TIMEOUT", 15*time.Second),
		FetchMaxBytes:         int64(getint("FETCH_MAX_BYTES", 256<<20)),
		RedisAddr:             getenv("REDIS_ADDR", ""),
		RedisTTL:              getduration("REDIS_TTL", ttlDefault),
		CacheOpTimeout:        getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		LayerCacheSize:        getint("LAYER_CACHE_SIZE", 16),
		LODCacheSize:          getint("LOD_CACHE_SIZE", 8),
		SymbolH3Res:           symRes,
		DefaultClasses:        classes,
		DefaultPalette:        getenv("DEFAULT_PALETTE", "Blues"),
		Catalog: CatalogCfg{
			ManifestURL: getenv("CATALOG_MANIFEST_URL", ""),
			BaseURL:     getenv("CATALOG_BASE_URL", ""),
		},
		JoinKey: JoinKeyCfg{
			MinMatches: getint("JOINKEY_MIN_MATCHES", 3),
			MinMargin:  getint("JOINKEY_MIN_MARGIN", 2),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "boundary-releases"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "choropleth-cache"),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
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
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
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

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// SplitCSV splits a comma separated list, dropping empty items.
func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
