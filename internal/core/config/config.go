package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultZoom = 24
	maxZoom     = 30
)

type DiscoveryCfg struct {
	ListenAddr       string
	SwarmListenAddr  string
	ServiceName      string
	DHTEnabled       bool
	MDNSEnabled      bool
	LookupInterval   time.Duration
	HandshakeTimeout time.Duration
	RendezvousTTL    time.Duration
}

type KafkaCfg struct {
	Brokers []string
	Topic   string
	GroupID string
}

type Config struct {
	DataDir     string
	LogLevel    string
	LogConsole  bool
	LogSampleN  int
	HTTPAddr    string
	RedisAddr   string
	Zoom        int
	BBoxMinZoom int
	BBoxMaxZoom int
	Discovery   DiscoveryCfg
	Kafka       KafkaCfg
}

func FromEnv() Config {
	zoom := getint("QUADKEY_ZOOM", defaultZoom)
	if zoom < 1 || zoom > maxZoom {
		zoom = defaultZoom
	}
	minZ := getint("BBOX_MIN_ZOOM", 1)
	maxZ := getint("BBOX_MAX_ZOOM", 12)

	if minZ < 0 {
		minZ = 0
	}
	if maxZ > maxZoom {
		maxZ = maxZoom
	}
	if minZ > maxZ {
		minZ, maxZ = 1, 12
	}

	return Config{
		DataDir:     getenv("DATA_DIR", "./geoswarm-data"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		LogSampleN:  getint("LOG_SAMPLE_N", 0),
		HTTPAddr:    getenv("HTTP_ADDR", ":8090"),
		RedisAddr:   getenv("REDIS_ADDR", ""),
		Zoom:        zoom,
		BBoxMinZoom: minZ,
		BBoxMaxZoom: maxZ,
		Discovery: DiscoveryCfg{
			ListenAddr:       getenv("LISTEN_ADDR", ":0"),
			SwarmListenAddr:  getenv("SWARM_LISTEN_ADDR", ":0"),
			ServiceName:      getenv("SERVICE_NAME", "geoswarm"),
			DHTEnabled:       getbool("DHT_ENABLED", true),
			MDNSEnabled:      getbool("MDNS_ENABLED", true),
			LookupInterval:   getduration("LOOKUP_INTERVAL", 10*time.Second),
			HandshakeTimeout: getduration("HANDSHAKE_TIMEOUT", 10*time.Second),
			RendezvousTTL:    getduration("RENDEZVOUS_TTL", 2*time.Minute),
		},
		Kafka: KafkaCfg{
			Brokers: parseList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "geoswarm-features"),
			GroupID: getenv("KAFKA_GROUP_ID", "geoswarm-ingest"),
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
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// parse "a:9092, b:9092" into a list, dropping blanks
func parseList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
