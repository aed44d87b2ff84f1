package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"os"
	"strconv"
)

type DatabaseConfig struct {
	URI                string `json:"uri"`
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	UseTLS             bool   `json:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

type JWTConfig struct {
	PublicKey string `json:"public_key"` // PEM, RS256/ES256
	Secret    string `json:"secret"`     // HS256
}

type ListenConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

type EngineConfig struct {
	PollDelay      string `json:"poll_delay"`
	SweepInterval  string `json:"sweep_interval"`
	CacheTTL       string `json:"cache_ttl"`
	CacheSize      int    `json:"cache_size"`
	PresenceWindow string `json:"presence_window"`
	HistoryLimit   int64  `json:"history_limit"`
}

type Config struct {
	Database  DatabaseConfig `json:"database"`
	JWT       JWTConfig      `json:"jwt"`
	Listen    ListenConfig   `json:"listen"`
	Engine    EngineConfig   `json:"engine"`
	DebugMode bool           `json:"debug_mode"`
	AppName   string         `json:"app_name"`
	LogDir    string         `json:"log_dir"`
}

// Path 配置文件路径, 可由 SYNC_CONFIG 覆盖
var Path = "config.json"

var config Config
var initialized = false

func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Host:               "localhost",
			Port:               27017,
			Database:           "gaia-project",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "5s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        20,
		},
		Listen: ListenConfig{
			Host: "0.0.0.0",
			Port: 50802,
			Path: "/",
		},
		Engine: EngineConfig{
			PollDelay:      "250ms",
			SweepInterval:  "20s",
			CacheTTL:       "24h",
			CacheSize:      10000,
			PresenceWindow: "60s",
			HistoryLimit:   100,
		},
		AppName: "gaia-sync-server",
		LogDir:  "logs",
	}
}

func ReadConfig() (Config, error) {
	if p := os.Getenv("SYNC_CONFIG"); p != "" {
		Path = p
	}

	bytes, err := os.ReadFile(Path)

	if err != nil {
		data, _ := json.MarshalIndent(Default(), "", "\t")
		_ = os.WriteFile(Path, data, 0644)
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	loaded := Default()
	err = json.Unmarshal(bytes, &loaded)

	if err != nil {
		return config, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}

	if err := applyEnv(&loaded); err != nil {
		return config, err
	}

	config = loaded
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}

// applyEnv 用环境变量 (以及可选的 .env) 覆盖文件配置
func applyEnv(cfg *Config) error {
	_ = godotenv.Load()

	if v := os.Getenv("SYNC_DB_URI"); v != "" {
		cfg.Database.URI = v
	}
	if v := os.Getenv("SYNC_JWT_PUBLIC_KEY"); v != "" {
		cfg.JWT.PublicKey = v
	}
	if v := os.Getenv("SYNC_JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("SYNC_LISTEN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SYNC_LISTEN_PORT %q: %w", v, err)
		}
		cfg.Listen.Port = port
	}
	if v := os.Getenv("SYNC_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SYNC_DEBUG %q: %w", v, err)
		}
		cfg.DebugMode = debug
	}
	return nil
}
