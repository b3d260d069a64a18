package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	ListenAddr string

	RoomTTLSec int
	MsgcatDir  string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr: ":8420",
		RoomTTLSec: 86400,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_ROOM_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomTTLSec = n
		}
	}
	cfg.MsgcatDir = strings.TrimSpace(os.Getenv("ARENA_MSGCAT_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
