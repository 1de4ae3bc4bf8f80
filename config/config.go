package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	RelayURL       string
	Bind           string
	Port           int
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	Profile        string
	ShareBaseURL   string
	SessionTTL     time.Duration
	QuestionBudget int
	TotalQuestions int
	MinReconnect   time.Duration
	MaxReconnect   time.Duration
	Verbose        bool
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay url must use ws or wss, got %q", c.RelayURL)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.Profile == "" {
		return errors.New("profile must not be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.QuestionBudget <= 0 || c.TotalQuestions <= 0 {
		return errors.New("question budget and total questions must be positive")
	}
	if c.MinReconnect <= 0 || c.MaxReconnect < c.MinReconnect {
		return errors.New("reconnect delays must be positive and max must not be below min")
	}
	return nil
}

// ShareURL is the link a partner opens to join the same room.
func (c *Config) ShareURL(roomCode string) string {
	return fmt.Sprintf("%s/game/%s", strings.TrimSuffix(c.ShareBaseURL, "/"), url.PathEscape(roomCode))
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: RedisDial,
	})

	return client
}
