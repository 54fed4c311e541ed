package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/drop-minter/internal/blockfrost"
)

var lovelacePerAda = decimal.NewFromInt(1_000_000)

type Config struct {
	// Blockfrost
	BlockfrostProjectID string
	BlockfrostBaseURL   string
	BlockfrostRPS       float64
	Network             string

	// Deposits
	WatchAddress  string
	PriceADA      string
	PriceLovelace uint64
	CarryLovelace int64
	PollInterval  time.Duration
	PageSize      int

	// Database
	DBPath        string
	SeenCacheSize int

	// Minting service
	MinterURL   string
	MinterToken string
	CatalogPath string

	// HTTP
	HTTPPort int

	// Telegram
	BotToken        string
	OperatorChatIDs []int64
}

func Load() *Config {
	cfg := &Config{
		// Blockfrost
		BlockfrostProjectID: getEnv("BLOCKFROST_PROJECT_ID", ""),
		BlockfrostRPS:       getEnvFloat("BLOCKFROST_RPS", 8),
		Network:             getEnv("NETWORK", "mainnet"),

		// Deposits
		WatchAddress:  getEnv("WATCH_ADDRESS", ""),
		PriceADA:      getEnv("PRICE_ADA", ""),
		CarryLovelace: getEnvInt64("CARRY_LOVELACE", 1_500_000),
		PollInterval:  getEnvDuration("POLL_INTERVAL", 30*time.Second),
		PageSize:      getEnvInt("PAGE_SIZE", 20),

		// Database
		DBPath:        getEnv("DB_PATH", "./minter.db"),
		SeenCacheSize: getEnvInt("SEEN_CACHE_SIZE", 4096),

		// Minting service
		MinterURL:   strings.TrimSuffix(getEnv("MINTER_URL", "http://localhost:8090"), "/"),
		MinterToken: getEnv("MINTER_TOKEN", ""),
		CatalogPath: getEnv("CATALOG_PATH", "./catalog.yaml"),

		// HTTP
		HTTPPort: getEnvInt("HTTP_PORT", 8080),

		// Telegram
		BotToken: getEnv("BOT_TOKEN", ""),
	}

	cfg.BlockfrostBaseURL = strings.TrimSuffix(getEnv("BLOCKFROST_BASE_URL", blockfrost.BaseURL(cfg.Network)), "/")

	if p, err := ParsePriceADA(cfg.PriceADA); err == nil {
		cfg.PriceLovelace = p
	}

	// Parse operator chat IDs
	for _, idStr := range strings.Split(getEnv("OPERATOR_CHAT_IDS", ""), ",") {
		idStr = strings.TrimSpace(idStr)
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			cfg.OperatorChatIDs = append(cfg.OperatorChatIDs, id)
		}
	}

	return cfg
}

// Validate reports the first setting the service cannot start with
func (c *Config) Validate() error {
	if c.BlockfrostProjectID == "" {
		return errors.New("BLOCKFROST_PROJECT_ID is required")
	}
	switch c.Network {
	case "mainnet", "preprod", "preview":
	default:
		return fmt.Errorf("NETWORK must be mainnet, preprod or preview, got %q", c.Network)
	}
	if c.WatchAddress == "" {
		return errors.New("WATCH_ADDRESS is required")
	}
	if _, err := ParsePriceADA(c.PriceADA); err != nil {
		return err
	}
	if c.CarryLovelace < 0 {
		return fmt.Errorf("CARRY_LOVELACE must not be negative, got %d", c.CarryLovelace)
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return fmt.Errorf("PAGE_SIZE must be in 1..100, got %d", c.PageSize)
	}
	if c.MinterURL == "" {
		return errors.New("MINTER_URL is required")
	}
	if c.BotToken != "" && len(c.OperatorChatIDs) == 0 {
		return errors.New("OPERATOR_CHAT_IDS is required when BOT_TOKEN is set")
	}
	return nil
}

// IsOperator reports whether chatID may use operator commands
func (c *Config) IsOperator(chatID int64) bool {
	for _, id := range c.OperatorChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// ParsePriceADA converts a decimal ADA amount to a whole number of lovelace
func ParsePriceADA(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("PRICE_ADA is required")
	}
	ada, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("PRICE_ADA: %w", err)
	}
	l := ada.Mul(lovelacePerAda)
	if !l.IsInteger() {
		return 0, fmt.Errorf("PRICE_ADA %s is finer than one lovelace", s)
	}
	if !l.IsPositive() {
		return 0, fmt.Errorf("PRICE_ADA must be positive, got %s", s)
	}
	if l.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("PRICE_ADA %s is too large", s)
	}
	return uint64(l.IntPart()), nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
