package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const defaultDenominations = "100,200,500,1000,2000,5000,10000,20000,50000,100000"

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	SuggestionTTLSeconds  int
	SearchNodeBudget      int
	SessionTTLMinutes     int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	CurrencyCode          string
	CurrencySymbol        string
	CurrencyExponent      int32
	DenominationList      string
}

// Load reads configuration from the environment, layered over an optional
// YAML file named by CONFIG_FILE.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_STORE_ID", "main-store")
	v.SetDefault("SUGGESTION_TTL_SECONDS", 20)
	v.SetDefault("SEARCH_NODE_BUDGET", 200000)
	v.SetDefault("SESSION_TTL_MINUTES", 30)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CURRENCY_CODE", "IDR")
	v.SetDefault("CURRENCY_SYMBOL", "Rp")
	v.SetDefault("CURRENCY_EXPONENT", 0)
	v.SetDefault("DENOMINATIONS", defaultDenominations)

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file, %s", err)
		}
	}

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		SQLitePath:            v.GetString("SQLITE_PATH"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		StoreID:               v.GetString("DEFAULT_STORE_ID"),
		SuggestionTTLSeconds:  atLeast(v.GetInt("SUGGESTION_TTL_SECONDS"), 1, 20),
		SearchNodeBudget:      atLeast(v.GetInt("SEARCH_NODE_BUDGET"), 1, 200000),
		SessionTTLMinutes:     atLeast(v.GetInt("SESSION_TTL_MINUTES"), 1, 30),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: atLeast(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 1, 480),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:             strings.ToLower(v.GetString("LOG_FORMAT")),
		CurrencyCode:          strings.ToUpper(v.GetString("CURRENCY_CODE")),
		CurrencySymbol:        v.GetString("CURRENCY_SYMBOL"),
		CurrencyExponent:      v.GetInt32("CURRENCY_EXPONENT"),
		DenominationList:      v.GetString("DENOMINATIONS"),
	}
	if cfg.CurrencyExponent < 0 || cfg.CurrencyExponent > 4 {
		return Config{}, fmt.Errorf("CURRENCY_EXPONENT must be between 0 and 4, got %d", cfg.CurrencyExponent)
	}
	if _, err := cfg.Denominations(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Denominations parses DENOMINATIONS into unique positive face values, highest
// first.
func (c Config) Denominations() ([]int64, error) {
	raw := c.DenominationList
	if strings.TrimSpace(raw) == "" {
		raw = defaultDenominations
	}

	seen := make(map[int64]struct{})
	out := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.ParseInt(part, 10, 64)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("DENOMINATIONS: %q is not a positive integer", part)
		}
		if _, dup := seen[d]; dup {
			return nil, fmt.Errorf("DENOMINATIONS: %d listed twice", d)
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("DENOMINATIONS must list at least one value")
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out, nil
}

func atLeast(val int, minVal int, fallback int) int {
	if val < minVal {
		return fallback
	}
	return val
}
