// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken    = "TELEGRAM_TOKEN"
	KeyNotionToken      = "NOTION_TOKEN"
	KeyNotionDatabaseID = "NOTION_DATABASE_ID"
	KeyTallyFormURL     = "TALLY_FORM_URL"
	KeyAppEnv           = "APP_ENV"
	KeyLogLevel         = "LOG_LEVEL"
	KeyHTTPPort         = "HTTP_PORT"
	KeyCacheTTLSeconds  = "CACHE_TTL_SECONDS"
	KeyCreateLead       = "CREATE_LEAD_ON_START"
	KeyProductName      = "PRODUCT_NAME"
	KeyUSDTAddress      = "USDT_TRC20_ADDRESS"
	KeyWelcomePhotoURL  = "WELCOME_PHOTO_URL"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultCacheTTLSeconds = 5
	DefaultProductName     = "Community"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyNotionToken,
		Example:     "secret_abc123",
		Required:    true,
		Description: "Integration token for the record-store (Notion) API.",
	},
	{
		Key:         KeyNotionDatabaseID,
		Example:     "a1b2c3d4e5f6",
		Required:    true,
		Description: "Identifier of the subscription applications database.",
	},
	{
		Key:         KeyTallyFormURL,
		Example:     "https://tally.so/r/abc123",
		Required:    true,
		Description: "Base URL of the hosted payment confirmation form.",
		Notes:       "Prefill fields are appended as query parameters; any query already present is preserved.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyCacheTTLSeconds,
		Example:     strconv.Itoa(DefaultCacheTTLSeconds),
		Default:     strconv.Itoa(DefaultCacheTTLSeconds),
		Description: "Freshness window for cached subscription lookups; 0 disables the cache.",
	},
	{
		Key:         KeyCreateLead,
		Example:     "false",
		Default:     "false",
		Description: "Create a minimal pending record in the store on first /start contact.",
		Notes:       "Leave off for read-only deployments.",
	},
	{
		Key:         KeyProductName,
		Example:     DefaultProductName,
		Default:     DefaultProductName,
		Description: "Product name shown in payment prefill fields.",
	},
	{
		Key:         KeyUSDTAddress,
		Example:     "TXabc...",
		Description: "USDT TRC20 deposit address shown in payment instructions.",
	},
	{
		Key:         KeyWelcomePhotoURL,
		Example:     "https://cdn.example/welcome.jpg",
		Description: "Optional welcome image sent with the main menu; plain text is sent when unset or when the photo send fails.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken    string
	NotionToken      string
	NotionDatabaseID string
	TallyFormURL     string
	AppEnv           string
	LogLevel         string
	HTTPPort         int
	CacheTTLSeconds  int
	CreateLead       bool
	ProductName      string
	USDTAddress      string
	WelcomePhotoURL  string
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:           firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:    strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		NotionToken:      strings.TrimSpace(os.Getenv(KeyNotionToken)),
		NotionDatabaseID: strings.TrimSpace(os.Getenv(KeyNotionDatabaseID)),
		TallyFormURL:     strings.TrimSpace(os.Getenv(KeyTallyFormURL)),
		LogLevel:         firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:         DefaultHTTPPort,
		CacheTTLSeconds:  DefaultCacheTTLSeconds,
		ProductName:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyProductName)), DefaultProductName),
		USDTAddress:      strings.TrimSpace(os.Getenv(KeyUSDTAddress)),
		WelcomePhotoURL:  strings.TrimSpace(os.Getenv(KeyWelcomePhotoURL)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.NotionToken == "" {
		missing = append(missing, KeyNotionToken)
	}
	if cfg.NotionDatabaseID == "" {
		missing = append(missing, KeyNotionDatabaseID)
	}
	if cfg.TallyFormURL == "" {
		missing = append(missing, KeyTallyFormURL)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateFormURL(cfg.TallyFormURL); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	cacheTTLRaw := strings.TrimSpace(os.Getenv(KeyCacheTTLSeconds))
	if cacheTTLRaw != "" {
		ttl, parseErr := strconv.Atoi(cacheTTLRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyCacheTTLSeconds, parseErr)
		}
		if ttl < 0 {
			return Config{}, fmt.Errorf("%s must not be negative", KeyCacheTTLSeconds)
		}
		cfg.CacheTTLSeconds = ttl
	}

	createLeadRaw := strings.TrimSpace(os.Getenv(KeyCreateLead))
	if createLeadRaw != "" {
		createLead, parseErr := strconv.ParseBool(createLeadRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyCreateLead, parseErr)
		}
		cfg.CreateLead = createLead
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration for diagnostics with
// secret values masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + redactToken(cfg.TelegramToken),
		"notion_token: " + redactToken(cfg.NotionToken),
		"notion_database_id: " + cfg.NotionDatabaseID,
		"tally_form_url: " + cfg.TallyFormURL,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"cache_ttl_seconds: " + strconv.Itoa(cfg.CacheTTLSeconds),
		"create_lead_on_start: " + strconv.FormatBool(cfg.CreateLead),
		"product_name: " + cfg.ProductName,
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if len(token) <= 4 {
		return "redacted"
	}

	return token[:4] + "...redacted"
}

func validateFormURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", KeyTallyFormURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: must be an http(s) URL", KeyTallyFormURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: missing host", KeyTallyFormURL)
	}

	return nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
