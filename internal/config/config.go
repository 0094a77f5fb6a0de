package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" toml:"providers"`
	Chat        ChatConfig                `json:"chat" toml:"chat"`
	Mail        MailConfig                `json:"mail" toml:"mail"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases"`
	Redis       RedisConfig               `json:"redis" toml:"redis"`
}

type ProviderConfig struct {
	DisplayName string   `json:"display_name" toml:"display_name"`
	BaseURL     string   `json:"base_url" toml:"base_url"`
	APIKey      string   `json:"api_key" toml:"api_key"`
	Models      []string `json:"models" toml:"models"`
	Fallback    string   `json:"fallback" toml:"fallback"`
}

type BasicConfig struct {
	ServerAddress         string `json:"server_address" toml:"server_address"`
	UsersFile             string `json:"users_file" toml:"users_file"`
	HistoryFile           string `json:"history_file" toml:"history_file"`
	StaticDir             string `json:"static_dir" toml:"static_dir"`
	TokenTTLMinutes       int    `json:"token_ttl_minutes" toml:"token_ttl_minutes"`
	TokenCleanMinutes     int    `json:"token_clean_minutes" toml:"token_clean_minutes"`
	MinWorkers            int    `json:"min_workers" toml:"min_workers"`
	MaxWorkers            int    `json:"max_workers" toml:"max_workers"`
	QueueSize             int    `json:"queue_size" toml:"queue_size"`
	WorkerIdleSeconds     int    `json:"worker_idle_seconds" toml:"worker_idle_seconds"`
	RequestsPerMinute     int    `json:"requests_per_minute" toml:"requests_per_minute"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" toml:"request_timeout_seconds"`
}

// ChatConfig names the providers behind each chat feature.
type ChatConfig struct {
	DefaultMode   string   `json:"default_mode" toml:"default_mode"`
	Modes         []string `json:"modes" toml:"modes"`
	Synthesizer   string   `json:"synthesizer" toml:"synthesizer"`
	ImageProvider string   `json:"image_provider" toml:"image_provider"`
	MailProvider  string   `json:"mail_provider" toml:"mail_provider"`
}

type MailConfig struct {
	SMTPHost       string `json:"smtp_host" toml:"smtp_host"`
	SMTPPort       int    `json:"smtp_port" toml:"smtp_port"`
	TimeoutSeconds int    `json:"timeout_seconds" toml:"timeout_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DBName   string `json:"db_name" toml:"db_name"`
	Params   string `json:"params" toml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DB       int    `json:"db" toml:"db"`
}

// env variables that override provider keys from the file.
var providerKeyEnv = map[string]string{
	"gemini": "GEMINI_API_KEY",
	"openai": "OPENAI_API_KEY",
	"claude": "ANTHROPIC_API_KEY",
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	if _, err := os.Stat(absPath); err == nil {
		if err := decodeFile(absPath, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", absPath, err)
	}

	cfg.applyDefaults(filepath.Dir(absPath))
	cfg.applyEnv()
	cfg.resolveChat()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults(baseDir string) {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.UsersFile == "" {
		b.UsersFile = "users.json"
	}
	if b.HistoryFile == "" {
		b.HistoryFile = "chat_history.json"
	}
	if !filepath.IsAbs(b.UsersFile) {
		b.UsersFile = filepath.Join(baseDir, b.UsersFile)
	}
	if !filepath.IsAbs(b.HistoryFile) {
		b.HistoryFile = filepath.Join(baseDir, b.HistoryFile)
	}
	if b.StaticDir != "" && !filepath.IsAbs(b.StaticDir) {
		b.StaticDir = filepath.Join(baseDir, b.StaticDir)
	}
	if b.TokenTTLMinutes <= 0 {
		b.TokenTTLMinutes = 24 * 60
	}
	if b.TokenCleanMinutes <= 0 {
		b.TokenCleanMinutes = 60
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = 8
		if b.MaxWorkers < b.MinWorkers {
			b.MaxWorkers = b.MinWorkers
		}
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleSeconds <= 0 {
		b.WorkerIdleSeconds = 30
	}
	if b.RequestsPerMinute <= 0 {
		b.RequestsPerMinute = 30
	}
	if b.RequestTimeoutSeconds <= 0 {
		b.RequestTimeoutSeconds = 120
	}

	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{
			"gemini": {},
			"openai": {Fallback: "gemini"},
		}
	}
	for name, p := range c.Providers {
		if p.DisplayName == "" {
			p.DisplayName = defaultDisplayName(name)
		}
		if len(p.Models) == 0 {
			p.Models = defaultModels(name)
		}
		c.Providers[name] = p
	}

	ch := &c.Chat
	if len(ch.Modes) == 0 {
		for _, name := range []string{"gemini", "openai"} {
			if _, ok := c.Providers[name]; ok {
				ch.Modes = append(ch.Modes, name)
			}
		}
	}

	if c.Mail.SMTPHost == "" {
		c.Mail.SMTPHost = "smtp.gmail.com"
	}
	if c.Mail.SMTPPort == 0 {
		c.Mail.SMTPPort = 587
	}
	if c.Mail.TimeoutSeconds <= 0 {
		c.Mail.TimeoutSeconds = 30
	}

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: ":memory:"}
	}
}

func (c *Config) applyEnv() {
	for name, p := range c.Providers {
		env, ok := providerKeyEnv[name]
		if !ok {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			p.APIKey = v
			c.Providers[name] = p
		}
	}
}

// resolveChat fills unset feature providers with the first mode that has an
// api key, so a deployment with a single key works without extra settings.
func (c *Config) resolveChat() {
	ch := &c.Chat
	first := ""
	for _, m := range ch.Modes {
		if c.Providers[m].APIKey != "" {
			first = m
			break
		}
	}
	if first == "" && len(ch.Modes) > 0 {
		first = ch.Modes[0]
	}
	if ch.DefaultMode == "" {
		ch.DefaultMode = first
	}
	if ch.Synthesizer == "" {
		ch.Synthesizer = first
	}
	if ch.ImageProvider == "" {
		ch.ImageProvider = first
	}
	if ch.MailProvider == "" {
		ch.MailProvider = first
	}
}

// Validate checks cross references between providers and chat features.
func (c *Config) Validate() error {
	hasKey := false
	for name, p := range c.Providers {
		if p.APIKey != "" {
			hasKey = true
		}
		if p.Fallback == "" {
			continue
		}
		if p.Fallback == name {
			return fmt.Errorf("provider %s cannot fall back to itself", name)
		}
		if _, ok := c.Providers[p.Fallback]; !ok {
			return fmt.Errorf("provider %s falls back to unknown provider %s", name, p.Fallback)
		}
	}
	if !hasKey {
		return fmt.Errorf("no provider api key configured")
	}
	if len(c.Chat.Modes) == 0 {
		return fmt.Errorf("at least one chat mode must be configured")
	}
	named := map[string]string{
		"default_mode":   c.Chat.DefaultMode,
		"synthesizer":    c.Chat.Synthesizer,
		"image_provider": c.Chat.ImageProvider,
		"mail_provider":  c.Chat.MailProvider,
	}
	for _, m := range c.Chat.Modes {
		named["mode "+m] = m
	}
	for field, provider := range named {
		if _, ok := c.Providers[provider]; !ok {
			return fmt.Errorf("%s references unknown provider %q", field, provider)
		}
	}
	// a keyless mode is only hidden; features must point at a live provider
	for field, provider := range named {
		if strings.HasPrefix(field, "mode ") {
			continue
		}
		if c.Providers[provider].APIKey == "" {
			return fmt.Errorf("%s references provider %q which has no api key", field, provider)
		}
	}
	return nil
}

func defaultDisplayName(provider string) string {
	switch provider {
	case "gemini":
		return "Gemini"
	case "openai":
		return "OpenAI"
	case "claude":
		return "Claude"
	}
	if provider == "" {
		return provider
	}
	return strings.ToUpper(provider[:1]) + provider[1:]
}

func defaultModels(provider string) []string {
	switch provider {
	case "gemini":
		return []string{"gemini-2.5-flash"}
	case "openai":
		return []string{"gpt-4o-mini", "gpt-3.5-turbo"}
	case "claude":
		return []string{"claude-3-5-haiku-latest"}
	}
	return nil
}
