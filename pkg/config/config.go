package config

import (
	"fmt"
	"os"
	"time"

	"github.com/klio-ai/klio/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all klio configuration.
type Config struct {
	Telegram   TelegramConfig     `yaml:"telegram"`
	Gemini     GeminiConfig       `yaml:"gemini"`
	Cache      CacheConfig        `yaml:"cache"`
	Analytics  AnalyticsConfig    `yaml:"analytics"`
	Quota      QuotaConfig        `yaml:"quota"`
	Audit      models.AuditConfig `yaml:"audit"`
	Admin      AdminConfig        `yaml:"admin"`
	Assessment AssessmentConfig   `yaml:"assessment"`
	Topics     TopicsConfig       `yaml:"topics"`
	Maintain   MaintainConfig     `yaml:"maintenance"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Token       string        `yaml:"token"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// GeminiConfig defines the LLM provider endpoint and credentials.
// Keys are tried in order; quota failures rotate to the next key.
type GeminiConfig struct {
	Keys    []string      `yaml:"keys"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig controls the response cache. TTLs are per request class.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	MaxEntries    int           `yaml:"max_entries"`
	TopicTTL      time.Duration `yaml:"topic_ttl"`
	AnswerTTL     time.Duration `yaml:"answer_ttl"`
	QuizTTL       time.Duration `yaml:"quiz_ttl"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AnalyticsConfig controls the event store.
type AnalyticsConfig struct {
	DBPath string `yaml:"db_path"`
}

// QuotaConfig controls per-user request quotas.
type QuotaConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Policies []models.QuotaPolicy `yaml:"policies"`
}

// AdminConfig controls the admin panel API.
type AdminConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// AssessmentConfig maps quiz score percentages to verdict tiers.
// Tiers are matched highest MinPercent first.
type AssessmentConfig struct {
	Tiers []models.AssessmentTier `yaml:"tiers"`
}

// TopicsConfig seeds the topic menu used when generation is unavailable.
type TopicsConfig struct {
	Seed []string `yaml:"seed"`
}

// MaintainConfig locates artifacts touched by admin maintenance actions.
type MaintainConfig struct {
	BackupDir        string `yaml:"backup_dir"`
	LogDir           string `yaml:"log_dir"`
	LogRetentionDays int    `yaml:"log_retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 10 * time.Second,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:       true,
			Path:          "klio-cache.json",
			MaxEntries:    500,
			TopicTTL:      24 * time.Hour,
			AnswerTTL:     time.Hour,
			QuizTTL:       24 * time.Hour,
			FlushInterval: 2 * time.Second,
		},
		Analytics: AnalyticsConfig{
			DBPath: "klio.db",
		},
		Quota: QuotaConfig{
			Enabled: false,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "klio-audit.db",
			RetentionDays: 30,
			MaxBodySize:   8192,
		},
		Admin: AdminConfig{
			Listen: ":8090",
		},
		Assessment: AssessmentConfig{
			Tiers: []models.AssessmentTier{
				{MinPercent: 90, Label: "отлично"},
				{MinPercent: 70, Label: "хорошо"},
				{MinPercent: 50, Label: "удовлетворительно"},
				{MinPercent: 0, Label: "нужно повторить"},
			},
		},
		Topics: TopicsConfig{
			Seed: []string{
				"Крещение Руси",
				"Монгольское нашествие",
				"Смутное время",
				"Реформы Петра I",
				"Отечественная война 1812 года",
				"Отмена крепостного права",
				"Революция 1917 года",
				"Великая Отечественная война",
			},
		},
		Maintain: MaintainConfig{
			BackupDir:        "backups",
			LogDir:           "logs",
			LogRetentionDays: 14,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
