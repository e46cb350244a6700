package models

import "time"

// CallRecord is a single audited provider call, settled or cached.
type CallRecord struct {
	RequestID  string    `json:"request_id"`
	KeyHash    string    `json:"key_hash"`
	KeyPrefix  string    `json:"key_prefix"`
	Model      string    `json:"model"`
	PromptHash string    `json:"prompt_hash"`
	Prompt     string    `json:"prompt,omitempty"`
	Response   string    `json:"response,omitempty"`
	StatusCode int       `json:"status_code"`
	Attempts   int       `json:"attempts"`
	CacheHit   bool      `json:"cache_hit"`
	Kind       string    `json:"kind"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditConfig controls the call audit subsystem.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled"`
	DBPath        string   `yaml:"db_path"`
	RetentionDays int      `yaml:"retention_days"`
	Include       []string `yaml:"include"`       // "prompts", "responses"
	MaxBodySize   int      `yaml:"max_body_size"` // bytes
}

// CallQueryOpts specifies filters for querying call records.
type CallQueryOpts struct {
	Model     string
	Since     time.Time
	RequestID string
	Limit     int
}

// CallStat holds aggregate call counts for a model/day combination.
type CallStat struct {
	Model string
	Day   string
	Count int
}
