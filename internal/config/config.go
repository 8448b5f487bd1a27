package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	PromptsPath   string `json:"prompts_path"`
	HTTP          struct {
		Enabled     bool   `json:"enabled"`
		Listen      string `json:"listen"`
		MaxUploadMB int    `json:"max_upload_mb"`
	} `json:"http"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		TimeoutSeconds   int     `json:"timeout_seconds"`
	} `json:"llm"`
	ASR struct {
		BaseURL        string `json:"base_url"`
		APIKey         string `json:"api_key"`
		Model          string `json:"model"`
		Language       string `json:"language"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"asr"`
	Pipeline struct {
		ASRTimeoutSeconds      int     `json:"asr_timeout_seconds"`
		AnalysisTimeoutSeconds int     `json:"analysis_timeout_seconds"`
		IndexTimeoutSeconds    int     `json:"index_timeout_seconds"`
		ChunkSeconds           float64 `json:"chunk_seconds"`
		StaleAfterMinutes      int     `json:"stale_after_minutes"`
		LiveStaleAfterMinutes  int     `json:"live_stale_after_minutes"`
		ChunkMaxAgeMinutes     int     `json:"chunk_max_age_minutes"`
		SweepSchedule          string  `json:"sweep_schedule"`
	} `json:"pipeline"`
	Index struct {
		ChunkSize    int `json:"chunk_size"`
		ChunkOverlap int `json:"chunk_overlap"`
		TopK         int `json:"top_k"`
	} `json:"index"`
	Hub struct {
		SendTimeoutSeconds int `json:"send_timeout_seconds"`
	} `json:"hub"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".notetaker"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8000"
	cfg.HTTP.MaxUploadMB = 512
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.TimeoutSeconds = 120
	cfg.ASR.BaseURL = "https://api.openai.com/v1"
	cfg.ASR.Model = "whisper-1"
	cfg.ASR.TimeoutSeconds = 600
	cfg.Pipeline.ASRTimeoutSeconds = 600
	cfg.Pipeline.AnalysisTimeoutSeconds = 300
	cfg.Pipeline.IndexTimeoutSeconds = 120
	cfg.Pipeline.ChunkSeconds = 5
	cfg.Pipeline.StaleAfterMinutes = 30
	cfg.Pipeline.LiveStaleAfterMinutes = 240
	cfg.Pipeline.ChunkMaxAgeMinutes = 60
	cfg.Pipeline.SweepSchedule = "@every 5m"
	cfg.Index.ChunkSize = 1000
	cfg.Index.ChunkOverlap = 200
	cfg.Index.TopK = 3
	cfg.Hub.SendTimeoutSeconds = 5
	return cfg
}

// Load reads the config at path on top of the defaults, writing the
// defaults there first if the file does not exist. A .env file in the
// working directory is loaded into the environment, and environment
// variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from the environment (highest precedence).
func applyEnv(cfg *Config) error {
	if v := os.Getenv("NOTETAKER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	// The speech endpoint falls back to the LLM credentials.
	cfg.ASR.APIKey = firstNonEmpty(os.Getenv("ASR_API_KEY"), cfg.ASR.APIKey, cfg.LLM.APIKey)
	if v := os.Getenv("ASR_BASE_URL"); v != "" {
		cfg.ASR.BaseURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into the generic map form of its JSON encoding.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, optionally with secrets
// masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored under a dot-separated key in the
// config file, creating the file with defaults if needed.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key in an existing config
// file. The key must be one the defaults define, and the value is
// converted to that key's kind.
func SetValue(path, key, value string) error {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	v, err := coerce(key, parsed, value)
	if err != nil {
		return err
	}

	raw, err := readRaw(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	flat := Flatten(raw)
	flat[key] = v

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
