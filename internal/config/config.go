package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model             string `yaml:"model"`
		Command           string `yaml:"command"`
		Device            string `yaml:"device"`
		Threads           int    `yaml:"threads"`
		DiarizationScript string `yaml:"diarization_script"`
	} `yaml:"whisper"`

	Worker struct {
		Embedded            bool `yaml:"embedded"`
		Count               int  `yaml:"count"`
		PollIntervalMS      int  `yaml:"poll_interval_ms"`
		PopTimeoutSeconds   int  `yaml:"pop_timeout_seconds"`
		TerminalRetries     int  `yaml:"terminal_retries"`
		StaleRequeueMinutes int  `yaml:"stale_requeue_minutes"`
	} `yaml:"worker"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
		JobTTLHours     int `yaml:"job_ttl_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB   int `yaml:"max_file_size_mb"`
		SyncWaitMinutes int `yaml:"sync_wait_minutes"`
	} `yaml:"limits"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "small"
	}
	if c.Whisper.Command == "" {
		c.Whisper.Command = "python"
	}
	if c.Whisper.Device == "" {
		c.Whisper.Device = "cpu"
	}
	if c.Whisper.Threads == 0 {
		c.Whisper.Threads = 4
	}
	if c.Worker.Count == 0 {
		c.Worker.Count = 1
	}
	if c.Worker.PollIntervalMS == 0 {
		c.Worker.PollIntervalMS = 200
	}
	if c.Worker.PopTimeoutSeconds == 0 {
		c.Worker.PopTimeoutSeconds = 5
	}
	if c.Worker.TerminalRetries == 0 {
		c.Worker.TerminalRetries = 5
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "temp"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/jobs.db"
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 60
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	if c.Cleanup.JobTTLHours == 0 {
		c.Cleanup.JobTTLHours = 7 * 24
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 500
	}
	if c.Limits.SyncWaitMinutes == 0 {
		c.Limits.SyncWaitMinutes = 30
	}
}
