package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedding struct {
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		BaseURL    string `yaml:"base_url"`
		Dimensions int    `yaml:"dimensions"`
	} `yaml:"embedding"`

	Database struct {
		URL         string `yaml:"url"`
		TableName   string `yaml:"table_name"`
		VectorDim   int    `yaml:"vector_dim"`
		SearchLimit int    `yaml:"search_limit"`
	} `yaml:"database"`

	Drive struct {
		ServiceAccountPath string  `yaml:"service_account_path"`
		FolderID           string  `yaml:"folder_id"`
		PollInterval       int     `yaml:"poll_interval"` // seconds
		RateLimit          float64 `yaml:"rate_limit"`
		PageSize           int     `yaml:"page_size"`
	} `yaml:"drive"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ragsync/config.yaml"),
			"/etc/ragsync/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.Model == "" {
		config.Embedding.Model = "text-embedding-3-small"
	}
	if config.Embedding.Dimensions == 0 {
		config.Embedding.Dimensions = 1536
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1536
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}

	if config.Drive.PollInterval == 0 {
		config.Drive.PollInterval = 300
	}
	if config.Drive.RateLimit == 0 {
		config.Drive.RateLimit = 8.0
	}
	if config.Drive.PageSize == 0 {
		config.Drive.PageSize = 100
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 400
	}
	// ChunkOverlap defaults to 0; stored vectors were chunked without overlap.

	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
}

func mergeWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.APIKey = apiKey
	}
	if baseURL := os.Getenv("EMBEDDING_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if saPath := os.Getenv("GOOGLE_SERVICE_ACCOUNT_PATH"); saPath != "" {
		config.Drive.ServiceAccountPath = saPath
	}
	if folderID := os.Getenv("GOOGLE_DRIVE_FOLDER_ID"); folderID != "" {
		config.Drive.FolderID = folderID
	}
}
