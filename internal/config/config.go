package config

import (
	"fmt"
)

type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Memory  MemoryConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type EngineConfig struct {
	BaseURL string
	Model   string
}

type MemoryConfig struct {
	RootDir string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Engine: EngineConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1",
		},
		Memory: MemoryConfig{
			RootDir: defaultMemoryRoot(),
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/mnemo/config.json, then applies MNEMO_* environment
// overrides. The API token is a secret and comes from MNEMO_API_TOKEN only,
// never from the file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API token. Set it via environment variable MNEMO_API_TOKEN")
	}
	return cfg, nil
}
