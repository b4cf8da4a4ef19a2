package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	CompatAPIKey    string
	CompatBaseURL   string
	OllamaURL       string
	Navigator       *NavigatorConfig
	RoutingPath     string
	ConfigDir       string
}

// FileConfig represents the structure of ~/.nanobot/config.yaml
type FileConfig struct {
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
	Compat    string `yaml:"compat"`
}

// EndpointsConfig holds base URLs for self-hosted or compatible providers.
type EndpointsConfig struct {
	Ollama string `yaml:"ollama"`
	Compat string `yaml:"compat"`
}

// Load reads configuration from config files, .env and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, filepath.Join(configDir, "routing.yaml"), false)
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, routingPath, true)
}

func load(configDir, routingPath string, required bool) (*Config, error) {
	loadDotEnv(configDir)

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:  getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		CompatAPIKey:    getEnvOrDefault("COMPAT_API_KEY", fileConfig.APIKeys.Compat),
		CompatBaseURL:   getEnvOrDefault("COMPAT_BASE_URL", fileConfig.Endpoints.Compat),
		OllamaURL:       getEnvOrDefault("OLLAMA_HOST", fileConfig.Endpoints.Ollama),
		RoutingPath:     routingPath,
		ConfigDir:       configDir,
	}

	if _, err := os.Stat(routingPath); err == nil || required {
		nav, err := LoadNavigatorConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
		}
		cfg.Navigator = nav
	} else {
		cfg.Navigator = DefaultNavigatorConfig()
	}

	return cfg, nil
}

// HasAdapter returns true if the credentials for the given adapter are configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "compat":
		return c.CompatAPIKey != "" && c.CompatBaseURL != ""
	case "ollama", "mock":
		return true
	default:
		return false
	}
}

// loadDotEnv loads .env files from the working directory and the config
// directory. Existing environment variables are never overwritten.
func loadDotEnv(configDir string) {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("NANOBOT_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".nanobot")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
