package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(logger *slog.Logger) (services.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port          string       `yaml:"port"`
	Title         string       `yaml:"title"`
	LogLevel      string       `yaml:"logLevel"`
	FinalizeMode  string       `yaml:"finalizeMode"`
	MaxUploadSize int64        `yaml:"maxUploadSize"`
	Router        routerConfig `yaml:"router"`
	LLM           llmConfig    `yaml:"llm"`
}

type routerConfig struct {
	ChatURL                 string `yaml:"chatURL"`
	InfoURL                 string `yaml:"infoURL"`
	AssistantsURL           string `yaml:"assistantsURL"`
	RetrieverConnectionsURL string `yaml:"retrieverConnectionsURL"`
	LLMConnectionsURL       string `yaml:"llmConnectionsURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

const (
	defaultPort       = "8080"
	defaultOllamaHost = "http://127.0.0.1:11434"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port          string         `yaml:"port"`
		Title         string         `yaml:"title"`
		LogLevel      string         `yaml:"logLevel"`
		FinalizeMode  string         `yaml:"finalizeMode"`
		MaxUploadSize int64          `yaml:"maxUploadSize"`
		Router        routerConfig   `yaml:"router"`
		LLM           map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.Title = rawConfig.Title
	c.LogLevel = rawConfig.LogLevel
	c.FinalizeMode = rawConfig.FinalizeMode
	c.MaxUploadSize = rawConfig.MaxUploadSize
	c.Router = rawConfig.Router

	// The llm section is only needed when there is no upstream router.
	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openaiConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

// loadConfig decodes the YAML config from r, applies the environment overrides and fills the defaults.
func loadConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if v := os.Getenv("ROUTER_URL"); v != "" {
		cfg.Router.ChatURL = v
	}
	if v := os.Getenv("INFO_URL"); v != "" {
		cfg.Router.InfoURL = v
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch transcript.FinalizeMode(c.FinalizeMode) {
	case "", transcript.FinalizeOnNextSend, transcript.FinalizeOnStreamEnd:
	default:
		return fmt.Errorf("unknown finalize mode: %s", c.FinalizeMode)
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("maxUploadSize must not be negative")
	}
	if c.Router.ChatURL == "" && c.LLM == nil {
		return fmt.Errorf("either router.chatURL or llm is required")
	}
	return nil
}

func (c config) routerEndpoints() services.RouterEndpoints {
	return services.RouterEndpoints{
		ChatURL:                 c.Router.ChatURL,
		InfoURL:                 c.Router.InfoURL,
		AssistantsURL:           c.Router.AssistantsURL,
		RetrieverConnectionsURL: c.Router.RetrieverConnectionsURL,
		LLMConnectionsURL:       c.Router.LLMConnectionsURL,
	}
}

func (c config) logLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (o ollamaConfig) llm(logger *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	ollama, err := services.NewOllama(host, o.Model, logger)
	if err != nil {
		return nil, err
	}
	return ollama, nil
}

func (o openaiConfig) llm(logger *slog.Logger) (services.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	return services.NewOpenAI(apiKey, baseURL, o.Model, logger), nil
}
