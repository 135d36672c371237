// Package config loads the mcpchat configuration.
package config

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultLogLevel is used when log_level is not set
	DefaultLogLevel = "WARNING"
	// DefaultRunner runs server scripts given on the command line
	DefaultRunner = "uv run"
	// DefaultRedisPrefix is the key prefix of the Redis document store
	DefaultRedisPrefix = "mcpchat"
	// DefaultProvider is the provider used when none is configured
	DefaultProvider = "openai"
)

// Config of the chat client
type Config struct {
	// LogLevel is one of TRACE|DEBUG|INFO|NOTICE|WARNING|ERROR|CRITICAL
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=TRACE DEBUG INFO NOTICE WARNING ERROR CRITICAL"`
	// LLM configures the model providers
	LLM llmfactory.Config `json:"llm" yaml:"llm"`
	// Docs configures the documentation provider
	Docs DocsConfig `json:"docs" yaml:"docs"`
	// Servers are additional tool providers
	Servers []*ServerConfig `json:"servers,omitempty" yaml:"servers,omitempty" validate:"dive"`
	// Chat configures the conversation engine
	Chat ChatConfig `json:"chat" yaml:"chat"`
}

// DocsConfig for the documentation provider.
// With no URL and no Command the built-in server is spawned.
type DocsConfig struct {
	URL     string   `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// RedisURL selects the Redis document store of the built-in server
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty" validate:"omitempty,url"`
	// RedisPrefix is the key prefix of the Redis document store
	RedisPrefix string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
}

// ServerConfig for an MCP server, either a command run over stdio or an SSE URL
type ServerConfig struct {
	Name    string            `json:"name" yaml:"name" validate:"required"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty" validate:"required_without=URL"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
}

// ChatConfig for the conversation engine
type ChatConfig struct {
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// Temperature of the model, 1.0 if not set
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	// MaxToolRounds bounds the tool rounds of a turn, 0 is unbounded
	MaxToolRounds int `json:"max_tool_rounds,omitempty" yaml:"max_tool_rounds,omitempty" validate:"gte=0"`
	// RequestTimeout bounds every request to an MCP server, e.g. 30s
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	// CollisionPolicy is first_wins|dedupe|reject
	CollisionPolicy string `json:"collision_policy,omitempty" yaml:"collision_policy,omitempty" validate:"omitempty,oneof=first_wins dedupe reject"`
}

// Spec returns the server spec accepted by mcp.NewTransport
func (s *ServerConfig) Spec() string {
	if s.URL != "" {
		return s.URL
	}
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

// Environ returns the environment of the server in KEY=VALUE form, sorted by key
func (s *ServerConfig) Environ() []string {
	var env []string
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Timeout returns the request timeout of MCP clients
func (c *ChatConfig) Timeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return mcp.DefaultRequestTimeout, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid request_timeout")
	}
	if d <= 0 {
		return 0, errors.Errorf("invalid request_timeout: %s", c.RequestTimeout)
	}
	return d, nil
}

// Policy returns the tool collision policy
func (c *ChatConfig) Policy() (tools.CollisionPolicy, error) {
	return tools.ParseCollisionPolicy(c.CollisionPolicy)
}

// Options returns the engine options
func (c *ChatConfig) Options() []chat.Option {
	opts := []chat.Option{
		chat.WithMaxToolRounds(c.MaxToolRounds),
	}
	if c.SystemPrompt != "" {
		opts = append(opts, chat.WithSystemPrompt(c.SystemPrompt))
	}
	if c.Temperature != nil {
		opts = append(opts, chat.WithTemperature(*c.Temperature))
	}
	return opts
}

// Load returns the configuration from file, with defaults for missing values.
// An empty file name returns the defaults.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to load config %s", file)
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills the missing values
func (c *Config) SetDefaults() {
	c.LogLevel = strings.ToUpper(values.StringsCoalesce(c.LogLevel, DefaultLogLevel))
	c.Docs.RedisPrefix = values.StringsCoalesce(c.Docs.RedisPrefix, DefaultRedisPrefix)
	c.Chat.CollisionPolicy = values.StringsCoalesce(c.Chat.CollisionPolicy, string(tools.CollisionFirstWins))
	c.Chat.RequestTimeout = values.StringsCoalesce(c.Chat.RequestTimeout, mcp.DefaultRequestTimeout.String())

	if len(c.LLM.Providers) == 0 {
		// OpenAI provider configured from the environment
		c.LLM.Providers = []*llmfactory.ProviderConfig{
			{Name: DefaultProvider},
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if _, err := c.Chat.Timeout(); err != nil {
		return err
	}
	names := map[string]bool{}
	for _, s := range c.Servers {
		if names[s.Name] {
			return errors.Errorf("invalid configuration: duplicate server name %q", s.Name)
		}
		names[s.Name] = true
	}
	return nil
}

// Redacted returns a copy of the configuration with the provider tokens masked
func (c *Config) Redacted() *Config {
	cp := *c
	cp.LLM.Providers = make([]*llmfactory.ProviderConfig, len(c.LLM.Providers))
	for i, p := range c.LLM.Providers {
		pc := *p
		if pc.Token != "" {
			pc.Token = "***"
		}
		cp.LLM.Providers[i] = &pc
	}
	return &cp
}
