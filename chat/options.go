package chat

import (
	"context"

	"github.com/effective-security/mcpchat/pkg/llms"
)

// DefaultTemperature is the sampling temperature of completion requests
const DefaultTemperature = llms.DefaultTemperature

// Preprocessor turns a raw user turn into the messages appended to the history.
// No messages means the input expanded to nothing, the turn then ends
// without a model request.
type Preprocessor interface {
	Process(ctx context.Context, query string) ([]llms.Message, error)
}

// Option configures the Engine
type Option func(*config)

type config struct {
	systemPrompt  string
	temperature   float64
	stopWords     []string
	maxToolRounds int
	preprocessor  Preprocessor
	callback      Callback
	callOptions   []llms.CallOption
}

// WithSystemPrompt sets the system prompt sent with every completion request
func WithSystemPrompt(prompt string) Option {
	return func(c *config) {
		c.systemPrompt = prompt
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(temperature float64) Option {
	return func(c *config) {
		c.temperature = temperature
	}
}

// WithStopWords sets the stop sequences
func WithStopWords(words []string) Option {
	return func(c *config) {
		c.stopWords = words
	}
}

// WithMaxToolRounds limits the tool rounds of a turn, 0 means no limit
func WithMaxToolRounds(n int) Option {
	return func(c *config) {
		c.maxToolRounds = n
	}
}

// WithPreprocessor sets the preprocessor of user turns
func WithPreprocessor(p Preprocessor) Option {
	return func(c *config) {
		c.preprocessor = p
	}
}

// WithCallback sets the callback for turn events
func WithCallback(cb Callback) Option {
	return func(c *config) {
		c.callback = cb
	}
}

// WithCallOptions appends model call options, for example llms.WithModel
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(c *config) {
		c.callOptions = append(c.callOptions, opts...)
	}
}
