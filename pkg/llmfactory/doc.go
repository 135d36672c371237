// Package llmfactory provides factories and configuration for chat model instantiation, supporting OpenAI compatible providers (OpenAI, Azure, Perplexity), Anthropic, and model selection by name or provider type.
package llmfactory
