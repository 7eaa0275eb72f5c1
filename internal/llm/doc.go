// Package llm defines the provider-neutral chat model contract used by the
// agent: role-tagged messages, tool specifications and tool calls. Providers
// live in sub-packages (openai, pythonbridge).
package llm
