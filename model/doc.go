// Package model defines the provider-agnostic abstractions for interacting
// with language models and the LLM-backed decision gateway used by loops.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Turn one model reply into exactly one core.Action (Gateway)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (openai, anthropic) implement the Model interface from this
// package so the loop stays decoupled from vendor SDKs.
package model
