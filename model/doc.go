// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with text generation models inside simflow.
//
// Core goals:
//   - Unify vendor SDKs behind a single channel based Generate call
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI and OpenAI-compatible endpoints, Anthropic, Google) implement
// the Model interface from this package so the gateway stays decoupled from
// vendor SDKs.
package model
