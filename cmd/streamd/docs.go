package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/streamd/docs.go -o internal/httpapi/docs`.
//
// @title           streamd API
// @version         1.0
// @description     HTTP API for streaming local LLM generation with thinking and tool calls.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
