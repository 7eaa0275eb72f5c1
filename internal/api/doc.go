// Package api exposes the agent over HTTP: a JSON chat endpoint, a WebSocket
// stream of tool steps, direct tool invocation, session reset, health and
// Prometheus metrics.
package api
