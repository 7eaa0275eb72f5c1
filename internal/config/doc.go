// Package config loads the JSON configuration of aptos-agent, fills in
// defaults and resolves secrets from the environment (optionally seeded from
// a .env file).
package config
