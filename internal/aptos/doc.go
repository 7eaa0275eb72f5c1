// Package aptos wraps the handful of Aptos fullnode REST endpoints the agent
// tools read from: coin balances, transactions by hash, gas price estimates,
// account modules and account transaction summaries. Every call is a single
// GET with a fixed timeout; nothing is cached and nothing is retried.
package aptos
