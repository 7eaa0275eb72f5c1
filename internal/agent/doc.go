// Package agent runs the tool-calling loop: it sends the conversation and the
// tool declarations to the model, executes the tools the model asks for,
// feeds the observations back and stops at the first plain answer or when
// the iteration or time budget is spent. Chat history is kept per session in
// process memory.
package agent
