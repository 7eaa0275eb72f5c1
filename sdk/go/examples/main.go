package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"aptos-agent/internal/agent"
	"aptos-agent/internal/api"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/tools"
	"aptos-agent/sdk/go/aptosagent"
)

// scriptedModel asks for one multiplication and then answers with the result.
type scriptedModel struct{}

func (scriptedModel) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == llm.RoleTool {
		return &llm.Response{Content: "6 times 7 is " + last.Content + "."}, nil
	}
	return &llm.Response{ToolCalls: []llm.ToolCall{{
		ID:        "call-1",
		Name:      "mul",
		Arguments: `{"a": 6, "b": 7}`,
	}}}, nil
}

func main() {
	registry, err := tools.NewRegistry(tools.ArithmeticTools()...)
	if err != nil {
		panic(err)
	}
	executor := agent.New(scriptedModel{}, registry)
	server := api.NewServer("", executor, registry)

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client, err := aptosagent.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	specs, err := client.Tools(ctx)
	if err != nil {
		panic(err)
	}
	for _, spec := range specs {
		fmt.Printf("tool %s: %s\n", spec.Name, spec.Description)
	}

	sum, err := client.InvokeTool(ctx, "add", map[string]any{"a": 2, "b": 3})
	if err != nil {
		panic(err)
	}
	fmt.Printf("add(2, 3) = %s\n", sum.Output)

	final, err := client.StreamChat(ctx, aptosagent.ChatRequest{Input: "What is 6 times 7?"}, func(f aptosagent.Frame) {
		fmt.Printf("step %d: %s(%s) -> %s\n", f.Step.Iteration, f.Step.Tool, f.Step.Arguments, f.Step.Observation)
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("answer (session %s): %s\n", final.SessionID, final.Output)

	if err := client.ResetSession(ctx, final.SessionID); err != nil {
		panic(err)
	}
}
