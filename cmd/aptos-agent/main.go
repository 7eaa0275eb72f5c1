package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"aptos-agent/internal/agent"
	"aptos-agent/internal/api"
	"aptos-agent/internal/aptos"
	"aptos-agent/internal/config"
	"aptos-agent/internal/llm"
	"aptos-agent/internal/llm/openai"
	"aptos-agent/internal/llm/pythonbridge"
	"aptos-agent/internal/search/serpapi"
	"aptos-agent/internal/tools"
	"aptos-agent/pkg/logger"
)

// balanceConcurrency 限制 balance 命令并发查询的地址数量。
const balanceConcurrency = 4

// main 是 aptos-agent 命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("aptos-agent 运行失败: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "aptos-agent",
		Usage: "LLM agent for exploring the Aptos blockchain",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the JSON configuration file",
				EnvVars: []string{config.EnvConfigPath},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading secrets",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP and WebSocket API",
				Action: serve,
			},
			{
				Name:   "chat",
				Usage:  "start an interactive chat session on stdin",
				Action: chat,
			},
			{
				Name:   "tools",
				Usage:  "list the tools exposed to the model",
				Action: listTools,
			},
			{
				Name:      "tool",
				Usage:     "invoke one tool directly",
				ArgsUsage: "<name> [json-arguments]",
				Action:    invokeTool,
			},
			{
				Name:      "balance",
				Usage:     "print the APT balance of one or more accounts",
				ArgsUsage: "<address>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "network", Usage: "network to query, defaults to the configured one"},
				},
				Action: balance,
			},
		},
	}
}

// runtime 聚合了各个命令共享的组件。
type runtime struct {
	cfg      *config.Config
	networks *aptos.Registry
	registry *tools.Registry
}

// bootstrap 加载配置、初始化日志并装配工具。
func bootstrap(c *cli.Context) (*runtime, error) {
	// 1. 先加载 .env，后续密钥才能从环境变量中读取。
	if err := config.LoadEnv(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}

	// 2. 解析配置文件。
	cfg, source, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, err
	}

	// 3. 初始化全局日志。
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if source == "" {
		source = "defaults"
	}
	logger.L().Debug("配置已加载", slog.String("source", source))

	// 4. 构建区块链浏览器客户端。
	networks, err := aptos.NewRegistry(aptos.RegistryConfig{
		NetworkConfig:  cfg.Aptos.NetworkConfig,
		DefaultNetwork: cfg.Aptos.DefaultNetwork,
		BaseURL:        cfg.Aptos.BaseURL,
		CoinType:       cfg.Aptos.CoinType,
		Timeout:        cfg.Aptos.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	// 5. 搜索密钥缺失时工具仍然注册，但调用时返回提示。
	var searcher tools.Searcher
	if apiKey := cfg.Search.ResolveAPIKey(); apiKey != "" {
		client, err := serpapi.NewClient(serpapi.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Search.BaseURL,
			Engine:  cfg.Search.Engine,
			Timeout: cfg.Search.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		searcher = client
	} else {
		logger.L().Warn("未配置搜索密钥，web_search 工具不可用", slog.String("env", cfg.Search.APIKeyEnv))
	}

	registry, err := tools.Default(networks, searcher)
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, networks: networks, registry: registry}, nil
}

// newExecutor 创建大模型客户端并组装 Agent。
func (rt *runtime) newExecutor() (*agent.Executor, error) {
	llmClient, err := createLLMClient(rt.cfg)
	if err != nil {
		return nil, err
	}
	return agent.New(llmClient, rt.registry,
		agent.WithMemoryDepth(rt.cfg.Agent.MemoryDepth),
		agent.WithMaxSessions(rt.cfg.Agent.MaxSessions),
		agent.WithSystemPrompt(rt.cfg.Agent.SystemPrompt),
		agent.WithMaxIterations(rt.cfg.Agent.MaxIterations),
		agent.WithMaxExecutionTime(rt.cfg.Agent.MaxExecutionTime()),
		agent.WithLLMTimeout(rt.cfg.Agent.LLMTimeout()),
		agent.WithVerbose(rt.cfg.Agent.Verbose),
	), nil
}

func serve(c *cli.Context) error {
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	executor, err := rt.newExecutor()
	if err != nil {
		return err
	}

	server := api.NewServer(rt.cfg.Server.Address, executor, rt.registry,
		api.WithShutdownTimeout(rt.cfg.Server.ShutdownTimeout()))

	logger.L().Info("aptos-agent 启动",
		slog.String("address", rt.cfg.Server.Address),
		slog.String("default_network", rt.networks.DefaultNetwork()),
		slog.Any("networks", rt.networks.Networks()),
		slog.Any("tools", rt.registry.Names()))

	if err := server.Start(c.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func chat(c *cli.Context) error {
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	executor, err := rt.newExecutor()
	if err != nil {
		return err
	}
	return chatLoop(c.Context, executor, os.Stdin, c.App.Writer, rt.cfg.Agent.Verbose)
}

// chatLoop 逐行读取输入并打印回答。exit 或 quit 退出，reset 清空会话记忆。
func chatLoop(ctx context.Context, executor *agent.Executor, in io.Reader, out io.Writer, verbose bool) error {
	sessionID := uuid.NewString()
	scanner := bufio.NewScanner(in)

	var observe agent.StepObserver
	if verbose {
		observe = func(step agent.Step) {
			fmt.Fprintf(out, "  [%d] %s(%s) -> %s\n", step.Iteration, step.Tool, step.Arguments, step.Observation)
		}
	}

	fmt.Fprintln(out, "Aptos agent ready. Type 'exit' to quit, 'reset' to clear history.")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "reset":
			executor.ResetSession(sessionID)
			fmt.Fprintln(out, "History cleared.")
			continue
		}

		result, err := executor.Invoke(ctx, agent.Invocation{SessionID: sessionID, Input: input}, observe)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, result.Output)
	}
}

func listTools(c *cli.Context) error {
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	for _, spec := range rt.registry.Specs() {
		fmt.Fprintf(c.App.Writer, "%-32s %s\n", spec.Name, spec.Description)
	}
	return nil
}

func invokeTool(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("tool name is required", 2)
	}
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rawArgs := c.Args().Get(1)
	if rawArgs == "" {
		rawArgs = "{}"
	}
	output, err := rt.registry.Invoke(c.Context, c.Args().First(), rawArgs)
	if output != "" {
		fmt.Fprintln(c.App.Writer, output)
	}
	return err
}

func balance(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("at least one address is required", 2)
	}
	rt, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, ok := rt.networks.Client(c.String("network"))
	if !ok {
		return fmt.Errorf("unknown network %q, configured: %s",
			c.String("network"), strings.Join(rt.networks.Networks(), ", "))
	}

	addresses := c.Args().Slice()
	lines := make([]string, len(addresses))

	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(balanceConcurrency)
	for i, address := range addresses {
		g.Go(func() error {
			b, err := client.AccountBalance(ctx, address)
			if err != nil {
				return fmt.Errorf("%s: %w", address, err)
			}
			lines[i] = fmt.Sprintf("%s\t%s APT", b.Address, b.APT().String())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		apiKey := cfg.LLM.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider 需要配置 api_key 或环境变量 %s", cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			Timeout:     cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
