// crewflow 命令行入口：加载 YAML 定义并执行一次 crew 运行。
//
// 退出码：0 成功，1 配置或输入错误，2 执行器致命错误，
// 3 超时，4 守卫重试耗尽。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/task"
)

// 退出码
const (
	exitOK        = 0
	exitUserError = 1
	exitFatal     = 2
	exitTimeout   = 3
	exitGuardrail = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("crewflow", flag.ContinueOnError)
	configPath := fs.String("config", "crew.yaml", "path to the crew definition file")
	validateOnly := fs.Bool("validate", false, "validate the definition and exit")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	var inputs inputFlags
	fs.Var(&inputs, "input", "task input as key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return exitUserError
	}

	logger := buildLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	def, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewflow: %v\n", err)
		return exitUserError
	}
	if *validateOnly {
		fmt.Printf("configuration ok: %d agents, %d tasks\n", len(def.Agents), len(def.Tasks))
		return exitOK
	}

	c, err := def.Build(config.BuildOptions{
		Logger:     logger,
		HumanInput: stdinHumanInput,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewflow: %v\n", err)
		return exitUserError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := c.Kickoff(ctx, inputs.values)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewflow: %v\n", err)
		return exitCode(err)
	}

	fmt.Println(out.Raw)
	logger.Info("crew run finished",
		zap.Int("tasks", len(out.TaskOutputs)),
		zap.Int("total_tokens", out.Usage.TotalTokens))
	return exitOK
}

// exitCode 把错误映射到退出码
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var guardrailErr *task.GuardrailError
	var fatalErr *agent.FatalError
	switch {
	case errors.Is(err, agent.ErrTimedOut):
		return exitTimeout
	case errors.As(err, &guardrailErr):
		return exitGuardrail
	case errors.As(err, &fatalErr):
		return exitFatal
	default:
		return exitUserError
	}
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// stdinHumanInput 从标准输入读取人工反馈
func stdinHumanInput(_ context.Context, output string) (string, error) {
	fmt.Printf("\n## Agent output:\n%s\n\nFeedback (empty to accept): ", output)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// inputFlags 可重复的 -input key=value
type inputFlags struct {
	values map[string]string
}

func (f *inputFlags) String() string {
	if f == nil || len(f.values) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f.values))
	for k, v := range f.values {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f *inputFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || strings.TrimSpace(key) == "" {
		return fmt.Errorf("input must be key=value, got %q", raw)
	}
	if f.values == nil {
		f.values = make(map[string]string)
	}
	f.values[strings.TrimSpace(key)] = value
	return nil
}
