package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/engine"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/events"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/expressions"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/logging"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/nodes"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/secrets"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/store"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/trigger"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/internal/validation"
	"github.com/srikant3691/WorkFuse-AI-WorkFlow/pkg/schema"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(cfg, logger)
	case "save":
		err = runSave(cfg, logger, args)
	case "validate":
		err = runValidate(args)
	case "fire":
		err = runFire(cfg, logger, args)
	case "secret":
		err = runSecret(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: workfuse <command> [args]

commands:
  serve                       run the engine (recovers in-flight executions, starts the cron scheduler)
  save <graph.json>           validate and store a workflow graph (new version)
  validate <graph.json>       validate a workflow graph without storing it
  fire <workflow-id> [json]   trigger a workflow and wait for the result
  secret set <name> <value>   store an encrypted secret
  secret rm <name>            delete a secret
`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(cfg Config) (store.Store, error) {
	if err := os.MkdirAll(workfuseDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func openVault(cfg Config, st store.Store) (secrets.Vault, error) {
	if cfg.VaultPassphrase == "" {
		return nil, nil
	}
	return secrets.NewAESVault(st, secrets.VaultConfig{
		Passphrase: cfg.VaultPassphrase,
		Salt:       []byte(cfg.VaultSalt),
	})
}

// buildRegistry wires one executor per node kind. vault may be nil; ai
// nodes referencing secrets then fail at dispatch with a secret error.
func buildRegistry(cfg Config, vault secrets.Vault) (*nodes.Registry, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("cel engine: %w", err)
	}

	var lookup nodes.SecretLookup
	if vault != nil {
		lookup = func(ctx context.Context, name string) (string, error) {
			b, err := vault.Resolve(ctx, name)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
	}

	reg := nodes.NewRegistry()
	for _, ex := range []nodes.Executor{
		nodes.NewTriggerExecutor(),
		nodes.NewHTTPExecutor(nodes.HTTPConfig{}),
		nodes.NewTransformExecutor(expressions.NewExprEngine(), expressions.NewGoJQEngine(), celEngine),
		nodes.NewConditionExecutor(celEngine),
		nodes.NewAIExecutor(nodes.AIConfig{
			BaseURL:      cfg.AIBaseURL,
			APIKey:       cfg.AIAPIKey,
			DefaultModel: cfg.AIModel,
		}, lookup),
		nodes.NewDelayExecutor(),
	} {
		if err := reg.Register(ex); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildEngine(cfg Config, st store.Store, logger *slog.Logger) (*engine.Engine, error) {
	vault, err := openVault(cfg, st)
	if err != nil {
		return nil, err
	}
	reg, err := buildRegistry(cfg, vault)
	if err != nil {
		return nil, err
	}

	hub := events.NewMemoryHub()
	pub := events.NewPublisher(st, hub, logger)

	return engine.New(st, reg, pub, logger, engine.Config{
		Parallelism:        cfg.Parallelism,
		LeaseTTL:           cfg.leaseTTL(),
		DefaultNodeTimeout: cfg.nodeTimeout(),
	}), nil
}

func runServe(cfg Config, logger *slog.Logger) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := buildEngine(cfg, st, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	recovered, err := eng.Recover(ctx)
	if err != nil {
		logger.Warn("recovery incomplete", slog.Any("error", err))
	}
	if recovered > 0 {
		logger.Info("recovered in-flight executions", slog.Int("count", recovered))
	}

	var sched *trigger.Scheduler
	if cfg.Scheduler {
		sched = trigger.NewScheduler(st, trigger.NewService(eng), logger)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("workfuse engine running",
		slog.String("db", cfg.DBPath),
		slog.Int("parallelism", cfg.Parallelism),
		slog.String("owner", eng.Owner()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	if sched != nil {
		_ = sched.Stop()
	}
	eng.Shutdown()
	return nil
}

func loadGraphFile(path string) (*schema.WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return validation.ParseGraph(data)
}

func runValidate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: workfuse validate <graph.json>")
	}
	g, err := loadGraphFile(args[0])
	if err != nil {
		return err
	}
	gv, err := validation.NewGraphValidator()
	if err != nil {
		return err
	}
	result := gv.Validate(g)
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Valid() {
		return fmt.Errorf("graph %q failed validation with %d errors", g.ID, len(result.Errors))
	}
	return nil
}

func runSave(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: workfuse save <graph.json>")
	}
	g, err := loadGraphFile(args[0])
	if err != nil {
		return err
	}
	gv, err := validation.NewGraphValidator()
	if err != nil {
		return err
	}
	if err := gv.ValidateGraph(g); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveGraph(context.Background(), g); err != nil {
		return err
	}
	fmt.Printf("saved workflow %q version %d\n", g.ID, g.Version)
	return nil
}

func runFire(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: workfuse fire <workflow-id> [payload-json]")
	}
	workflowID := args[0]

	var payload map[string]any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("parse payload: %w", err)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := buildEngine(cfg, st, logger)
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	svc := trigger.NewService(eng)
	exec, err := svc.FireAndWait(context.Background(), workflowID, payload)
	if err != nil {
		return err
	}

	final, err := st.GetExecution(context.Background(), exec.ID)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(final, "", "  ")
	fmt.Println(string(out))
	if final.Error != nil {
		return fmt.Errorf("execution %s %s: %s", final.ID, final.Status, final.Error.Message)
	}
	return nil
}

func runSecret(cfg Config, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: workfuse secret set <name> <value> | secret rm <name>")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	vault, err := openVault(cfg, st)
	if err != nil {
		return err
	}
	if vault == nil {
		return fmt.Errorf("no vault configured: set WORKFUSE_VAULT_PASSPHRASE")
	}

	ctx := context.Background()
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: workfuse secret set <name> <value>")
		}
		if err := vault.Store(ctx, args[1], []byte(args[2])); err != nil {
			return err
		}
		fmt.Printf("secret %q stored\n", args[1])
		return nil
	case "rm":
		if err := vault.Delete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("secret %q deleted\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown secret subcommand %q", args[0])
	}
}
