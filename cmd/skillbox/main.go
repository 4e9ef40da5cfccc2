package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skillbox/skillbox/internal/approval"
	"github.com/skillbox/skillbox/internal/audit"
	"github.com/skillbox/skillbox/internal/config"
	"github.com/skillbox/skillbox/internal/execsvc"
	"github.com/skillbox/skillbox/internal/iobroker"
	"github.com/skillbox/skillbox/internal/manifest"
	"github.com/skillbox/skillbox/internal/sandbox"
	"github.com/skillbox/skillbox/internal/scanner"
	"github.com/skillbox/skillbox/internal/server"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Process exit codes returned by exec, one per execute_code error kind.
const (
	exitSuccess      = 0
	exitSkillFailure = 1
	exitInputError   = 2
	exitScanBlocked  = 3
	exitUserDenied   = 4
	exitTimeout      = 5
	exitResourceLimit = 6
	exitInternal     = 7
)

func main() {
	// The Linux namespace backend re-execs this same binary as a
	// privileged init wrapper before it ever touches cobra — intercept
	// that here rather than registering it as a visible subcommand.
	if len(os.Args) > 1 && os.Args[1] == sandbox.SandboxInitSubcommand {
		if err := sandbox.RunSandboxInit(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "sandbox init:", err)
			os.Exit(exitInternal)
		}
		return
	}

	rootCmd := &cobra.Command{
		Use:   "skillbox",
		Short: "Secure execution core for untrusted agent skills",
		Long:  "skillbox — scan, sandbox, and execute untrusted skill code on behalf of an LLM agent.",
	}

	var configFile string

	// ─── scan ───
	scanCmd := &cobra.Command{
		Use:   "scan <skill-dir>",
		Short: "Run the static scanner against a skill's entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args[0])
		},
	}

	// ─── exec ───
	var level int
	var allowNetwork bool
	var timeoutSecs int
	var maxMemoryMB int
	var autoApprove bool
	var interactive bool
	execCmd := &cobra.Command{
		Use:   "exec <skill-dir>",
		Short: "Execute a skill through the full scan/sandbox/confirm pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(args[0], level, allowNetwork, timeoutSecs, maxMemoryMB, autoApprove, interactive)
		},
	}
	execCmd.Flags().IntVar(&level, "level", 0, "Sandbox level override (1=none, 2=isolate, 3=scan+confirm)")
	execCmd.Flags().BoolVar(&allowNetwork, "network", false, "Allow network access inside the sandbox")
	execCmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Timeout in seconds (0 = use default/env)")
	execCmd.Flags().IntVar(&maxMemoryMB, "max-memory-mb", 0, "Memory limit in MB (0 = use default/env)")
	execCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Auto-approve High findings without prompting (never Critical)")
	execCmd.Flags().BoolVar(&interactive, "confirm", false, "Prompt on stdin/stderr for High/Critical confirmation")

	// ─── serve ───
	var port int
	var watch bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scan_code/execute_code HTTP RPC surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, port, watch)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to skillbox.yaml (default: ./skillbox.yaml)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")
	serveCmd.Flags().BoolVar(&watch, "watch", false, "Mount the live audit tail at GET /v1/audit/watch")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter skillbox.yaml and skills/ directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── audit ───
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log inspection commands",
	}
	auditVerifyCmd := &cobra.Command{
		Use:   "verify <audit-log-path>",
		Short: "Verify the audit log's hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditVerify(args[0])
		},
	}
	auditCmd.AddCommand(auditVerifyCmd)

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("skillbox %s\n", version)
			fmt.Printf("  Commit: %s\n", commit)
			fmt.Printf("  Built:  %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(scanCmd, execCmd, serveCmd, initCmd, auditCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitInternal)
	}
}

// ─── scan ───

func runScan(dir string) error {
	skill, err := manifest.Load(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInputError)
	}

	source, err := os.ReadFile(skill.EntryPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInputError)
	}

	result := scanner.Scan(skill.Language, []string{string(source)})
	fmt.Println(approval.FormatReport(result))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	if result.RequiresConfirmation() {
		os.Exit(exitScanBlocked)
	}
	return nil
}

// ─── exec ───

func runExec(dir string, levelOverride int, allowNetwork bool, timeoutSecs, maxMemoryMB int, autoApprove, interactive bool) error {
	skill, err := manifest.Load(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInputError)
	}

	input, err := readStdinJSON()
	if err != nil {
		fmt.Fprintln(os.Stderr, "reading stdin input:", err)
		os.Exit(exitInputError)
	}

	ctx := execsvc.FromEnv()
	var override execsvc.Override
	if levelOverride > 0 {
		lvl := execsvc.SandboxLevel(levelOverride)
		override.SandboxLevel = &lvl
	}
	if allowNetwork {
		override.AllowNetwork = &allowNetwork
	}
	if timeoutSecs > 0 {
		override.TimeoutSeconds = &timeoutSecs
	}
	if maxMemoryMB > 0 {
		override.MaxMemoryMB = &maxMemoryMB
	}
	if autoApprove {
		override.AutoApprove = &autoApprove
	}
	ctx = ctx.WithOverride(override)

	var callback approval.Callback
	if interactive {
		callback = promptConfirmation
	}

	svc := execsvc.GetService()
	result := svc.Execute(skill, input, ctx, callback, "")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	os.Exit(exitCodeFor(result))
	return nil
}

// promptConfirmation prints the formatted scan report to stderr and
// blocks on a y/n answer from stdin — the CLI's stand-in for whatever
// out-of-band channel a real agent host wires in.
func promptConfirmation(formattedReport, scanID string) bool {
	fmt.Fprintln(os.Stderr, formattedReport)
	fmt.Fprintf(os.Stderr, "Approve execution (scan %s)? [y/N] ", scanID)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func readStdinJSON() (map[string]any, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return map[string]any{}, nil
	}
	var input map[string]any
	dec := json.NewDecoder(os.Stdin)
	if err := dec.Decode(&input); err != nil {
		if err.Error() == "EOF" {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return input, nil
}

func exitCodeFor(result execsvc.ExecutionResult) int {
	switch result.ErrorKind {
	case iobroker.ErrorNone:
		return exitSuccess
	case iobroker.ErrorNonZeroExit:
		return exitSkillFailure
	case iobroker.ErrorInvalidInput:
		return exitInputError
	case iobroker.ErrorScanBlocked:
		return exitScanBlocked
	case iobroker.ErrorUserDenied:
		return exitUserDenied
	case iobroker.ErrorTimeout:
		return exitTimeout
	case iobroker.ErrorResourceLimit, iobroker.ErrorSandboxViolation:
		return exitResourceLimit
	default:
		return exitInternal
	}
}

// ─── serve ───

func runServe(configFile string, portOverride int, watch bool) error {
	loader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := loader.Get()
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	auditPath := cfg.Audit.LogPath
	if envPath := os.Getenv(audit.EnvAuditLogPath); envPath != "" {
		auditPath = envPath
	}
	securityPath := cfg.Audit.SecurityEventsLogPath
	if envPath := os.Getenv(audit.EnvSecurityEventsLogPath); envPath != "" {
		securityPath = envPath
	}
	sink := audit.NewFromPaths(auditPath, securityPath)
	defer func() { _ = sink.Close() }()

	var autoApproveEval *approval.AutoApproveEvaluator
	if cfg.Approval.AutoApproveCELExpr != "" {
		evaluator, err := approval.NewAutoApproveEvaluator(cfg.Approval.AutoApproveCELExpr, logger)
		if err != nil {
			logger.Warn("invalid auto-approve CEL expression, disabling auto-approve", "error", err)
		} else {
			autoApproveEval = evaluator
		}
	}

	var store approval.Store
	if cfg.Approval.StoreBackend == "sqlite" && cfg.Approval.SQLitePath != "" {
		sqliteStore, err := approval.NewSQLiteStore(cfg.Approval.SQLitePath)
		if err != nil {
			logger.Warn("failed to open sqlite approval store, falling back to memory", "error", err)
		} else {
			store = sqliteStore
			defer func() { _ = sqliteStore.Close() }()
		}
	}

	cache := approval.NewCache(cfg.Approval.TTL, store)
	gate := approval.NewGate(cache, autoApproveEval, sink, logger)
	launcher := sandbox.NewLauncher(logger)
	svc := execsvc.New(gate, launcher, sink, logger)

	srv := server.NewServer(svc, sink, logger)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux, watch)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Println()
	fmt.Println("  skillbox " + version)
	fmt.Printf("  → HTTP:  http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("  → Scan:  POST /v1/scan_code\n")
	fmt.Printf("  → Exec:  POST /v1/execute_code\n")
	if watch {
		fmt.Printf("  → Watch: GET  /v1/audit/watch\n")
	}
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutCtx)
	}()

	logger.Info("starting HTTP server", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// ─── init ───

func runInit() error {
	configPath := "skillbox.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  skillbox.yaml already exists (skipping)\n")
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("  Generated %s\n", configPath)
	}

	if err := os.MkdirAll("skills", 0o755); err != nil {
		return fmt.Errorf("failed to create skills/: %w", err)
	}
	fmt.Println("  Created skills/")

	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    skillbox scan  <skill-dir>   # static-scan a skill")
	fmt.Println("    skillbox exec  <skill-dir>   # run it under the sandbox")
	fmt.Println("    skillbox serve                # expose scan_code/execute_code over HTTP")
	return nil
}

// ─── audit verify ───

func runAuditVerify(path string) error {
	ok, brokenAt, err := audit.VerifyChain(path)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", path, err)
	}
	if ok {
		fmt.Printf("  Hash chain intact for %s\n", path)
		return nil
	}
	fmt.Printf("  Hash chain broken in %s at record %d\n", path, brokenAt)
	os.Exit(exitInternal)
	return nil
}

// ─── shared helpers ───

func findConfigFile() string {
	candidates := []string{"skillbox.yaml", "skillbox.yml"}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

