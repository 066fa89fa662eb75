// Command gateway is the control-plane CLI: it starts/stops/inspects the
// long-lived gateway process and gives operators a terminal surface for
// pairing and exec approvals. Grounded on the teacher's
// cmd/kube-ai-dashboard-cli/main.go flag-parsing and signal-handling shape
// (flag.Bool mode switches, signal.Notify + select shutdown), adapted from a
// single always-foreground process to a verb-based subcommand CLI fronting a
// process that can also be managed from a second invocation (stop/status).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudbro-kube-ai/k13d/pkg/cliclient"
	"github.com/cloudbro-kube-ai/k13d/pkg/config"
	"github.com/cloudbro-kube-ai/k13d/pkg/dashboard"
	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/log"
	"github.com/cloudbro-kube-ai/k13d/pkg/protocol"
	"github.com/cloudbro-kube-ai/k13d/pkg/server"
)

// Version is set by -ldflags at release build time.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "start":
		err = cmdStart(args)
	case "stop":
		err = cmdStop(args)
	case "restart":
		err = cmdRestart(args)
	case "status":
		err = cmdStatus(args)
	case "pairing":
		err = cmdPairing(args)
	case "approvals":
		err = cmdApprovals(args)
	case "dashboard":
		err = cmdDashboard(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "gateway: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: gateway <command> [flags]

commands:
  start                      run the gateway in the foreground
  stop                       stop a running gateway
  restart                    stop then start a detached gateway
  status                     report whether the gateway is running

  pairing list --channel=C
  pairing approve --channel=C --sender=S
  pairing deny --channel=C --sender=S

  approvals list
  approvals resolve --id=ID --decision=allow-once|allow-and-add|deny

  dashboard                  run the gateway in the foreground with an
                              attached tview operator console
`)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.EffectiveStateDir(), "gateway.pid")
}

func writePIDFile(cfg *config.Config) error {
	path := pidFilePath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

func readPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(pidFilePath(cfg))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// runForeground builds a Gateway, starts it, and blocks until SIGINT/SIGTERM
// or ctx is cancelled, then shuts it down gracefully. attach, if non-nil, is
// run concurrently and its error (if any) also triggers shutdown.
func runForeground(cfg *config.Config, attach func(ctx context.Context, gw *server.Gateway) error) error {
	gw, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}
	defer gw.Close()

	if err := writePIDFile(cfg); err != nil {
		log.Warnf("gateway: could not write pid file: %v", err)
	}
	defer os.Remove(pidFilePath(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- gw.Start(ctx)
	}()

	var attachErr chan error
	if attach != nil {
		attachErr = make(chan error, 1)
		go func() { attachErr <- attach(ctx, gw) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("gateway: received signal %v, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			log.Errorf("gateway: listener stopped: %v", err)
		}
	case err := <-attachErr:
		if err != nil {
			log.Errorf("gateway: console stopped: %v", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return gw.Shutdown(shutdownCtx)
}

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "path to gateway.yaml (default: xdg config dir)")
	fs.Parse(args)

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		return err
	}
	if pid, err := readPID(cfg); err == nil && processAlive(pid) {
		return fmt.Errorf("gateway already running (pid %d)", pid)
	}

	fmt.Printf("gateway listening on %s:%d\n", cfg.Listen.Bind, cfg.Listen.Port)
	return runForeground(cfg, nil)
}

func cmdDashboard(args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	configPath := fs.String("config", "", "path to gateway.yaml (default: xdg config dir)")
	fs.Parse(args)

	cfg, err := loadConfigFrom(*configPath)
	if err != nil {
		return err
	}

	channels := make([]string, 0, len(cfg.Channels))
	for _, c := range cfg.Channels {
		channels = append(channels, c.Name)
	}

	return runForeground(cfg, func(ctx context.Context, gw *server.Gateway) error {
		addr := connectURL(cfg)
		console := dashboard.New(gw, channels, addr)
		return console.Run(ctx)
	})
}

func loadConfigFrom(path string) (*config.Config, error) {
	if path == "" {
		return loadConfig()
	}
	cfg := config.NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cmdStop(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pid, err := readPID(cfg)
	if err != nil {
		return fmt.Errorf("gateway is not running (no pid file)")
	}
	if !processAlive(pid) {
		os.Remove(pidFilePath(cfg))
		return fmt.Errorf("gateway is not running (stale pid file removed)")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}
	fmt.Printf("sent SIGTERM to gateway (pid %d)\n", pid)
	return nil
}

func cmdStatus(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pid, err := readPID(cfg)
	if err != nil || !processAlive(pid) {
		fmt.Println("gateway: not running")
		return nil
	}
	fmt.Printf("gateway: running (pid %d, %s:%d)\n", pid, cfg.Listen.Bind, cfg.Listen.Port)
	return nil
}

func cmdRestart(args []string) error {
	if err := cmdStop(args); err != nil {
		log.Warnf("gateway: stop before restart: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		pid, err := readPID(cfg)
		if err != nil || !processAlive(pid) {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gateway did not stop within 10s")
		}
		time.Sleep(200 * time.Millisecond)
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	pid, err := spawnDetached(exe, append([]string{"start"}, args...), cfg)
	if err != nil {
		return err
	}
	fmt.Printf("gateway restarted (pid %d)\n", pid)
	return nil
}

// spawnDetached launches a new session-leader child process running the
// gateway binary in "start" mode, its stdout/stderr redirected to a log
// file under the state dir, and returns immediately without waiting for it.
func spawnDetached(exe string, args []string, cfg *config.Config) (int, error) {
	logPath := filepath.Join(cfg.EffectiveStateDir(), "gateway.out.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return 0, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, err
	}
	return cmd.Process.Pid, nil
}

func connectURL(cfg *config.Config) string {
	host := cfg.Listen.Bind
	if host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d/control", host, cfg.Listen.Port)
}

func connectOperator(ctx context.Context, cfg *config.Config) (*cliclient.Client, error) {
	return cliclient.Dial(ctx, connectURL(cfg), cliclient.ConnectParams{
		ClientID: "gateway-cli",
		Version:  Version,
		Role:     "operator",
		Token:    cfg.Auth.SharedToken,
		Password: cfg.Auth.SharedPassword,
	})
}

func cmdPairing(args []string) error {
	if len(args) == 0 {
		return errors.New("pairing requires a subcommand: list, approve, deny")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("pairing "+sub, flag.ExitOnError)
	channel := fs.String("channel", "", "channel name")
	sender := fs.String("sender", "", "sender id")
	fs.Parse(rest)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := connectOperator(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	switch sub {
	case "list":
		if *channel == "" {
			return errors.New("pairing list requires --channel")
		}
		payload, err := client.Call(ctx, protocol.MethodPairingList, map[string]any{"channel": *channel})
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
	case "approve":
		if *channel == "" || *sender == "" {
			return errors.New("pairing approve requires --channel and --sender")
		}
		_, err := client.Call(ctx, protocol.MethodPairingApprove, map[string]any{"channel": *channel, "sender": *sender})
		if err != nil {
			return err
		}
		fmt.Println("approved")
	case "deny":
		if *channel == "" || *sender == "" {
			return errors.New("pairing deny requires --channel and --sender")
		}
		_, err := client.Call(ctx, protocol.MethodPairingDeny, map[string]any{"channel": *channel, "sender": *sender})
		if err != nil {
			return err
		}
		fmt.Println("denied")
	default:
		return fmt.Errorf("unknown pairing subcommand %q", sub)
	}
	return nil
}

func cmdApprovals(args []string) error {
	if len(args) == 0 {
		return errors.New("approvals requires a subcommand: list, resolve")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("approvals "+sub, flag.ExitOnError)
	id := fs.String("id", "", "approval id")
	decision := fs.String("decision", "", "allow-once, allow-and-add, or deny")
	fs.Parse(rest)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := connectOperator(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	switch sub {
	case "list":
		payload, err := client.Call(ctx, protocol.MethodApprovalList, map[string]any{})
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
	case "resolve":
		if *id == "" || *decision == "" {
			return errors.New("approvals resolve requires --id and --decision")
		}
		switch execpkg.Decision(*decision) {
		case execpkg.DecisionAllowOnce, execpkg.DecisionAllowAndAdd, execpkg.DecisionDeny:
		default:
			return fmt.Errorf("invalid --decision %q", *decision)
		}
		_, err := client.Call(ctx, protocol.MethodApprovalResolve, map[string]any{"approvalId": *id, "decision": *decision})
		if err != nil {
			return err
		}
		fmt.Println("resolved")
	default:
		return fmt.Errorf("unknown approvals subcommand %q", sub)
	}
	return nil
}
