package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lennylistens/listend/internal/api"
	"github.com/lennylistens/listend/internal/config"
	"github.com/lennylistens/listend/internal/dispatch"
	"github.com/lennylistens/listend/internal/generate"
	"github.com/lennylistens/listend/internal/status"
	"github.com/lennylistens/listend/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the listend server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running listend server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show listend system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	if dataDir == "none" {
		dataDir = os.TempDir()
	}
	return filepath.Join(dataDir, "listend.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "listend version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the admin token exists in the platform secret store.
	adminToken, err := config.GetAdminToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing admin token: %w", err)
	}
	slog.Info("admin bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("listend is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("listend is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appStore, jobStore, manager, closeStore := openStores(cfg.Storage.DataDir)
	defer closeStore()

	gen, err := buildGenerator(cfg)
	if err != nil {
		return err
	}
	slog.Info("generation strategy configured", "strategy", cfg.Generator.Strategy, "mode", cfg.Generator.Mode)

	dispatcher := dispatch.NewDispatcher(gen, manager)

	handler := api.NewAppHandler(api.AppDeps{
		Store:      appStore,
		Manager:    manager,
		Dispatcher: dispatcher,
		Mode:       cfg.Generator.Mode,
		AdminToken: adminToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Dispatch worker drains queued generation jobs.
	if cfg.Generator.Mode == api.ModeQueue {
		worker := dispatch.NewWorker(jobStore, dispatcher, manager, 500*time.Millisecond)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	// MCP server (stdio transport).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   appStore,
		Manager: manager,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "listend listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStores opens the sqlite store in dataDir. A data dir of "none" or a
// database that cannot be opened degrades to the no-op store: reads fail
// open toward not-found, writes are logged and dropped, and the service
// keeps acknowledging intakes.
func openStores(dataDir string) (api.Store, dispatch.JobStore, *status.Manager, func()) {
	if dataDir != "none" {
		store, err := storage.Open(dataDir)
		if err == nil {
			closeStore := func() {
				if err := store.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
				}
			}
			return store, store, status.NewManager(store), closeStore
		}
		slog.Warn("could not open storage, continuing without persistence", "data_dir", dataDir, "error", err)
	} else {
		slog.Warn("persistence disabled; status records will not survive restarts")
	}

	noop := storage.NewNoop()
	return noop, noop, status.NewManager(noop), func() {}
}

// buildGenerator wires the single configured strategy.
func buildGenerator(cfg config.Config) (generate.Generator, error) {
	switch cfg.Generator.Strategy {
	case "api":
		return generate.NewAPIClientWithBaseURL(
			cfg.Perspective.Token, cfg.Perspective.WorkspaceSlug, cfg.Perspective.APIBaseURL), nil
	case "mcp":
		return generate.NewMCPClientWithBaseURL(
			cfg.Perspective.Token, cfg.Perspective.WorkspaceID, cfg.Perspective.APIBaseURL), nil
	case "agent":
		tools := generate.NewMCPClientWithBaseURL(
			cfg.Perspective.Token, cfg.Perspective.WorkspaceID, cfg.Perspective.APIBaseURL)
		return generate.NewAgentRunnerWithBaseURL(
			cfg.Generator.AgentAPIKey, cfg.Generator.AgentModel, tools, cfg.Generator.AgentBaseURL), nil
	case "sidecar":
		return generate.NewSidecarClient(cfg.Generator.SidecarURL), nil
	default:
		return nil, fmt.Errorf("unknown generator strategy %q", cfg.Generator.Strategy)
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("listend is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop listend (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to listend (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Strategy", "%s", cfg.Generator.Strategy)
	printStatus("Mode", "%s", cfg.Generator.Mode)

	if running {
		latestResp, err := client.Get(serverURL + "/api/perspective/latest")
		if err == nil {
			switch latestResp.StatusCode {
			case 200:
				var rec struct {
					ConversationID string `json:"conversation_id"`
					Status         string `json:"status"`
				}
				if decodeErr := decodeJSON(latestResp, &rec); decodeErr == nil {
					printStatus("Latest pending", "%s (%s)", rec.ConversationID, rec.Status)
				}
			case 404:
				latestResp.Body.Close()
				printStatus("Latest pending", "none")
			default:
				latestResp.Body.Close()
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
