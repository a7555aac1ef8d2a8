package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/codebuddy/internal/api"
	"github.com/kalambet/codebuddy/internal/composer"
	"github.com/kalambet/codebuddy/internal/config"
	"github.com/kalambet/codebuddy/internal/ollama"
	"github.com/kalambet/codebuddy/internal/pipeline"
	"github.com/kalambet/codebuddy/internal/provider"
	"github.com/kalambet/codebuddy/internal/siteprompt"
	"github.com/kalambet/codebuddy/internal/storage"
	"github.com/kalambet/codebuddy/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the codebuddy server (foreground)",
	Long: `Start the HTTP API, the background job worker and, unless --mcp=false,
an MCP server on stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		pull, _ := cmd.Flags().GetBool("pull")
		return runServer(cmd.Context(), withMCP, pull)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running codebuddy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show codebuddy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", true, "serve MCP over stdio")
	serveCmd.Flags().Bool("pull", false, "pull the configured Ollama model if it is missing")
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "codebuddy.pid")
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

// newLogger builds the process logger from the log section of the config.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the set of long-running components served by "codebuddy serve".
type app struct {
	assistant *pipeline.Assistant
	handler   http.Handler
	mcp       *server.MCPServer
	worker    *worker.Worker
}

func newApp(cfg config.Config, store *storage.Store) (*app, error) {
	providerCfg, err := cfg.ProviderConfig()
	if err != nil {
		return nil, fmt.Errorf("provider config: %w", err)
	}
	if d, err := provider.Get(cfg.ProviderID()); err == nil {
		for _, problem := range provider.ValidateConfig(d, providerCfg) {
			slog.Warn("provider configuration incomplete", "provider", d.ID(), "problem", problem)
		}
	}

	client := provider.NewClient(provider.WithTimeout(cfg.RequestTimeout()))
	sites := siteprompt.NewManager(store)
	assistant := pipeline.NewAssistant(store, client, sites, composer.New(0), pipeline.Settings{
		ProviderID:   cfg.ProviderID(),
		Provider:     providerCfg,
		CustomPrompt: cfg.Prompts.Custom,
	})

	return &app{
		assistant: assistant,
		handler: api.NewHandler(api.Deps{
			Store:     store,
			Assistant: assistant,
			Sites:     sites,
			Token:     cfg.Server.Token,
		}),
		mcp: api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Assistant: assistant,
			Sites:     sites,
		}),
		worker: worker.NewWorker(store, assistant, 500*time.Millisecond),
	}, nil
}

// checkOllama reports on the local Ollama server when it is the selected
// provider. Problems are logged rather than fatal so the server can start
// before Ollama does.
func checkOllama(ctx context.Context, providerCfg provider.Config, pull bool) {
	c := ollama.New(providerCfg.Endpoint)
	if err := ollama.EnsureModel(ctx, c, providerCfg.Model, pull, os.Stderr); err != nil {
		slog.Warn("ollama not ready", "endpoint", c.BaseURL(), "error", err)
	}
}

func runServer(parent context.Context, withMCP, pull bool) error {
	fmt.Fprintf(os.Stderr, "codebuddy version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stderr))
	if cfg.Server.Token == "" {
		slog.Warn("no server token configured, API authentication disabled")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	a, err := newApp(cfg, store)
	if err != nil {
		return err
	}
	slog.Info("provider selected", "provider", cfg.ProviderID())
	if cfg.ProviderID() == provider.Ollama {
		checkOllama(ctx, a.assistant.Settings().Provider, pull)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "codebuddy listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	g.Go(func() error {
		a.worker.Run(gctx)
		return nil
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(a.mcp)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("codebuddy is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop codebuddy (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to codebuddy (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	d, err := provider.Get(cfg.ProviderID())
	if err != nil {
		printStatus("Provider", "%s (unknown)", cfg.Provider.ID)
	} else {
		providerCfg, _ := cfg.ProviderConfig()
		printStatus("Provider", "%s", d.Name())
		printStatus("Model", "%s", providerCfg.Model)
		if d.ID() == provider.Ollama {
			st := ollama.Check(context.Background(), ollama.New(providerCfg.Endpoint), providerCfg.Model)
			switch {
			case !st.Running:
				printStatus("Ollama", "not running at %s", providerCfg.Endpoint)
			case !st.ModelPresent:
				printStatus("Ollama", "running (v%s), model %s not installed", st.Version, st.Model)
			default:
				printStatus("Ollama", "running (v%s) at %s", st.Version, providerCfg.Endpoint)
			}
		}
		for _, problem := range provider.ValidateConfig(d, providerCfg) {
			printWarning("%s", problem)
		}
	}

	printStatus("Auth", "%s", lo.Ternary(cfg.Server.Token != "", "bearer token", "disabled"))

	if running {
		c := &apiClient{baseURL: serverURL, token: cfg.Server.Token, httpClient: client}
		ctx := context.Background()

		if resp, err := c.get(ctx, "/v1/site-prompts"); err == nil {
			var entries []siteprompt.Entry
			if decodeJSON(resp, &entries) == nil {
				printStatus("Site prompts", "%d", len(entries))
			}
		}
		if resp, err := c.get(ctx, "/v1/interactions?limit=100"); err == nil {
			var interactions []storage.Interaction
			if decodeJSON(resp, &interactions) == nil {
				printStatus("Interactions", "%s", countLabel(len(interactions), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return strconv.Itoa(count)
}
