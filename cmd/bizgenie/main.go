// BizGenie - keeps a local view of your business in sync with the BizGenie proxy.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bizgenie/bizgenie/internal/api"
	"github.com/bizgenie/bizgenie/internal/config"
	"github.com/bizgenie/bizgenie/internal/core"
	"github.com/bizgenie/bizgenie/internal/logging"
	"github.com/bizgenie/bizgenie/internal/state"
	"github.com/bizgenie/bizgenie/internal/syncer"
	"github.com/bizgenie/bizgenie/internal/transport"
)

var (
	configPath string
	logLevel   string

	version = "0.1.0-alpha"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bizgenie",
		Short: "BizGenie - your business assistant",
		Long: `BizGenie keeps an eye on your business.

It polls the BizGenie proxy for inventory, legal and notification
updates, keeps the chat with your assistant, and serves the current
state to local views over HTTP and WebSocket.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./bizgenie.toml or ~/.bizgenie/bizgenie.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(updatesCmd())
	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and applies logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logging.SetJSON(cfg.Log.JSON)
	logging.WithFields(map[string]interface{}{
		"log_level": logging.GetLevel(),
		"json":      cfg.Log.JSON,
	}).Debug("logging configured")
	return cfg, nil
}

func newClient(cfg *config.Config) *transport.Client {
	return transport.NewClient(transport.Config{
		BaseURL:   cfg.Proxy.BaseURL,
		Timeout:   cfg.Proxy.Timeout,
		RateLimit: cfg.Proxy.RateLimit,
		Burst:     cfg.Proxy.Burst,
	})
}

func newSynchronizer(cfg *config.Config, manual bool) (*syncer.Synchronizer, error) {
	return syncer.New(state.New(), newClient(cfg), syncer.Options{
		PollInterval: cfg.Sync.PollInterval,
		PollTimeout:  cfg.Proxy.Timeout,
		ManualStart:  manual,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// serve
// =============================================================================

func serveCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronizer and the local view API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			log := logging.Component("serve")

			syn, err := newSynchronizer(cfg, !cfg.Sync.AutoStart)
			if err != nil {
				return fmt.Errorf("failed to create synchronizer: %w", err)
			}
			defer syn.Stop()

			log.WithFields(map[string]interface{}{
				"proxy":    cfg.Proxy.BaseURL,
				"interval": cfg.Sync.PollInterval,
				"polling":  cfg.Sync.AutoStart,
			}).Info("synchronizer ready")

			server := api.New(api.Config{
				Host:         cfg.Server.Host,
				Port:         cfg.Server.Port,
				Synchronizer: syn,
			})

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			fmt.Printf("🌐 BizGenie is running at http://%s\n", cfg.Addr())

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			fmt.Println("\n🛑 Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

// =============================================================================
// chat
// =============================================================================

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with your assistant from the terminal",
		Long: `Starts an interactive chat. Replies that arrive later through the
update poll are printed as they come in.

Type /quit to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			syn, err := newSynchronizer(cfg, false)
			if err != nil {
				return err
			}
			defer syn.Stop()

			printer := newTranscriptPrinter(os.Stdout)
			printer.print(syn.Snapshot())
			unsub := syn.Store().Subscribe(printer.print)
			defer unsub()

			ctx, stop := signalContext()
			defer stop()

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				if interactive {
					fmt.Print("> ")
				}
				select {
				case <-ctx.Done():
					fmt.Println()
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					line = strings.TrimSpace(line)
					if line == "" {
						continue
					}
					if line == "/quit" || line == "/exit" {
						return nil
					}
					if _, err := syn.SendChatMessage(ctx, line); err != nil && !errors.Is(err, core.ErrEmptyMessage) {
						fmt.Fprintf(os.Stderr, "error: %v\n", err)
					}
				}
			}
		},
	}
}

// transcriptPrinter prints chat messages that have not been printed yet,
// skipping the user's own lines.
type transcriptPrinter struct {
	mu      sync.Mutex
	out     *os.File
	printed map[core.ID]bool
}

func newTranscriptPrinter(out *os.File) *transcriptPrinter {
	return &transcriptPrinter{out: out, printed: make(map[core.ID]bool)}
}

func (p *transcriptPrinter) print(snap state.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range snap.Chat {
		if p.printed[msg.ID] {
			continue
		}
		p.printed[msg.ID] = true
		switch {
		case msg.Sender == core.SenderUser:
		case msg.IsError:
			fmt.Fprintf(p.out, "⚠️  %s\n", msg.Text)
		case msg.Sender == core.SenderSystem:
			fmt.Fprintf(p.out, "ℹ️  %s\n", msg.Text)
		default:
			fmt.Fprintf(p.out, "🧞 %s\n", msg.Text)
		}
	}
}

// =============================================================================
// updates
// =============================================================================

func updatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "Poll the proxy once and print the resulting state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			syn, err := newSynchronizer(cfg, true)
			if err != nil {
				return err
			}
			defer syn.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Proxy.Timeout)
			defer cancel()
			if err := syn.PollOnce(ctx); err != nil {
				return fmt.Errorf("poll failed: %w", err)
			}

			return printJSON(syn.Snapshot())
		},
	}
}

// =============================================================================
// upload / download
// =============================================================================

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document to the proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			syn, err := newSynchronizer(cfg, true)
			if err != nil {
				return err
			}
			defer syn.Stop()

			res, err := syn.UploadDocument(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			fmt.Printf("✅ Uploaded %s (%s)\n", res.Name, res.Status)
			if res.Simulated() {
				fmt.Printf("⚠️  %s\n", res.Warning)
			}
			fmt.Printf("   %s\n", res.URL)
			return nil
		},
	}
}

func downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <name> [dest]",
		Short: "Download an uploaded document",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dest := args[0]
			if len(args) == 2 {
				dest = args[1]
			}
			f, err := os.Create(dest)
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := newClient(cfg).Download(cmd.Context(), args[0], f)
			if err != nil {
				_ = os.Remove(dest)
				return err
			}
			fmt.Printf("✅ Saved %s (%d bytes)\n", dest, n)
			return nil
		},
	}
}

// =============================================================================
// config
// =============================================================================

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("⚠️  %s already exists (use --force to overwrite)\n", path)
				return nil
			}
			if err := config.Default().Save(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("✅ Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bizgenie %s\n", version)
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
