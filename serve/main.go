// Command azletd is the azlet daemon.
// It listens on a Unix domain socket for completion, hover, status and
// recommendation requests from shell and editor clients, and answers them
// from a long-lived Azure CLI worker.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type options struct {
	verbose     bool
	showVersion bool
	socket      string
	config      string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "azletd",
		Short: "Azure CLI completion daemon",
		Long: `azletd serves Azure CLI completions over a Unix domain socket.

The socket path is taken from --socket, then $AZLET_SOCKET, then
$XDG_RUNTIME_DIR/azlet.sock, then /tmp/azlet-<uid>.sock.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), "azletd", Version)
				return nil
			}
			return run(opts)
		},
	}
	cmd.Flags().BoolVar(&opts.showVersion, "version", false, "print version and exit")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every request and response to stderr")
	cmd.Flags().StringVar(&opts.socket, "socket", "", "socket path")
	cmd.Flags().StringVar(&opts.config, "config", "", "config file (default $AZLET_CONFIG_DIR/config.toml)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("azletd failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	socketPath := opts.socket
	if socketPath == "" {
		socketPath = resolveSocketPath()
	}

	slog.Info("starting", "socket", socketPath, "version", Version)

	srv, err := NewServer(socketPath, opts.config)
	if err != nil {
		return err
	}
	defer srv.Close()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
	}()

	slog.Info("ready")
	return srv.Serve()
}

func resolveSocketPath() string {
	if path := os.Getenv("AZLET_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/azlet.sock"
	}
	return fmt.Sprintf("/tmp/azlet-%d.sock", os.Getuid())
}
