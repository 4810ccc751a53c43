package cmd

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"stemwatch/internal/config"
	"stemwatch/internal/dirs"
	"stemwatch/internal/logging"
	"stemwatch/internal/rpc"
	"stemwatch/internal/stream"
)

const (
	ExitOK          = 0
	ExitCLIError    = 1
	ExitUnreachable = 2
	ExitJobFailed   = 3
	ExitStreamLost  = 4
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type ctxKey string

const envKey ctxKey = "env"

// appEnv is what every command needs once flags and config are resolved.
type appEnv struct {
	settings config.Settings
	logger   *zap.SugaredLogger
	metrics  *stream.Metrics
	registry *prometheus.Registry
	tui      bool
}

func envFrom(cmd *cobra.Command) *appEnv {
	if rt, ok := cmd.Context().Value(envKey).(*appEnv); ok {
		return rt
	}
	return &appEnv{logger: logging.Logger}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stemwatch [job-ids...]",
		Short: "Follow audio stem separation jobs as they run",
		Long: "stemwatch connects to a separation server's progress stream and shows how each job " +
			"is doing: progress, completion with the produced stems, or failure. The stream is kept " +
			"alive across dropped connections and silent servers.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: setupRuntime,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default to watching when no subcommand is specified.
			return watchJobs(cmd, args, nil)
		},
	}

	bindPersistentFlags(root.PersistentFlags())
	root.Flags().Bool("tui", false, "Force the terminal UI")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newTuiCmd())
	root.AddCommand(newSeparateCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newCompletionCmd())

	return root
}

func bindPersistentFlags(fs *pflag.FlagSet) {
	def := stream.DefaultConfig()
	fs.String("server", config.DefaultBaseURL, "Separation server base URL")
	fs.String("stream-path", config.DefaultStreamPath, "Stream endpoint path; {job} is replaced by the job id")
	fs.String("transport", config.TransportSSE, "Stream transport: sse, ws")
	fs.Duration("heartbeat-timeout", def.HeartbeatTimeout, "Treat the stream as dead after this long without data (0 disables)")
	fs.Duration("reconnect-delay", def.ReconnectDelay, "Wait between reconnection attempts")
	fs.Int("max-reconnects", def.MaxReconnectAttempts, "Give up after this many failed reconnections in a row")
	fs.Bool("auto-reconnect", def.AutoReconnect, "Reconnect when the stream drops before the job finishes")
	fs.Bool("close-on-terminal", def.CloseOnTerminal, "Disconnect as soon as the job completes or fails")
	fs.String("close-sentinel", def.CloseSentinel, "Message text that marks the end of a stream")
	fs.StringSlice("completed-status", def.CompletedStatuses, "Status values that mean the job completed")
	fs.StringSlice("error-status", def.ErrorStatuses, "Status values that mean the job failed")
	fs.Duration("request-timeout", rpc.DefaultTimeout, "Timeout for status, cleanup and tool calls")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	fs.BoolP("verbose", "v", false, "Enable debug logging")
	fs.Bool("log-json", false, "Log as JSON")
	fs.Bool("no-ui", false, "Disable TUI; use plain textual output")
	fs.Int("jobs", config.DefaultJobs, "Max jobs watched at once")
}

// setupRuntime resolves configuration, logging and metrics for cmd.
func setupRuntime(cmd *cobra.Command, _ []string) error {
	if err := config.Init(cmd.Root()); err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	settings, err := config.Load()
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}

	rt := &appEnv{settings: settings, tui: wantsTUI(cmd, settings)}

	opts := logging.Options{Verbose: settings.Verbose, JSON: settings.LogJSON}
	if rt.tui {
		// The TUI owns the terminal.
		if opts.File, err = dirs.LogFile(); err != nil {
			return &ExitError{Code: ExitCLIError, Err: errors.Wrap(err, "locate log file")}
		}
	}
	if err := logging.Initialize(opts); err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	rt.logger = logging.Logger

	if settings.MetricsAddr != "" {
		rt.registry = prometheus.NewRegistry()
		rt.metrics = stream.NewMetrics(rt.registry)
		serveMetrics(cmd.Context(), settings.MetricsAddr, rt.registry, rt.logger)
	}

	cmd.SetContext(context.WithValue(cmd.Context(), envKey, rt))
	return nil
}

func wantsTUI(cmd *cobra.Command, s config.Settings) bool {
	if cmd.Name() == "tui" {
		return true
	}
	if forced, _ := cmd.Flags().GetBool("tui"); forced {
		return true
	}
	switch cmd.Name() {
	case "watch", "separate", cmd.Root().Name():
		return !s.NoUI && isTerminal()
	}
	return false
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	defer logging.Sync()
	root := newRootCmd()
	return root.ExecuteContext(ctx)
}

// newClient builds the side-channel client for the configured server.
func (rt *appEnv) newClient() (*rpc.Client, error) {
	c, err := rpc.New(rt.settings.BaseURL,
		rpc.WithLogger(rt.logger),
		rpc.WithTimeout(rt.settings.RequestTimeout),
	)
	if err != nil {
		return nil, &ExitError{Code: ExitCLIError, Err: err}
	}
	return c, nil
}

// sessionOptions returns the options every stream session is built with.
func (rt *appEnv) sessionOptions() []stream.Option {
	opts := []stream.Option{
		stream.WithConfig(rt.settings.StreamConfig()),
		stream.WithLogger(rt.logger),
		stream.WithMetrics(rt.metrics),
	}
	if rt.settings.Transport == config.TransportWebSocket {
		opts = append(opts, stream.WithTransport(stream.NewWebSocketTransport(nil, nil, rt.logger)))
	} else {
		opts = append(opts, stream.WithTransport(stream.NewHTTPTransport(stream.WithTransportLogger(rt.logger))))
	}
	return opts
}
