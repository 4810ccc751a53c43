package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stemwatch/internal/dirs"
	"stemwatch/internal/stream"
	"stemwatch/internal/util"
)

// Setting keys shared by flags, env and the config file.
const (
	KeyBaseURL           = "base_url"
	KeyStreamPath        = "stream_path"
	KeyTransport         = "transport"
	KeyHeartbeatTimeout  = "heartbeat_timeout"
	KeyReconnectDelay    = "reconnect_delay"
	KeyMaxReconnects     = "max_reconnects"
	KeyAutoReconnect     = "auto_reconnect"
	KeyCloseOnTerminal   = "close_on_terminal"
	KeyCloseSentinel     = "close_sentinel"
	KeyCompletedStatuses = "completed_statuses"
	KeyErrorStatuses     = "error_statuses"
	KeyVerbose           = "verbose"
	KeyLogJSON           = "log_json"
	KeyMetricsAddr       = "metrics_addr"
	KeyRequestTimeout    = "request_timeout"
	KeyNoUI              = "no_ui"
	KeyJobs              = "jobs"
)

// Transports understood by Settings.Transport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

const (
	DefaultBaseURL    = "http://localhost:5000"
	DefaultStreamPath = "/mcp/stream/" + util.JobPlaceholder
	DefaultJobs       = 4
)

// flagNames maps setting keys onto the root persistent flags.
var flagNames = map[string]string{
	KeyBaseURL:           "server",
	KeyStreamPath:        "stream-path",
	KeyTransport:         "transport",
	KeyHeartbeatTimeout:  "heartbeat-timeout",
	KeyReconnectDelay:    "reconnect-delay",
	KeyMaxReconnects:     "max-reconnects",
	KeyAutoReconnect:     "auto-reconnect",
	KeyCloseOnTerminal:   "close-on-terminal",
	KeyCloseSentinel:     "close-sentinel",
	KeyCompletedStatuses: "completed-status",
	KeyErrorStatuses:     "error-status",
	KeyVerbose:           "verbose",
	KeyLogJSON:           "log-json",
	KeyMetricsAddr:       "metrics-addr",
	KeyRequestTimeout:    "request-timeout",
	KeyNoUI:              "no-ui",
	KeyJobs:              "jobs",
}

// Settings is the resolved configuration.
type Settings struct {
	BaseURL    string
	StreamPath string
	Transport  string

	HeartbeatTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnects     int
	AutoReconnect     bool
	CloseOnTerminal   bool
	CloseSentinel     string
	CompletedStatuses []string
	ErrorStatuses     []string

	Verbose        bool
	LogJSON        bool
	MetricsAddr    string
	RequestTimeout time.Duration
	NoUI           bool
	Jobs           int
}

// SetDefaults registers default values for every key.
func SetDefaults(v *viper.Viper) {
	def := stream.DefaultConfig()
	v.SetDefault(KeyBaseURL, DefaultBaseURL)
	v.SetDefault(KeyStreamPath, DefaultStreamPath)
	v.SetDefault(KeyTransport, TransportSSE)
	v.SetDefault(KeyHeartbeatTimeout, def.HeartbeatTimeout)
	v.SetDefault(KeyReconnectDelay, def.ReconnectDelay)
	v.SetDefault(KeyMaxReconnects, def.MaxReconnectAttempts)
	v.SetDefault(KeyAutoReconnect, def.AutoReconnect)
	v.SetDefault(KeyCloseOnTerminal, def.CloseOnTerminal)
	v.SetDefault(KeyCloseSentinel, def.CloseSentinel)
	v.SetDefault(KeyCompletedStatuses, def.CompletedStatuses)
	v.SetDefault(KeyErrorStatuses, def.ErrorStatuses)
	v.SetDefault(KeyRequestTimeout, 30*time.Second)
	v.SetDefault(KeyJobs, DefaultJobs)
}

// Init wires Viper with config paths, env, defaults, and flag bindings.
// A missing config file is not an error; a broken one is.
func Init(root *cobra.Command) error {
	return initViper(viper.GetViper(), root)
}

func initViper(v *viper.Viper, root *cobra.Command) error {
	SetDefaults(v)

	if cfgDir, err := dirs.ConfigDir(); err == nil {
		v.AddConfigPath(cfgDir)
	}
	v.SetConfigName("config") // supports config.{yaml|yml|json|toml}

	// Environment variables: STEMWATCH_*
	v.SetEnvPrefix("STEMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if root != nil {
		for key, name := range flagNames {
			if f := root.PersistentFlags().Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "read config file")
		}
	}
	return nil
}

// Load resolves Settings from the global Viper instance.
func Load() (Settings, error) {
	return load(viper.GetViper())
}

func load(v *viper.Viper) (Settings, error) {
	s := Settings{
		BaseURL:           v.GetString(KeyBaseURL),
		StreamPath:        v.GetString(KeyStreamPath),
		Transport:         strings.ToLower(strings.TrimSpace(v.GetString(KeyTransport))),
		HeartbeatTimeout:  v.GetDuration(KeyHeartbeatTimeout),
		ReconnectDelay:    v.GetDuration(KeyReconnectDelay),
		MaxReconnects:     v.GetInt(KeyMaxReconnects),
		AutoReconnect:     v.GetBool(KeyAutoReconnect),
		CloseOnTerminal:   v.GetBool(KeyCloseOnTerminal),
		CloseSentinel:     v.GetString(KeyCloseSentinel),
		CompletedStatuses: v.GetStringSlice(KeyCompletedStatuses),
		ErrorStatuses:     v.GetStringSlice(KeyErrorStatuses),
		Verbose:           v.GetBool(KeyVerbose),
		LogJSON:           v.GetBool(KeyLogJSON),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
		RequestTimeout:    v.GetDuration(KeyRequestTimeout),
		NoUI:              v.GetBool(KeyNoUI),
		Jobs:              v.GetInt(KeyJobs),
	}
	if s.Jobs <= 0 {
		s.Jobs = DefaultJobs
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks values that cannot be caught by flag parsing.
func (s Settings) Validate() error {
	switch s.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return errors.WithHint(
			errors.Newf("invalid transport %q", s.Transport),
			"valid transports: sse, ws",
		)
	}
	if _, err := util.NormalizeBaseURL(s.BaseURL); err != nil {
		return errors.WithHint(err, "use a server address like "+DefaultBaseURL)
	}
	if strings.TrimSpace(s.StreamPath) == "" {
		return errors.New("stream path must not be empty")
	}
	if s.RequestTimeout < 0 {
		return errors.Newf("request timeout must not be negative, got %s", s.RequestTimeout)
	}
	return s.StreamConfig().Validate()
}

// StreamConfig converts the settings into a session configuration.
func (s Settings) StreamConfig() stream.Config {
	return stream.Config{
		HeartbeatTimeout:     s.HeartbeatTimeout,
		ReconnectDelay:       s.ReconnectDelay,
		MaxReconnectAttempts: s.MaxReconnects,
		AutoReconnect:        s.AutoReconnect,
		CloseOnTerminal:      s.CloseOnTerminal,
		CloseSentinel:        s.CloseSentinel,
		CompletedStatuses:    s.CompletedStatuses,
		ErrorStatuses:        s.ErrorStatuses,
	}
}

// Endpoint returns the job id to stream URL mapping for these settings.
// WebSocket settings get ws:// or wss:// addresses.
func (s Settings) Endpoint() (stream.Endpoint, error) {
	base, err := util.NormalizeBaseURL(s.BaseURL)
	if err != nil {
		return nil, err
	}
	if s.Transport == TransportWebSocket {
		if base, err = util.WebSocketURL(base); err != nil {
			return nil, err
		}
	}
	path := s.StreamPath
	return func(jobID string) string {
		return util.JobEndpoint(base, path, jobID)
	}, nil
}

// EndpointFor builds an endpoint that always streams from a server-provided
// URL, resolved against the base. Used after submitting a job, when the
// server says where its stream lives.
func (s Settings) EndpointFor(streamURL string) (stream.Endpoint, error) {
	base, err := util.NormalizeBaseURL(s.BaseURL)
	if err != nil {
		return nil, err
	}
	u, err := util.ResolveURL(base, streamURL)
	if err != nil {
		return nil, err
	}
	if s.Transport == TransportWebSocket {
		if u, err = util.WebSocketURL(u); err != nil {
			return nil, err
		}
	}
	return func(string) string { return u }, nil
}
