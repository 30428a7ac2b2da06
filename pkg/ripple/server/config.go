package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/ripple/pkg/ripple"
	"github.com/yourusername/ripple/pkg/ripple/clock"
	"github.com/yourusername/ripple/pkg/ripple/http11"
	"github.com/yourusername/ripple/pkg/ripple/socket"
	"github.com/yourusername/ripple/pkg/ripple/transport"
)

// ErrNoDispatcher is returned by NewServer when Config.Dispatcher is nil.
var ErrNoDispatcher = errors.New("server: dispatcher is required")

// Config holds server configuration
type Config struct {
	// Addr is the TCP address to listen on (e.g., ":8080")
	// Default: ":8080"
	Addr string

	// Dispatcher answers every decoded request. Required.
	Dispatcher http11.Dispatcher

	// Backend is handed to the dispatcher through WorkerState.Backend,
	// typically a database client pool. Optional.
	Backend any

	// TransportMode selects the I/O backend: "readiness" or "completion".
	// Default: "readiness"
	TransportMode string

	// RingEntries bounds the I/O operations in flight in completion mode.
	// Default: transport.DefaultRingEntries
	RingEntries int

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alive is enabled
	// Default: 120 seconds
	IdleTimeout time.Duration

	// MaxKeepAliveRequests is the maximum number of requests per connection
	// 0 means unlimited
	// Default: 0 (unlimited)
	MaxKeepAliveRequests int

	// MaxRequestBodySize is the maximum size of a request body
	// Default: 10 MB
	MaxRequestBodySize int64

	// MaxConcurrentConnections is the maximum number of concurrent connections
	// 0 means unlimited
	// Default: 0 (unlimited)
	MaxConcurrentConnections int

	// ClockResolution is the refresh period of the Date header clock
	// Default: clock.DefaultResolution
	ClockResolution time.Duration

	// AllocationMode specifies the read buffer allocation strategy
	// Options: "standard" (default), "pooled"
	AllocationMode string

	// PerCPUPools spreads pooled codec contexts over one pool per P.
	// It is process-wide and applied by NewServer.
	PerCPUPools bool

	// WarmupContexts pre-allocates codec contexts (and, with the pooled
	// allocator, read buffers) before the first connection.
	WarmupContexts int

	// Socket tunes accepted connections and the listener.
	// Default: socket.DefaultConfig()
	Socket *socket.Config

	// ShutdownTimeout bounds the graceful shutdown performed by Run
	// Default: 10 seconds
	ShutdownTimeout time.Duration

	// ErrorPolicy resolves dispatcher failures
	// Default: http11.InternalServerError
	ErrorPolicy http11.ErrorPolicy

	// DisableErrorResponses suppresses the 4xx response sent before a
	// connection is closed for a malformed request
	DisableErrorResponses bool

	// Logger receives server and connection logs. Default: slog.Default()
	Logger *slog.Logger

	// LogLevel is adjusted by Reload when the configuration file changes.
	// It should be the level of Logger's handler. Optional.
	LogLevel *slog.LevelVar

	// Registerer receives the server metrics. nil disables metrics.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:                     ":8080",
		TransportMode:            string(transport.ModeReadiness),
		RingEntries:              transport.DefaultRingEntries,
		IdleTimeout:              120 * time.Second,
		MaxKeepAliveRequests:     0, // Unlimited
		MaxRequestBodySize:       http11.DefaultMaxBodySize,
		MaxConcurrentConnections: 0, // Unlimited
		ClockResolution:          clock.DefaultResolution,
		AllocationMode:           ripple.AllocationStandard,
		Socket:                   socket.DefaultConfig(),
		ShutdownTimeout:          10 * time.Second,
	}
}

// Duration is a time.Duration that reads from JSON as either a Go duration
// string ("90s") or a number of nanoseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("server: invalid duration %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("server: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// FileConfig is the on-disk JSON configuration. Zero fields keep the value
// already present in the Config it is applied to.
type FileConfig struct {
	Addr                     string         `json:"addr"`
	MetricsAddr              string         `json:"metrics_addr"`
	LogLevel                 string         `json:"log_level"`
	TransportMode            string         `json:"transport_mode"`
	RingEntries              int            `json:"ring_entries"`
	IdleTimeout              Duration       `json:"idle_timeout"`
	MaxKeepAliveRequests     int            `json:"max_keepalive_requests"`
	MaxRequestBodySize       int64          `json:"max_request_body_size"`
	MaxConcurrentConnections int            `json:"max_concurrent_connections"`
	ClockResolution          Duration       `json:"clock_resolution"`
	AllocationMode           string         `json:"allocation_mode"`
	PerCPUPools              bool           `json:"per_cpu_pools"`
	WarmupContexts           int            `json:"warmup_contexts"`
	ShutdownTimeout          Duration       `json:"shutdown_timeout"`
	DisableErrorResponses    bool           `json:"disable_error_responses"`
	Socket                   *socket.Config `json:"socket"`
}

// LoadConfig reads and validates a JSON configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("server: open config: %w", err)
	}
	defer f.Close()

	var fc FileConfig
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("server: decode %s: %w", path, err)
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	if _, err := transport.ParseMode(fc.TransportMode); err != nil {
		return err
	}
	if _, err := ripple.NewAllocator(fc.AllocationMode); err != nil {
		return err
	}
	if fc.LogLevel != "" {
		if _, err := ParseLevel(fc.LogLevel); err != nil {
			return err
		}
	}
	if fc.RingEntries < 0 || fc.MaxKeepAliveRequests < 0 || fc.MaxConcurrentConnections < 0 || fc.MaxRequestBodySize < 0 || fc.WarmupContexts < 0 {
		return errors.New("server: negative limit in config")
	}
	return nil
}

// Apply overlays the non-zero fields of fc onto cfg.
func (fc *FileConfig) Apply(cfg *Config) {
	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.TransportMode != "" {
		cfg.TransportMode = fc.TransportMode
	}
	if fc.RingEntries > 0 {
		cfg.RingEntries = fc.RingEntries
	}
	if fc.IdleTimeout > 0 {
		cfg.IdleTimeout = time.Duration(fc.IdleTimeout)
	}
	if fc.MaxKeepAliveRequests > 0 {
		cfg.MaxKeepAliveRequests = fc.MaxKeepAliveRequests
	}
	if fc.MaxRequestBodySize > 0 {
		cfg.MaxRequestBodySize = fc.MaxRequestBodySize
	}
	if fc.MaxConcurrentConnections > 0 {
		cfg.MaxConcurrentConnections = fc.MaxConcurrentConnections
	}
	if fc.ClockResolution > 0 {
		cfg.ClockResolution = time.Duration(fc.ClockResolution)
	}
	if fc.AllocationMode != "" {
		cfg.AllocationMode = fc.AllocationMode
	}
	if fc.PerCPUPools {
		cfg.PerCPUPools = true
	}
	if fc.WarmupContexts > 0 {
		cfg.WarmupContexts = fc.WarmupContexts
	}
	if fc.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = time.Duration(fc.ShutdownTimeout)
	}
	if fc.DisableErrorResponses {
		cfg.DisableErrorResponses = true
	}
	if fc.Socket != nil {
		cfg.Socket = fc.Socket
	}
	if fc.LogLevel != "" && cfg.LogLevel != nil {
		if level, err := ParseLevel(fc.LogLevel); err == nil {
			cfg.LogLevel.Set(level)
		}
	}
}

// ParseLevel parses "debug", "info", "warn" or "error" (with optional
// offsets such as "info+2").
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("server: %w", err)
	}
	return level, nil
}

// ConfigWatcher re-reads a configuration file whenever it changes.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewConfigWatcher starts watching path. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func NewConfigWatcher(path string, logger *slog.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: watch config: %w", err)
	}
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("server: watch config: %w", err)
	}
	return &ConfigWatcher{path: path, watcher: w, logger: logger}, nil
}

// Run calls fn with every successfully loaded revision of the file until ctx
// is done. Invalid revisions are logged and skipped.
func (cw *ConfigWatcher) Run(ctx context.Context, fn func(*FileConfig)) error {
	defer cw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fc, err := LoadConfig(cw.path)
			if err != nil {
				cw.logger.Warn("config reload failed", "path", cw.path, "error", err)
				continue
			}
			cw.logger.Info("config reloaded", "path", cw.path)
			fn(fc)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher without waiting for Run.
func (cw *ConfigWatcher) Close() error {
	return cw.watcher.Close()
}
