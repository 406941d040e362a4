// Package config loads the YAML settings of the server and worker processes.
//
// Loading starts from defaults, overlays the file when it exists, then
// validates. Durations are Go duration strings ("15s", "720h").
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/workhours"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, text, json
}

// Server is the server process configuration.
type Server struct {
	DataDir      string        `yaml:"data_dir"`
	HTTPAddr     string        `yaml:"http_addr"`
	GRPCAddr     string        `yaml:"grpc_addr"`
	Liveness     time.Duration `yaml:"liveness"`
	CompactEvery int           `yaml:"compact_every"`
	FFprobePath  string        `yaml:"ffprobe_path"`

	Scan struct {
		Schedule    string `yaml:"schedule"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"scan"`

	Archive struct {
		Schedule string        `yaml:"schedule"`
		MaxAge   time.Duration `yaml:"max_age"`
		Keep     int           `yaml:"keep"`
	} `yaml:"archive"`

	Log Log `yaml:"log"`
}

// Worker is the worker process configuration.
type Worker struct {
	ServerAddr        string             `yaml:"server_addr"`
	WorkerID          string             `yaml:"worker_id"`
	Name              string             `yaml:"name"`
	CacheDir          string             `yaml:"cache_dir"`
	HandBrakePath     string             `yaml:"handbrake_path"`
	FFprobePath       string             `yaml:"ffprobe_path"`
	PollInterval      time.Duration      `yaml:"poll_interval"`
	HeartbeatInterval time.Duration      `yaml:"heartbeat_interval"`
	CancelPoll        time.Duration      `yaml:"cancel_poll_interval"`
	WorkHours         []types.WorkWindow `yaml:"work_hours"`

	Log Log `yaml:"log"`
}

// File is the on-disk layout: one file may carry both sections.
type File struct {
	Server Server `yaml:"server"`
	Worker Worker `yaml:"worker"`
}

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid config")
)

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	var s Server
	s.DataDir = "data"
	s.HTTPAddr = ":8856"
	s.GRPCAddr = ":8857"
	s.Liveness = 60 * time.Second
	s.CompactEvery = 500
	s.Scan.Concurrency = 4
	s.Archive.MaxAge = 720 * time.Hour
	s.Archive.Keep = 100
	s.Log = Log{Level: "info", Format: "auto"}
	return s
}

// DefaultWorker returns the worker defaults. The id is derived from the host name.
func DefaultWorker() Worker {
	host, _ := os.Hostname()
	return Worker{
		ServerAddr:        "localhost:8857",
		WorkerID:          WorkerIDFor(host),
		Name:              host,
		CacheDir:          "cache",
		PollInterval:      10 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		CancelPoll:        2 * time.Second,
		Log:               Log{Level: "info", Format: "auto"},
	}
}

var unsafeID = regexp.MustCompile(`[^a-z0-9_-]+`)

// WorkerIDFor returns "wrk_" plus the host name lowercased with anything
// outside [a-z0-9_-] replaced by "-".
func WorkerIDFor(host string) string {
	id := strings.Trim(unsafeID.ReplaceAllString(strings.ToLower(host), "-"), "-")
	if id == "" {
		id = "local"
	}
	return "wrk_" + id
}

// Load reads both sections from path. A missing file yields the defaults.
func Load(path string) (*File, error) {
	f := &File{Server: DefaultServer(), Worker: DefaultWorker()}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, f); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}
	if err := f.Server.Validate(); err != nil {
		return nil, err
	}
	if err := f.Worker.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadServer loads and validates the server section.
func LoadServer(path string) (*Server, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &f.Server, nil
}

// LoadWorker loads and validates the worker section.
func LoadWorker(path string) (*Worker, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &f.Worker, nil
}

// Validate checks the server settings.
func (s *Server) Validate() error {
	switch {
	case strings.TrimSpace(s.DataDir) == "":
		return fmt.Errorf("%w: server.data_dir is required", ErrInvalid)
	case s.HTTPAddr == "" && s.GRPCAddr == "":
		return fmt.Errorf("%w: server needs http_addr or grpc_addr", ErrInvalid)
	case s.Liveness <= 0:
		return fmt.Errorf("%w: server.liveness must be positive", ErrInvalid)
	case s.CompactEvery < 0:
		return fmt.Errorf("%w: server.compact_every cannot be negative", ErrInvalid)
	case s.Scan.Concurrency < 0:
		return fmt.Errorf("%w: server.scan.concurrency cannot be negative", ErrInvalid)
	case s.Archive.MaxAge < 0 || s.Archive.Keep < 0:
		return fmt.Errorf("%w: server.archive values cannot be negative", ErrInvalid)
	}
	return s.Log.validate("server")
}

// Validate checks the worker settings.
func (w *Worker) Validate() error {
	switch {
	case strings.TrimSpace(w.ServerAddr) == "":
		return fmt.Errorf("%w: worker.server_addr is required", ErrInvalid)
	case strings.TrimSpace(w.WorkerID) == "":
		return fmt.Errorf("%w: worker.worker_id is required", ErrInvalid)
	case strings.TrimSpace(w.CacheDir) == "":
		return fmt.Errorf("%w: worker.cache_dir is required", ErrInvalid)
	case w.PollInterval <= 0 || w.HeartbeatInterval <= 0 || w.CancelPoll <= 0:
		return fmt.Errorf("%w: worker intervals must be positive", ErrInvalid)
	}
	if err := workhours.Validate(w.WorkHours); err != nil {
		return fmt.Errorf("%w: worker.work_hours: %v", ErrInvalid, err)
	}
	return w.Log.validate("worker")
}

func (l Log) validate(section string) error {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %s.log.level %q", ErrInvalid, section, l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: %s.log.format %q", ErrInvalid, section, l.Format)
	}
	return nil
}
