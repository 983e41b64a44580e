package observability

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level classifies event severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Domain classifies the subsystem an event originated from.
type Domain string

const (
	DomainAuth     Domain = "auth"
	DomainHTTP     Domain = "http"
	DomainDB       Domain = "db"
	DomainBusiness Domain = "business"
	DomainSystem   Domain = "system"
	DomainSecurity Domain = "security"
	DomainAI       Domain = "ai"
	DomainRealtime Domain = "realtime"
)

// Category classifies the operational meaning of an event.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryChange         Category = "change"
	CategoryError          Category = "error"
	CategoryAvailability   Category = "availability"
	CategorySecurity       Category = "security_incident"
	CategoryPerformance    Category = "performance"
)

// Event is one structured observability record.
type Event struct {
	Level     Level          `json:"level"`
	Domain    Domain         `json:"domain"`
	Category  Category       `json:"eventCategory"`
	Name      string         `json:"eventName"`
	UserID    string         `json:"userId,omitempty"`
	Role      string         `json:"role,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Method    string         `json:"method,omitempty"`
	Route     string         `json:"route,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	At        time.Time      `json:"at"`
}

const sinkQueueDepth = 1024

// Sink fans structured events out to four rotated file streams and the
// process logger. Writes are asynchronous and best-effort: a full queue
// drops the event rather than blocking or failing the caller.
type Sink struct {
	logger *slog.Logger

	access       io.WriteCloser
	change       io.WriteCloser
	errors       io.WriteCloser
	availability io.WriteCloser

	queue    chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// SinkConfig locates the stream files. An empty Dir disables file output
// and events go to the process logger only.
type SinkConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	Logger     *slog.Logger
}

// NewSink constructs and starts the sink worker.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	s := &Sink{
		logger: cfg.Logger,
		queue:  make(chan Event, sinkQueueDepth),
		done:   make(chan struct{}),
	}
	if cfg.Dir != "" {
		open := func(name string) io.WriteCloser {
			return &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Dir, name),
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				Compress:   true,
			}
		}
		s.access = open("access.log")
		s.change = open("change.log")
		s.errors = open("error.log")
		s.availability = open("availability.log")
	}
	go s.run()
	return s
}

// Emit enqueues an event. It never blocks and never returns an error;
// the observability layer must not cause business-path failures.
func (s *Sink) Emit(evt Event) {
	if s == nil {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if evt.Level == "" {
		evt.Level = LevelInfo
	}
	select {
	case s.queue <- evt:
	default:
		// Queue saturated; drop rather than stall the caller.
	}
}

// Close drains pending events and closes the stream files.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.queue)
		<-s.done
		for _, w := range []io.WriteCloser{s.access, s.change, s.errors, s.availability} {
			if w != nil {
				_ = w.Close()
			}
		}
	})
}

func (s *Sink) run() {
	defer close(s.done)
	for evt := range s.queue {
		s.write(evt)
	}
}

func (s *Sink) write(evt Event) {
	line, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("observability: encode event", "error", err)
		return
	}
	line = append(line, '\n')
	if w := s.stream(evt); w != nil {
		if _, err := w.Write(line); err != nil {
			s.logger.Error("observability: write stream", "error", err)
		}
	}
	attrs := []any{
		"domain", string(evt.Domain),
		"eventCategory", string(evt.Category),
		"eventName", evt.Name,
	}
	if evt.RequestID != "" {
		attrs = append(attrs, "requestId", evt.RequestID)
	}
	switch evt.Level {
	case LevelError:
		s.logger.Error(evt.Name, attrs...)
	case LevelWarn:
		s.logger.Warn(evt.Name, attrs...)
	default:
		s.logger.Info(evt.Name, attrs...)
	}
}

// stream routes an event to one of the four logical files by domain and
// severity: auth traffic to access, errors to error, system liveness to
// availability, everything else to change.
func (s *Sink) stream(evt Event) io.WriteCloser {
	if evt.Level == LevelError || evt.Category == CategoryError {
		return s.errors
	}
	switch evt.Domain {
	case DomainAuth, DomainHTTP, DomainSecurity:
		return s.access
	case DomainSystem:
		return s.availability
	default:
		return s.change
	}
}
