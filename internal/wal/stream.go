package wal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"walvault/internal/cleanup"
	"walvault/internal/compression"
	"walvault/internal/fs"
	"walvault/internal/logger"
)

// StreamConfig configures continuous WAL streaming via pg_receivewal.
type StreamConfig struct {
	// Connection
	Host     string
	Port     int
	User     string
	Password string

	// SpoolDir is where finished segments land; the spool archiver sweeps
	// them into the store. In-progress files carry a .partial suffix and
	// never parse as segment names, so the sweeper ignores them.
	SpoolDir string

	// Tool is the pg_receivewal path, resolved through the bin dir.
	Tool string

	// Slot is the replication slot to stream from
	Slot       string
	CreateSlot bool

	// Synchronous requests synchronous flush reporting
	Synchronous bool

	// StatusInterval is how often the stream reports its position
	StatusInterval time.Duration

	// CompressionLvl > 0 makes pg_receivewal gzip segments (-Z)
	CompressionLvl int

	// NoLoop exits on disconnect instead of retrying
	NoLoop bool
}

// StreamStatus reports the streamer's view of the world.
type StreamStatus struct {
	Running     bool
	LastSegment SegmentID
	LastArrival time.Time
}

// Streamer keeps a pg_receivewal child running so WAL reaches the spool
// as it is produced, instead of waiting for the engine's archive_command.
type Streamer struct {
	cfg StreamConfig
	log logger.Logger

	mu          sync.RWMutex
	cmd         *cleanup.TrackedCommand
	running     bool
	lastSegment SegmentID
	lastArrival time.Time
}

// NewStreamer creates a streamer. Defaults: port 5432, 10s status interval.
func NewStreamer(cfg StreamConfig, log logger.Logger) *Streamer {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 10 * time.Second
	}
	if cfg.Tool == "" {
		cfg.Tool = "pg_receivewal"
	}
	return &Streamer{cfg: cfg, log: log}
}

// Start launches pg_receivewal registered with the shutdown handler, so
// the child dies with the daemon.
func (s *Streamer) Start(ctx context.Context, h *cleanup.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("streaming already running")
	}

	if err := fs.MkdirAll(s.cfg.SpoolDir, 0700); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	args := s.buildArgs()
	s.log.Info("Starting WAL streaming",
		"host", s.cfg.Host,
		"slot", s.cfg.Slot,
		"spool", s.cfg.SpoolDir)

	cmd := cleanup.NewTrackedCommand(ctx, s.log, s.cfg.Tool, args...)
	if s.cfg.Password != "" {
		cmd.Env = append(cmd.Env, "PGPASSWORD="+s.cfg.Password)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.StartWithCleanup(h); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.Tool, err)
	}

	s.cmd = cmd
	s.running = true

	go s.monitor(stderr)
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.log.Error("WAL streamer exited with error", "error", err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return nil
}

// buildArgs constructs pg_receivewal arguments
func (s *Streamer) buildArgs() []string {
	args := []string{
		"-h", s.cfg.Host,
		"-p", strconv.Itoa(s.cfg.Port),
		"-U", s.cfg.User,
		"-D", s.cfg.SpoolDir,
	}

	if s.cfg.Slot != "" {
		args = append(args, "-S", s.cfg.Slot)
		if s.cfg.CreateSlot {
			args = append(args, "--create-slot", "--if-not-exists")
		}
	}

	if s.cfg.CompressionLvl > 0 {
		args = append(args, "-Z", strconv.Itoa(s.cfg.CompressionLvl))
	}

	if s.cfg.Synchronous {
		args = append(args, "--synchronous")
	}

	args = append(args, "-s", strconv.Itoa(int(s.cfg.StatusInterval.Seconds())))

	if s.cfg.NoLoop {
		args = append(args, "-n")
	}

	// Verbose output is what the monitor parses
	args = append(args, "-v")

	return args
}

// monitor reads pg_receivewal output and tracks finished segments.
func (s *Streamer) monitor(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		s.log.Debug("WAL streamer output", "line", line)

		if id, ok := segmentFromLine(line); ok {
			s.mu.Lock()
			s.lastSegment = id
			s.lastArrival = time.Now()
			s.mu.Unlock()
			s.log.Info("Segment streamed", "segment", id.String())
		}
	}
}

// segmentFromLine scans a tool output line for a segment file name. Only
// full-width names count; short hex words in tool messages must not look
// like segments.
func segmentFromLine(line string) (SegmentID, bool) {
	for _, field := range splitFields(line) {
		base := compression.StripExtension(field)
		if len(base) != 16 || !isHexString(base) {
			continue
		}
		id, err := ParseSegmentID(base)
		if err != nil {
			continue
		}
		return id, true
	}
	return SegmentNone, false
}

// splitFields breaks a log line on spaces, commas and quotes so segment
// names embedded in tool messages still parse.
func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		sep := r == ' ' || r == '\t' || r == ',' || r == '"' || r == '\''
		if sep {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}

// Stop kills the streamer if it is running.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cmd == nil {
		return nil
	}

	if err := s.cmd.Kill(); err != nil {
		return err
	}
	s.running = false
	s.log.Info("WAL streaming stopped")
	return nil
}

// Status returns the streamer's current state.
func (s *Streamer) Status() StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StreamStatus{
		Running:     s.running,
		LastSegment: s.lastSegment,
		LastArrival: s.lastArrival,
	}
}
