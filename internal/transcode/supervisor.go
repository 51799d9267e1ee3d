// Package transcode supervises the external ffmpeg process that turns the
// raw capture stream into an RTMP publish. It owns the process lifecycle
// (spawn, feed stdin, drain output, detect exit) and applies backpressure on
// the input side: the stdin pipe has finite buffering, so chunks queue in a
// bounded channel and whole chunks are shed, with a log line and a metric,
// when the process cannot drain fast enough.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"camcast/internal/observability/metrics"
)

// State models the supervisor lifecycle. The happy path is
// Stopped → Starting → Running → Draining → Stopped; Errored absorbs any
// non-terminal state on unexpected exit and permits no restart.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateDraining
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Start is called on a supervisor that
// already owns a process, alive or exited. A crashed transcoder drops the
// session; it is never respawned in place.
var ErrAlreadyStarted = errors.New("transcoder process already started")

// Process is a started transcoder as seen by the supervisor. The concrete
// implementation wraps os/exec; tests substitute an in-memory fake.
type Process interface {
	Stdin() io.WriteCloser
	Wait() error
	Kill() error
}

// Launcher starts the external transcoder binary. It exists so the
// supervisor state machine can be exercised without an ffmpeg install.
type Launcher func(ctx context.Context, path string, args []string, logger *slog.Logger) (Process, error)

// Config assembles a Supervisor.
type Config struct {
	// FFmpegPath is the executable to spawn; defaults to "ffmpeg" on PATH.
	FFmpegPath string
	// Args is the full argument vector, normally built by Args.
	Args []string
	// QueueDepth bounds the number of chunks buffered ahead of the stdin
	// pipe. Zero selects the default of 64.
	QueueDepth int
	// StopTimeout bounds graceful shutdown before the process is killed.
	StopTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	// Launch defaults to LaunchExec.
	Launch Launcher
	// OnExit is invoked exactly once when the process exits, with the exit
	// code (0 on clean stop, -1 when no code is available) and the error
	// reported by Wait.
	OnExit func(code int, err error)
}

const (
	defaultQueueDepth  = 64
	defaultStopTimeout = 10 * time.Second
)

// Supervisor owns at most one transcoder process. All methods are safe for
// concurrent use, but Write is intended to be called from a single producer
// so that chunk ordering into the stdin pipe matches arrival order.
type Supervisor struct {
	path        string
	args        []string
	queueDepth  int
	stopTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Recorder
	launch      Launcher
	onExit      func(int, error)

	mu     sync.Mutex
	state  State
	proc   Process
	stdin  io.WriteCloser
	queue  chan []byte
	quit   chan struct{}
	done   chan struct{}
	killed bool
}

// New creates a Supervisor in StateStopped.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	launch := cfg.Launch
	if launch == nil {
		launch = LaunchExec
	}
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	return &Supervisor{
		path:        path,
		args:        cfg.Args,
		queueDepth:  depth,
		stopTimeout: timeout,
		logger:      logger,
		metrics:     recorder,
		launch:      launch,
		onExit:      cfg.OnExit,
	}
}

// Start spawns the transcoder. A launch failure indicates environment
// misconfiguration: it is reported, transitions the supervisor to
// StateErrored, and is never retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	proc, err := s.launch(ctx, s.path, s.args, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateErrored
		return fmt.Errorf("launch transcoder: %w", err)
	}
	s.proc = proc
	s.stdin = proc.Stdin()
	s.queue = make(chan []byte, s.queueDepth)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.state = StateRunning
	go s.writeLoop(s.stdin, s.queue, s.quit, s.done)
	go s.waitLoop(proc, s.done)
	s.logger.Info("transcoder started", "path", s.path)
	return nil
}

// Write forwards one chunk toward the process stdin. Calling it while the
// process is not running is a logged no-op: capture data continuing to
// arrive after process death is expected during teardown races. When the
// queue is full the chunk is dropped whole and the drop is logged, never
// silently absorbed and never reordered.
func (s *Supervisor) Write(chunk []byte) {
	s.mu.Lock()
	state := s.state
	queue := s.queue
	s.mu.Unlock()

	if state != StateRunning {
		s.logger.Debug("chunk discarded, transcoder not running", "state", state.String(), "bytes", len(chunk))
		return
	}
	select {
	case queue <- chunk:
	default:
		s.metrics.ObserveDrop()
		s.logger.Warn("chunk dropped under backpressure", "bytes", len(chunk))
	}
}

// Stop requests a graceful shutdown: stop feeding, close stdin, and await
// exit within the configured timeout before killing the process. A forced
// kill after the timeout is recorded as an abnormal stop, not a crash.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped, StateErrored:
		s.mu.Unlock()
		return nil
	case StateStarting:
		s.mu.Unlock()
		return fmt.Errorf("transcoder still starting")
	case StateRunning:
		s.state = StateDraining
		close(s.quit)
	case StateDraining:
	}
	done := s.done
	proc := s.proc
	s.mu.Unlock()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()
	s.logger.Warn("transcoder did not exit in time, killing")
	if err := proc.Kill(); err != nil {
		s.logger.Warn("kill transcoder", "error", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(s.stopTimeout):
		return fmt.Errorf("transcoder did not exit after kill")
	}
}

// State reports the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the process has exited. It returns nil
// before Start succeeds.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// writeLoop is the only writer to the stdin pipe; channel FIFO order keeps
// chunk delivery identical to arrival order.
func (s *Supervisor) writeLoop(stdin io.WriteCloser, queue chan []byte, quit, done chan struct{}) {
	for {
		select {
		case <-quit:
			if err := stdin.Close(); err != nil {
				s.logger.Debug("close transcoder stdin", "error", err)
			}
			return
		case <-done:
			return
		case chunk := <-queue:
			if _, err := stdin.Write(chunk); err != nil {
				s.logger.Warn("transcoder stdin write failed", "error", err)
				return
			}
		}
	}
}

func (s *Supervisor) waitLoop(proc Process, done chan struct{}) {
	err := proc.Wait()
	code := exitCode(err)

	s.mu.Lock()
	draining := s.state == StateDraining
	killed := s.killed
	switch {
	case err == nil:
		s.state = StateStopped
	case draining && killed:
		// Forced termination after a stop request is an abnormal stop
		// event, not a crash.
		s.state = StateStopped
	default:
		s.state = StateErrored
	}
	s.mu.Unlock()
	close(done)

	outcome := "clean"
	switch {
	case killed:
		outcome = "killed"
	case err != nil:
		outcome = "errored"
	}
	s.metrics.ObserveTranscoderExit(outcome)
	if err != nil {
		s.logger.Error("transcoder exited", "code", code, "outcome", outcome, "error", err)
	} else {
		s.logger.Info("transcoder exited", "code", code, "outcome", outcome)
	}
	if s.onExit != nil {
		s.onExit(code, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
