// Package player models the viewer-side playback state machine: engine
// selection by capability, the readiness gate before playback starts, and
// manual rendition switching against the rendition ladder. The web client
// mirrors these transitions; keeping the model here lets the rules be tested
// without a browser.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"camcast/internal/hls"
)

// Engine identifies which playback path a client uses.
type Engine int

const (
	// EngineNone means the client cannot play the stream at all.
	EngineNone Engine = iota
	// EngineAdaptive is a media-source engine that consumes the master
	// playlist and switches renditions itself.
	EngineAdaptive
	// EngineNativeHLS is built-in HLS support fed the playlist URL directly.
	EngineNativeHLS
	// EngineDirect is a plain progressive stream with no rendition control.
	EngineDirect
)

func (e Engine) String() string {
	switch e {
	case EngineAdaptive:
		return "adaptive"
	case EngineNativeHLS:
		return "native-hls"
	case EngineDirect:
		return "direct"
	default:
		return "none"
	}
}

// Capabilities is what the client environment supports.
type Capabilities struct {
	Adaptive  bool
	NativeHLS bool
	Direct    bool
}

// Select picks the best available engine, preferring adaptive playback over
// native HLS over a direct stream.
func (c Capabilities) Select() Engine {
	switch {
	case c.Adaptive:
		return EngineAdaptive
	case c.NativeHLS:
		return EngineNativeHLS
	case c.Direct:
		return EngineDirect
	default:
		return EngineNone
	}
}

// State enumerates the playback lifecycle. Errored is terminal.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StatePlaying
	StateSwitching
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateSwitching:
		return "switching"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// AutoRendition selects automatic rendition switching.
const AutoRendition = -1

// ErrUnsupported is returned when no playback engine is available.
var ErrUnsupported = errors.New("playback not supported in this environment")

// ErrNotPlaying is returned for operations that require active playback.
var ErrNotPlaying = errors.New("player is not playing")

// Config assembles a Player.
type Config struct {
	Ladder       []hls.Profile
	Capabilities Capabilities
	// ReadyGrace bounds how long Load waits for an explicit readiness
	// signal before assuming the segmenter has produced enough output.
	// Zero selects five seconds.
	ReadyGrace time.Duration
}

const defaultReadyGrace = 5 * time.Second

// Player tracks one viewer's playback session.
type Player struct {
	ladder     []hls.Profile
	engine     Engine
	readyGrace time.Duration

	mu        sync.Mutex
	state     State
	rendition int
	ready     chan struct{}
	readyOnce sync.Once
	lastErr   error
}

// New probes capabilities and returns a player in the uninitialized state. A
// client with no playback path gets ErrUnsupported and a player already in
// the terminal errored state, so callers can still render the failure.
func New(cfg Config) (*Player, error) {
	ladder := cfg.Ladder
	if len(ladder) == 0 {
		ladder = hls.DefaultLadder()
	}
	grace := cfg.ReadyGrace
	if grace <= 0 {
		grace = defaultReadyGrace
	}
	p := &Player{
		ladder:     ladder,
		engine:     cfg.Capabilities.Select(),
		readyGrace: grace,
		state:      StateUninitialized,
		rendition:  AutoRendition,
		ready:      make(chan struct{}),
	}
	if p.engine == EngineNone {
		p.state = StateErrored
		p.lastErr = ErrUnsupported
		return p, ErrUnsupported
	}
	return p, nil
}

// Engine reports the selected playback engine.
func (p *Player) Engine() Engine { return p.engine }

// State reports the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Rendition reports the selected ladder index, or AutoRendition.
func (p *Player) Rendition() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendition
}

// Err returns the error that moved the player to the errored state, if any.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// SignalReady tells a loading player that the stream has playable output.
// Calling it more than once is harmless.
func (p *Player) SignalReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// Load moves the player into loading and blocks until the stream is ready,
// the grace period elapses, or ctx is cancelled. On success the player is
// playing in automatic rendition selection.
func (p *Player) Load(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateErrored {
		err := p.lastErr
		p.mu.Unlock()
		return err
	}
	if p.state != StateUninitialized {
		p.mu.Unlock()
		return fmt.Errorf("load from state %s", p.state)
	}
	p.state = StateLoading
	p.mu.Unlock()

	timer := time.NewTimer(p.readyGrace)
	defer timer.Stop()
	select {
	case <-p.ready:
	case <-timer.C:
		// No readiness signal arrived; the segmenter is assumed live after
		// the grace period.
	case <-ctx.Done():
		p.fail(ctx.Err())
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLoading {
		return fmt.Errorf("load interrupted in state %s", p.state)
	}
	p.state = StatePlaying
	p.rendition = AutoRendition
	return nil
}

// SelectRendition switches playback to the given ladder index, or back to
// automatic selection with AutoRendition. An out-of-range index is rejected
// without disturbing playback. Engines without rendition control only accept
// AutoRendition.
func (p *Player) SelectRendition(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return ErrNotPlaying
	}
	if index != AutoRendition && (index < 0 || index >= len(p.ladder)) {
		return fmt.Errorf("rendition index %d out of range [0,%d)", index, len(p.ladder))
	}
	if index != AutoRendition && p.engine != EngineAdaptive {
		return fmt.Errorf("engine %s cannot switch renditions", p.engine)
	}
	if index == p.rendition {
		return nil
	}
	p.state = StateSwitching
	p.rendition = index
	// The switch itself is instantaneous in the model; the engine resumes
	// playback on the next loaded fragment.
	p.state = StatePlaying
	return nil
}

// HandleError processes a playback error. Non-fatal errors are absorbed and
// playback continues; a fatal error is terminal.
func (p *Player) HandleError(err error, fatal bool) {
	if err == nil {
		return
	}
	if !fatal {
		return
	}
	p.fail(err)
}

func (p *Player) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateErrored {
		return
	}
	p.state = StateErrored
	p.lastErr = err
}

// CurrentProfile returns the profile for a manually selected rendition. The
// second return is false in automatic mode.
func (p *Player) CurrentProfile() (hls.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rendition == AutoRendition || p.rendition >= len(p.ladder) {
		return hls.Profile{}, false
	}
	return p.ladder[p.rendition], true
}
