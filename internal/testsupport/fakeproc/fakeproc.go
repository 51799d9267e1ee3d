// Package fakeproc provides an in-memory stand-in for the external
// transcoder process so supervisor and session behaviour can be tested
// without an ffmpeg install.
package fakeproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"camcast/internal/transcode"
)

// Process records everything written to its stdin and exits on demand. By
// default closing stdin triggers a clean exit, mirroring ffmpeg's behaviour
// on input EOF.
type Process struct {
	mu          sync.Mutex
	chunks      [][]byte
	stdinClosed bool
	exited      bool
	exit        chan error

	writeGate chan struct{}
	blocked   int
	ignoreEOF bool
}

// NewProcess returns a process that is "running" until Exit, Kill, or a
// stdin close.
func NewProcess() *Process {
	return &Process{exit: make(chan error, 1)}
}

// Stdin implements transcode.Process.
func (p *Process) Stdin() io.WriteCloser { return stdinWriter{p} }

// Wait implements transcode.Process, blocking until the process exits.
func (p *Process) Wait() error { return <-p.exit }

// Kill implements transcode.Process; the exit carries no exit code, as with
// a signal-terminated child.
func (p *Process) Kill() error {
	p.finish(errors.New("signal: killed"))
	return nil
}

// Exit terminates the process with the given exit code.
func (p *Process) Exit(code int) {
	if code == 0 {
		p.finish(nil)
		return
	}
	p.finish(exitError{code: code})
}

// Chunks returns the stdin payloads received so far, in write order.
func (p *Process) Chunks() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.chunks))
	copy(out, p.chunks)
	return out
}

// StdinClosed reports whether the supervisor closed the input pipe.
func (p *Process) StdinClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdinClosed
}

// SetIgnoreEOF makes the process keep running after its stdin closes, for
// exercising the forced-kill path.
func (p *Process) SetIgnoreEOF(ignore bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignoreEOF = ignore
}

// BlockWrites makes subsequent stdin writes block until ReleaseWrites is
// called, simulating a full pipe for backpressure tests.
func (p *Process) BlockWrites() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeGate == nil {
		p.writeGate = make(chan struct{})
	}
}

// BlockedWrites returns the number of writers currently held at the gate.
func (p *Process) BlockedWrites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked
}

// ReleaseWrites unblocks writers held by BlockWrites.
func (p *Process) ReleaseWrites() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeGate != nil {
		close(p.writeGate)
		p.writeGate = nil
	}
}

func (p *Process) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	if p.writeGate != nil {
		close(p.writeGate)
		p.writeGate = nil
	}
	p.exit <- err
}

type stdinWriter struct {
	p *Process
}

func (w stdinWriter) Write(chunk []byte) (int, error) {
	w.p.mu.Lock()
	gate := w.p.writeGate
	if gate != nil {
		w.p.blocked++
	}
	w.p.mu.Unlock()
	if gate != nil {
		<-gate
		w.p.mu.Lock()
		w.p.blocked--
		w.p.mu.Unlock()
	}

	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.stdinClosed || w.p.exited {
		return 0, io.ErrClosedPipe
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	w.p.chunks = append(w.p.chunks, buf)
	return len(chunk), nil
}

func (w stdinWriter) Close() error {
	w.p.mu.Lock()
	if w.p.stdinClosed {
		w.p.mu.Unlock()
		return nil
	}
	w.p.stdinClosed = true
	ignore := w.p.ignoreEOF
	w.p.mu.Unlock()
	// ffmpeg drains its input and exits cleanly on EOF.
	if !ignore {
		w.p.finish(nil)
	}
	return nil
}

type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// ExitCode mirrors exec.ExitError so the supervisor can extract the code.
func (e exitError) ExitCode() int { return e.code }

// Launcher hands out fake processes and records launch attempts.
type Launcher struct {
	// Err, when set, makes every launch fail, simulating a missing binary.
	Err error

	mu       sync.Mutex
	launches int
	procs    []*Process
}

// Launch implements transcode.Launcher.
func (l *Launcher) Launch(ctx context.Context, path string, args []string, logger *slog.Logger) (transcode.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.Err != nil {
		return nil, l.Err
	}
	proc := NewProcess()
	l.procs = append(l.procs, proc)
	return proc, nil
}

// Launches returns the number of launch attempts.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Last returns the most recently launched process, or nil.
func (l *Launcher) Last() *Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}
