package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// LaunchExec starts the transcoder via os/exec with stdout and stderr
// drained line-by-line into the logger. ffmpeg writes its progress to
// stderr; neither stream is machine-parsed beyond exit detection.
func LaunchExec(ctx context.Context, path string, args []string, logger *slog.Logger) (Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	cmd.Stdout = newLogWriter(logger, "stdout")
	cmd.Stderr = newLogWriter(logger, "stderr")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// logWriter forwards process output to the logger one line at a time,
// discarding blank lines.
type logWriter struct {
	logger *slog.Logger
	stream string
}

func newLogWriter(logger *slog.Logger, stream string) *logWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &logWriter{logger: logger, stream: stream}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		var line []byte
		if idx := bytes.IndexByte(p, '\n'); idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.logger.Debug("transcoder output", "stream", w.stream, "line", string(line))
	}
	return total, nil
}
