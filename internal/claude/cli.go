package claude

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/stream"
)

const (
	defaultBinary    = "claude"
	maxLineBytes     = 10 * 1024 * 1024
	maxStderrBytes   = 64 * 1024
	eventBuffer      = 16
	processWaitGrace = 5 * time.Second
)

// CLIOptions configures the claude CLI transport.
type CLIOptions struct {
	// Binary is the executable name or path. Defaults to "claude".
	Binary string
	// ExtraArgs are appended after the generated flags.
	ExtraArgs []string
	// Timeout bounds one whole turn sequence. Zero means no limit.
	Timeout time.Duration
	Logger  *logging.Logger
}

// CLI runs `claude -p` with stream-json output and turns each line into
// stream events.
type CLI struct {
	binary    string
	extraArgs []string
	timeout   time.Duration
	logger    *logging.Logger
}

// NewCLI creates a CLI transport.
func NewCLI(opts CLIOptions) *CLI {
	c := &CLI{
		binary:    opts.Binary,
		extraArgs: opts.ExtraArgs,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
	if c.binary == "" {
		c.binary = defaultBinary
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = c.logger.Named("claude-cli")
	return c
}

// Args returns the command line for req, without the binary.
func (c *CLI) Args(req stream.Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.Tools, ","))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	if req.ResumeToken != "" {
		args = append(args, "--resume", req.ResumeToken)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	return append(args, c.extraArgs...)
}

// Query starts the CLI process and returns a stream over its output. The
// process is killed when ctx is canceled or the stream is closed.
func (c *CLI) Query(ctx context.Context, req stream.Request) (stream.Stream, error) {
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(ctx, c.binary, c.Args(req)...)
	cmd.Dir = req.WorkDir
	cmd.WaitDelay = processWaitGrace

	pr, pw := io.Pipe()
	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting %s: %w", c.binary, err)
	}

	c.logger.Debug(ctx, "claude process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("max_turns", req.MaxTurns),
		zap.Bool("resume", req.ResumeToken != ""),
	)

	s := &cliStream{
		events: make(chan stream.Event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		logger: c.logger,
	}

	// Both halves run to completion so trailing events survive a failing
	// exit status.
	var g errgroup.Group
	g.Go(func() error {
		err := s.read(ctx, pr)
		// Unblock the process's stdout copy if we stopped early.
		_ = pr.CloseWithError(io.ErrClosedPipe)
		return err
	})
	g.Go(func() error {
		werr := cmd.Wait()
		_ = pw.Close()
		return c.exitError(ctx, werr, stderr, s)
	})

	go func() {
		s.err = g.Wait()
		close(s.events)
		close(s.done)
		cancel()
	}()

	return s, nil
}

// exitError classifies the process exit.
func (c *CLI) exitError(ctx context.Context, werr error, stderr *tailBuffer, s *cliStream) error {
	if werr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("claude CLI timed out after %v: %w", c.timeout, ctxErr)
		}
		return fmt.Errorf("claude CLI canceled: %w", ctxErr)
	}
	// Hitting the turn cap is reported on the result line; the non-zero
	// exit that may follow is not a fault.
	if s.turnCap.Load() {
		return nil
	}

	msg := stderr.String()
	if isRateLimitMessage(msg) {
		return &RateLimitError{Provider: "claude-cli", RawResponse: truncateString(msg, 500)}
	}
	return fmt.Errorf("claude CLI failed: %w (stderr: %s)", werr, truncateString(strings.TrimSpace(msg), 500))
}

// cliStream delivers decoded events from a running process.
type cliStream struct {
	events  chan stream.Event
	done    chan struct{}
	cancel  context.CancelFunc
	logger  *logging.Logger
	err     error
	turnCap atomic.Bool
}

func (s *cliStream) read(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		evs, err := DecodeLine(line)
		if err != nil {
			// Non-JSON output (warnings, banners) is not part of the stream.
			s.logger.Debug(ctx, "skipping undecodable claude output",
				zap.String("line", truncateString(string(line), 200)),
				zap.Error(err))
			continue
		}
		for _, ev := range evs {
			if t, ok := ev.(stream.Terminal); ok && t.TurnCapReached {
				s.turnCap.Store(true)
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("reading claude output: %w", err)
	}
	return nil
}

// Next returns the next event, or io.EOF once the process has exited
// cleanly and every event was delivered.
func (s *cliStream) Next(ctx context.Context) (stream.Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		<-s.done
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close kills the process if it is still running and waits for cleanup.
func (s *cliStream) Close() error {
	s.cancel()
	for range s.events {
	}
	<-s.done
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
