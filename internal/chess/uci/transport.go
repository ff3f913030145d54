package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"
	"sync"

	"github.com/park285/cheese-duel/internal/obslog"
	"go.uber.org/zap"
)

const outboundBacklog = 256

var (
	errTransportClosed  = errors.New("transport closed")
	errTransportBacklog = errors.New("transport backlog full")
)

// Transport carries protocol lines to and from one engine instance.
// Lines is closed when the engine side goes away.
type Transport interface {
	Send(line string) error
	Lines() <-chan string
	Close() error
}

// Dialer turns a Source into a running Transport.
type Dialer interface {
	Dial(ctx context.Context, src Source) (Transport, error)
}

type DefaultDialer struct {
	Fetcher *Fetcher
}

func (d *DefaultDialer) Dial(ctx context.Context, src Source) (Transport, error) {
	switch src.Kind {
	case SourceLocal:
		return startProcess(src.Locator, src.Args)
	case SourceRemote:
		u, err := url.Parse(strings.TrimSpace(src.Locator))
		if err != nil {
			return nil, fmt.Errorf("parse locator: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "ws", "wss":
			return dialWebSocket(ctx, u.String())
		case "http", "https":
			fetcher := d.Fetcher
			if fetcher == nil {
				fetcher = NewFetcher("")
			}
			path, err := fetcher.Fetch(ctx, u.String())
			if err != nil {
				return nil, err
			}
			return startProcess(path, src.Args)
		default:
			return nil, fmt.Errorf("unsupported remote scheme: %q", u.Scheme)
		}
	case SourceBinding:
		return startBinding(src.Locator)
	default:
		return nil, fmt.Errorf("unknown source kind: %q", src.Kind)
	}
}

// lineTransport serialises writes through one goroutine so Send never blocks
// the caller, and fans engine output into the lines channel.
type lineTransport struct {
	out   chan string
	lines chan string
	done  chan struct{}

	closeOnce sync.Once
	closer    func() error
	closeErr  error
}

func newLineTransport(write func(string) error, closer func() error) *lineTransport {
	t := &lineTransport{
		out:    make(chan string, outboundBacklog),
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
		closer: closer,
	}
	go t.writeLoop(write)
	return t
}

func (t *lineTransport) writeLoop(write func(string) error) {
	for {
		select {
		case <-t.done:
			return
		case line := <-t.out:
			if err := write(line); err != nil {
				obslog.L().Debug("engine_write_failed", zap.String("line", line), zap.Error(err))
			}
		}
	}
}

// readFrom scans r until EOF and closes Lines afterwards.
func (t *lineTransport) readFrom(r io.Reader) {
	defer close(t.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if !t.feed(scanner.Text()) {
			return
		}
	}
}

func (t *lineTransport) feed(line string) bool {
	select {
	case t.lines <- strings.TrimRight(line, "\r"):
		return true
	case <-t.done:
		return false
	}
}

func (t *lineTransport) Send(line string) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.out <- line:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errTransportBacklog
	}
}

func (t *lineTransport) Lines() <-chan string { return t.lines }

func (t *lineTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.closer != nil {
			t.closeErr = t.closer()
		}
	})
	return t.closeErr
}

func startProcess(binaryPath string, args []string) (Transport, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, fmt.Errorf("binary path required")
	}
	cmd := exec.Command(binaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	write := func(line string) error {
		_, err := io.WriteString(stdin, line+"\n")
		return err
	}
	closer := func() error {
		stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	}
	t := newLineTransport(write, closer)
	go t.readFrom(stdoutPipe)
	return t, nil
}

func startBinding(name string) (Transport, error) {
	fn, ok := lookupBinding(name)
	if !ok {
		return nil, fmt.Errorf("no engine binding registered as %q", name)
	}
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		err := fn(ctx, cmdR, outW)
		_ = cmdR.Close()
		_ = outW.CloseWithError(err)
	}()

	write := func(line string) error {
		_, err := io.WriteString(cmdW, line+"\n")
		return err
	}
	closer := func() error {
		cancel()
		_ = cmdW.Close()
		return outR.Close()
	}
	t := newLineTransport(write, closer)
	go t.readFrom(outR)
	return t, nil
}
