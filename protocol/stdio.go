package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// StdIO implements a standard input/output transport layer for MCP communication using
// JSON-RPC message encoding over stdin/stdout or similar io.Reader/io.Writer pairs. It
// provides a single persistent session identified as "1" and handles bidirectional message
// passing through internal channels, processing messages sequentially.
//
// The transport layer maintains internal state through its embedded stdIOSession and can
// be used as either ServerTransport or ClientTransport. Proper initialization requires
// using the NewStdIO constructor function to create new instances.
//
// StdIO has no Close method: resources are released by calling Stop on the session that
// Sessions yields, after which Shutdown returns once the Sessions iterator has finished.
type StdIO struct {
	sess   stdIOSession
	closed chan struct{}
}

type stdIOSession struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMessages chan stdIOMessage
	done          chan struct{}
	readClosed    chan struct{}
	writeClosed   chan struct{}
}

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
// The instance is initialized with default logging and required internal communication
// channels.
func NewStdIO(reader io.Reader, writer io.Writer) StdIO {
	return StdIO{
		sess: stdIOSession{
			reader:        reader,
			writer:        writer,
			logger:        slog.Default(),
			writeMessages: make(chan stdIOMessage),
			done:          make(chan struct{}),
			readClosed:    make(chan struct{}),
			writeClosed:   make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
}

// Sessions implements the ServerTransport interface by providing an iterator that yields
// a single persistent session. This session remains active throughout the lifetime of
// the StdIO instance.
func (s StdIO) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		go s.sess.processWriteMessages()

		// StdIO only supports a single session, so we yield it and wait until it's done.
		yield(s.sess)
		<-s.sess.done
	}
}

// Shutdown implements the ServerTransport interface by closing the session.
func (s StdIO) Shutdown(ctx context.Context) error {
	// Wait for Sessions loop to breaks.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// StartSession implements the ClientTransport interface by initializing a new session
// and returning an iterator for receiving server messages. The ready channel is closed
// immediately since a stdio pipe is usable as soon as the write loop is running.
func (s StdIO) StartSession(_ context.Context, ready chan<- error) (iter.Seq[JSONRPCMessage], error) {
	go s.sess.processWriteMessages()
	close(ready)
	return s.sess.Messages(), nil
}

// Send implements the ClientTransport interface by writing msg to the underlying writer.
func (s StdIO) Send(ctx context.Context, msg JSONRPCMessage) error {
	return s.sess.Send(ctx, msg)
}

func (s stdIOSession) ID() string {
	return "1"
}

func (s stdIOSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	ioMsg := stdIOMessage{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	// Queue the message for sending to avoid race in the StdIO library.
	select {
	case <-ctx.Done():
		s.logger.Error("failed to feed writeMessages channel", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while feeding writeMessages channel", slog.String("message", string(msgBs)))
		return nil
	case s.writeMessages <- ioMsg:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.Error("get error result from write", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		s.logger.Error("failed to wait for write result", slog.String("err", ctx.Err().Error()))
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result", slog.String("message", string(msgBs)))
		return nil
	}
}

func (s stdIOSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		defer close(s.readClosed)

		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			type lineWithErr struct {
				line string
				err  error
			}

			lines := make(chan lineWithErr)

			// We use goroutines to avoid blocking on slow readers, so we can listen
			// to done channel and return if needed.
			go func() {
				line, err := reader.ReadString('\n')
				if err != nil {
					select {
					case lines <- lineWithErr{err: err}:
					default:
					}
					return
				}
				select {
				case lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}:
				default:
				}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			if lwe.err != nil {
				if errors.Is(lwe.err, io.EOF) {
					return
				}
				s.logger.Error("failed to read message", "err", lwe.err)
				return
			}

			if lwe.line == "" {
				continue
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(lwe.line), &msg); err != nil {
				s.logger.Error("failed to unmarshal message", "err", err)
				continue
			}

			// We stop iteration if yield returns false
			if !yield(msg) {
				return
			}
		}
	}
}

func (s stdIOSession) Stop() {
	close(s.done)
	<-s.readClosed
	<-s.writeClosed
}

func (s stdIOSession) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		// Process writing the message queue until the session is closed.
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}

// StdIOProcessConfig describes how to launch a server as a local subprocess communicating
// over its stdin/stdout.
type StdIOProcessConfig struct {
	// Command is the executable to run, resolved via PATH unless it contains a path separator.
	Command string
	// Args are passed to the command verbatim.
	Args []string
	// Env holds additional environment variables, merged on top of the parent process's
	// environment. A PATH entry here is appended to, rather than replacing, the inherited PATH.
	Env map[string]string
	// Dir is the working directory for the child process. Defaults to the current
	// directory when empty.
	Dir string
}

// StdIOProcess is a ClientTransport that launches a server as a child process and speaks
// newline-delimited JSON-RPC over its stdin/stdout, mirroring StdIO's framing.
//
// The child's environment is the union of the parent process's environment and cfg.Env,
// with PATH extended by "<dir>/node_modules/.bin" so locally-installed launchers (npx-style
// shims) resolve without requiring a global install.
type StdIOProcess struct {
	cfg StdIOProcessConfig

	logger *slog.Logger
	sess   *stdIOSession
}

// NewStdIOProcess creates a StdIOProcess transport from the given configuration.
func NewStdIOProcess(cfg StdIOProcessConfig) *StdIOProcess {
	return &StdIOProcess{cfg: cfg, logger: slog.Default()}
}

// StartSession resolves the working directory, synthesizes the child's environment, starts
// the subprocess, and returns an iterator over the messages it writes to stdout. The ready
// channel is closed as soon as the process has started; a start failure is reported as an
// error on the channel before it is closed.
func (p *StdIOProcess) StartSession(ctx context.Context, ready chan<- error) (iter.Seq[JSONRPCMessage], error) {
	dir := p.cfg.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			ready <- fmt.Errorf("failed to resolve working directory: %w", err)
			close(ready)
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		dir = wd
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	cmd.Dir = dir
	cmd.Env = mergeProcessEnv(dir, p.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		ready <- fmt.Errorf("failed to open stdin pipe: %w", err)
		close(ready)
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		ready <- fmt.Errorf("failed to open stdout pipe: %w", err)
		close(ready)
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		ready <- fmt.Errorf("failed to start command: %w", err)
		close(ready)
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	sess := stdIOSession{
		reader:        stdout,
		writer:        stdin,
		logger:        p.logger,
		writeMessages: make(chan stdIOMessage),
		done:          make(chan struct{}),
		readClosed:    make(chan struct{}),
		writeClosed:   make(chan struct{}),
	}

	go sess.processWriteMessages()
	p.sess = &sess
	close(ready)

	go func() {
		<-sess.done
		_ = stdin.Close()
		_ = cmd.Wait()
	}()

	return sess.Messages(), nil
}

// Send implements the ClientTransport interface by writing msg to the subprocess's stdin.
// StartSession must have completed successfully before Send is called.
func (p *StdIOProcess) Send(ctx context.Context, msg JSONRPCMessage) error {
	if p.sess == nil {
		return fmt.Errorf("stdio process not started")
	}
	return p.sess.Send(ctx, msg)
}

// mergeProcessEnv unions the parent process environment with cfg, prefixing PATH with a
// local node_modules/.bin directory so locally-installed launchers resolve without a global
// install, matching how npx-style tool shims are typically invoked.
func mergeProcessEnv(dir string, cfgEnv map[string]string) []string {
	merged := make(map[string]string, len(cfgEnv)+16)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range cfgEnv {
		if inherited, ok := merged["PATH"]; ok && k == "PATH" {
			v = inherited + string(os.PathListSeparator) + v
		}
		merged[k] = v
	}

	localBin := filepath.Join(dir, "node_modules", ".bin")
	if path, ok := merged["PATH"]; ok {
		merged["PATH"] = localBin + string(os.PathListSeparator) + path
	} else {
		merged["PATH"] = localBin
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}
