package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/pyhost/hostfunc"
	log "github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
)

var errInterpreterExited = errors.New("interpreter exited")

// Session is a persistent interpreter. Globals survive between execs. Execs
// and calls on one session run one at a time.
type Session struct {
	exec     *Executor
	lang     Language
	mod      Module
	cfg      sessionConfig
	registry *hostfunc.Registry
	logger   *log.Entry

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	stdout      *sessionOutput
	protocol    *sessionProtocol

	ctx     context.Context
	cancel  context.CancelFunc
	exited  chan struct{}
	exitErr error

	mu      sync.Mutex
	execSem chan struct{}
	closed  bool
}

// NewSession starts an interpreter from mod and waits until its command loop
// is ready.
func (e *Executor) NewSession(lang Language, mod Module, opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.env["PYHOST_SESSION"] = "1"

	s := &Session{
		exec:     e,
		lang:     lang,
		mod:      mod,
		cfg:      cfg,
		registry: e.registry.Clone(),
		logger:   e.logger.WithFields(log.Fields{"language": lang.Name(), "module": mod.Key}),
		exited:   make(chan struct{}),
		execSem:  make(chan struct{}, 1),
	}
	s.registerHostFunctions()

	if err := s.start(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	compiled, err := s.exec.getCompiled(s.ctx, s.mod)
	if err != nil {
		return err
	}

	s.stdinReader, s.stdin = io.Pipe()
	s.stdout = &sessionOutput{}
	s.protocol = newSessionProtocol(s.ctx, s.registry, s.stdin, s.logger)

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(s.stdout).
		WithStderr(s.protocol).
		WithStdin(s.stdinReader).
		WithArgs(s.lang.Args(s.lang.Bootstrap())...).
		WithSysWalltime().
		WithSysNanotime().
		WithName("")

	if len(s.cfg.mounts) > 0 {
		fsConfig := wazero.NewFSConfig()
		for _, m := range s.cfg.mounts {
			if m.readOnly {
				fsConfig = fsConfig.WithReadOnlyDirMount(m.hostDir, m.guestDir)
			} else {
				fsConfig = fsConfig.WithDirMount(m.hostDir, m.guestDir)
			}
		}
		moduleConfig = moduleConfig.WithFSConfig(fsConfig)
	}

	for k, v := range s.cfg.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	go func() {
		mod, err := s.exec.runtime.InstantiateModule(s.ctx, compiled, moduleConfig)
		if mod != nil {
			mod.Close(context.Background())
		}
		var exitErr *sys.ExitError
		if err == nil || (errors.As(err, &exitErr) && exitErr.ExitCode() == 0) {
			err = errInterpreterExited
		}
		s.mu.Lock()
		s.exitErr = err
		s.mu.Unlock()
		close(s.exited)
	}()

	timer := time.NewTimer(s.cfg.startTimeout)
	defer timer.Stop()

	select {
	case <-s.protocol.Ready():
		s.logger.Debug("session ready")
		return nil
	case <-s.exited:
		err := fmt.Errorf("start session: %w", s.exitError())
		if stderr := strings.TrimSpace(s.protocol.Stderr()); stderr != "" {
			err = fmt.Errorf("%w: %s", err, stderr)
		}
		return err
	case <-timer.C:
		return fmt.Errorf("session start timeout after %v", s.cfg.startTimeout)
	}
}

func (s *Session) registerHostFunctions() {
	s.registry.Register("time_now", func(ctx context.Context, args map[string]any) (any, error) {
		return float64(time.Now().UnixNano()) / 1e9, nil
	})

	if len(s.cfg.allowedHosts) > 0 {
		httpHandler := hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts:   s.cfg.allowedHosts,
			MaxURLLength:   s.cfg.httpMaxURLLength,
			MaxBodySize:    s.cfg.httpMaxBodySize,
			RequestTimeout: s.cfg.httpTimeout,
		})
		s.registry.Register("pyfetch", httpHandler.Request)
	}

	for name, fn := range s.cfg.hostFuncs {
		s.registry.Register(name, fn)
	}
}

// Exec runs code in the session's global namespace. Display calls without an
// explicit target go to target; an empty target leaves them unrouted.
func (s *Session) Exec(ctx context.Context, code, target string) Result {
	start := time.Now()
	output, _, err := s.roundTrip(ctx, command{Type: commandExec, Code: code, Target: target})
	return Result{
		Output:   output,
		Error:    err,
		Duration: time.Since(start),
	}
}

// Run is Exec reduced to its error. Interpreter exceptions are *PythonError.
func (s *Session) Run(ctx context.Context, code, target string) error {
	return s.Exec(ctx, code, target).Error
}

func (s *Session) roundTrip(ctx context.Context, cmd command) (string, json.RawMessage, error) {
	select {
	case s.execSem <- struct{}{}:
	case <-ctx.Done():
		return "", nil, fmt.Errorf("%w: %w", ErrSessionBusy, ctx.Err())
	}
	defer func() { <-s.execSem }()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", nil, ErrSessionClosed
	}

	select {
	case <-s.exited:
		return "", nil, s.exitError()
	default:
	}

	start := time.Now()
	if s.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
		defer cancel()
	}

	s.stdout.Reset()
	s.protocol.ResetExec()

	data, err := json.Marshal(cmd)
	if err != nil {
		return "", nil, fmt.Errorf("encode command: %w", err)
	}
	if err := s.protocol.send(data); err != nil {
		return "", nil, fmt.Errorf("write command: %w", err)
	}

	select {
	case <-ctx.Done():
		output := s.output()
		// The interpreter cannot be interrupted mid-command, so the session
		// is no longer usable.
		s.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, nil, fmt.Errorf("timeout after %v: %w", time.Since(start).Round(time.Millisecond), ctx.Err())
		}
		return output, nil, fmt.Errorf("%s canceled: %w", cmd.Type, ctx.Err())
	case <-s.exited:
		return s.output(), nil, s.exitError()
	case outcome := <-s.protocol.Done():
		return s.output(), outcome.result, outcome.err
	}
}

func (s *Session) output() string {
	return s.stdout.String() + s.protocol.Stderr()
}

func (s *Session) exitError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitErr == nil {
		return errInterpreterExited
	}
	return s.exitErr
}

// Close stops the interpreter. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Closing stdin makes the command loop read EOF and return; cancelling
	// the context stops an interpreter that is busy.
	if s.stdinReader != nil {
		s.stdinReader.Close()
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}

	return nil
}

type sessionOutput struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (o *sessionOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(data)
}

func (o *sessionOutput) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *sessionOutput) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf.Reset()
}

// execOutcome is how one command ended: a result payload, an error, or
// neither for a plain exec.
type execOutcome struct {
	result json.RawMessage
	err    error
}

// maxPrefixLen bounds how much trailing output may be an unfinished marker.
var maxPrefixLen = len(protocolResultPrefix)

type sessionProtocol struct {
	ctx         context.Context
	registry    *hostfunc.Registry
	stdinWriter *io.PipeWriter
	logger      *log.Entry

	buf        bytes.Buffer
	realStderr bytes.Buffer
	pending    []callRequest

	readyCh chan struct{}
	doneCh  chan execOutcome
	ready   bool

	mu      sync.Mutex
	writeMu sync.Mutex
}

func newSessionProtocol(ctx context.Context, registry *hostfunc.Registry, stdinWriter *io.PipeWriter, logger *log.Entry) *sessionProtocol {
	return &sessionProtocol{
		ctx:         ctx,
		registry:    registry,
		stdinWriter: stdinWriter,
		logger:      logger,
		readyCh:     make(chan struct{}),
		doneCh:      make(chan execOutcome, 1),
	}
}

// Write receives the interpreter's stderr.
func (p *sessionProtocol) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for p.processNext() {
	}

	return len(data), nil
}

// processNext handles the earliest complete marker in the buffer and
// reports whether there may be more.
func (p *sessionProtocol) processNext() bool {
	content := p.buf.String()
	if content == "" {
		return false
	}

	idx, msgType := findNextMessage(content)
	if msgType == messageNone {
		keep := strings.LastIndex(content, protocolSuffix)
		if keep == -1 || len(content)-keep >= maxPrefixLen {
			keep = len(content)
		}
		p.realStderr.WriteString(content[:keep])
		p.buf.Reset()
		p.buf.WriteString(content[keep:])
		return false
	}

	payload, remaining, ok := extractMessage(content, idx, msgType.prefix())
	p.realStderr.WriteString(content[:idx])
	p.buf.Reset()
	p.buf.WriteString(remaining)
	if !ok {
		return false
	}

	switch msgType {
	case messageReady:
		if !p.ready {
			p.ready = true
			close(p.readyCh)
		}
	case messageDone:
		p.finish(execOutcome{})
	case messageError:
		p.finish(execOutcome{err: &PythonError{Traceback: payload}})
	case messageResult:
		p.finish(execOutcome{result: json.RawMessage(payload)})
	case messageCall:
		p.handleCall(payload)
	case messageFlush:
		p.handleFlush(payload)
	}
	return true
}

func (p *sessionProtocol) finish(o execOutcome) {
	select {
	case p.doneCh <- o:
	default:
	}
}

// handleCall runs a host function. Calls with an id are queued until the
// interpreter flushes them.
func (p *sessionProtocol) handleCall(payload string) {
	var req callRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		go p.respond(callResponse{Error: "invalid call format"})
		return
	}

	if req.ID != "" {
		p.pending = append(p.pending, req)
		return
	}

	// The call runs off the Write path: the interpreter is still inside its
	// stderr write, and p.mu must stay free for Stderr and ResetExec.
	go func() {
		p.respond(p.executeCall(req))
	}()
}

func (p *sessionProtocol) handleFlush(payload string) {
	count := 0
	fmt.Sscanf(payload, "%d", &count)
	if count <= 0 || count > len(p.pending) {
		count = len(p.pending)
	}
	if count == 0 {
		return
	}

	requests := p.pending[:count]
	p.pending = p.pending[count:]

	for _, req := range requests {
		go func(r callRequest) {
			resp := p.executeCall(r)
			resp.ID = r.ID
			p.respond(resp)
		}(req)
	}
}

func (p *sessionProtocol) executeCall(req callRequest) callResponse {
	fn, ok := p.registry.Get(req.Fn)
	if !ok {
		return callResponse{Error: "unknown function: " + req.Fn}
	}

	result, err := fn(p.ctx, req.Args)
	if err != nil {
		p.logger.WithError(err).WithField("fn", req.Fn).Debug("host function failed")
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

func (p *sessionProtocol) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}
	if err := p.send(data); err != nil {
		p.logger.WithError(err).Debug("dropping host call response")
	}
}

// send writes one line to the interpreter's stdin.
func (p *sessionProtocol) send(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.stdinWriter.Write(append(data, '\n'))
	return err
}

func (p *sessionProtocol) Ready() <-chan struct{} {
	return p.readyCh
}

func (p *sessionProtocol) Done() <-chan execOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneCh
}

// ResetExec drops any outcome and stderr left from the previous command.
func (p *sessionProtocol) ResetExec() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.doneCh = make(chan execOutcome, 1)
	p.realStderr.Reset()
}

func (p *sessionProtocol) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realStderr.String()
}
