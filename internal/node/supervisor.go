// ABOUTME: Supervisor owns one node process, its IPC channel, log file and handoff file.
// ABOUTME: Implements start/stop/restart, the channel handshake and read/write with restart-and-retry.

package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/2389/coven-peer/internal/ipc"
	"github.com/2389/coven-peer/internal/nodelog"
	"github.com/2389/coven-peer/internal/peerid"
)

// Defaults for Options.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultMaxRestarts       = 5
	DefaultLogFile           = "libp2p_node.log"
	DefaultEnvFile           = ".env.libp2p"
	DefaultKillTimeout       = 5 * time.Second
)

// SuccessMessagePrefix starts the line logged once the node is up.
const SuccessMessagePrefix = "Peer running in "

// logTailLimit bounds how much of the node log is copied into a failure report.
const logTailLimit = 64 * 1024

var (
	// ErrChannelTimeout is returned when the node does not attach to the IPC
	// channel within the connection timeout.
	ErrChannelTimeout = errors.New("node did not connect within timeout")
	// ErrRestartsExhausted is returned by Restart once MaxRestarts restarts were made.
	ErrRestartsExhausted = errors.New("node restarts exhausted")
	// ErrNodeExited is returned when the node exits during the handshake.
	ErrNodeExited = errors.New("node exited during startup")
	// ErrNotRunning is returned by Read and Write when no node is running.
	ErrNotRunning = errors.New("node not running")
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ChannelFactory creates the IPC channel for one node run.
type ChannelFactory func(kind ipc.Kind, logger *slog.Logger) (ipc.Channel, error)

// Options configures a Supervisor. Start from DefaultOptions; zero-valued
// collaborators are filled in by New.
type Options struct {
	BinaryPath string
	Args       []string
	WorkDir    string
	// DataDir anchors relative LogFile and EnvFile paths.
	DataDir string
	LogFile string
	EnvFile string

	ConnectionTimeout time.Duration
	// MaxRestarts is the number of restarts allowed over the supervisor's
	// lifetime. Zero allows none.
	MaxRestarts int
	KillTimeout time.Duration
	IPC         ipc.Kind

	Launcher   Launcher
	NewChannel ChannelFactory
	Scraper    nodelog.Scraper
	Retry      RetryPolicy
	Logger     *slog.Logger

	// OnStart runs after every successful start with the discovered addresses
	// and the number of restarts completed before this start. It runs under
	// the supervisor lock and must not call back into it.
	OnStart func(addrs []peerid.MultiAddr, restarts int)
}

// DefaultOptions returns Options with the documented defaults.
func DefaultOptions() Options {
	return Options{
		LogFile:           DefaultLogFile,
		EnvFile:           DefaultEnvFile,
		ConnectionTimeout: DefaultConnectionTimeout,
		MaxRestarts:       DefaultMaxRestarts,
		KillTimeout:       DefaultKillTimeout,
		IPC:               ipc.KindTCP,
	}
}

func (o Options) withDefaults() Options {
	if o.LogFile == "" {
		o.LogFile = DefaultLogFile
	}
	if o.EnvFile == "" {
		o.EnvFile = DefaultEnvFile
	}
	if o.DataDir != "" {
		if !filepath.IsAbs(o.LogFile) {
			o.LogFile = filepath.Join(o.DataDir, o.LogFile)
		}
		if !filepath.IsAbs(o.EnvFile) {
			o.EnvFile = filepath.Join(o.DataDir, o.EnvFile)
		}
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = DefaultConnectionTimeout
	}
	if o.MaxRestarts < 0 {
		o.MaxRestarts = 0
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = DefaultKillTimeout
	}
	if o.Launcher == nil {
		o.Launcher = ExecLauncher{}
	}
	if o.NewChannel == nil {
		o.NewChannel = ipc.New
	}
	if o.Scraper == nil {
		o.Scraper = nodelog.LogScraper{}
	}
	if o.Retry == nil {
		o.Retry = OnceRetry{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "node")
	}
	return o
}

// Supervisor runs and watches one node process.
type Supervisor struct {
	opts   Options
	env    EnvConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	restarts int
	proc     Process
	ch       ipc.Channel
	logFile  *os.File
	envDump  string
	addrs    []peerid.MultiAddr
}

// New creates a stopped supervisor.
func New(env EnvConfig, opts Options) (*Supervisor, error) {
	if opts.BinaryPath == "" {
		return nil, errors.New("node binary path is required")
	}
	opts = opts.withDefaults()
	return &Supervisor{
		opts:   opts,
		env:    env,
		logger: opts.Logger,
	}, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RestartCount returns how many restarts have completed.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// MultiAddrs returns the addresses the node announced on its last start.
func (s *Supervisor) MultiAddrs() []peerid.MultiAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]peerid.MultiAddr(nil), s.addrs...)
}

// LogFile returns the resolved node log path.
func (s *Supervisor) LogFile() string { return s.opts.LogFile }

// EnvFile returns the resolved handoff file path.
func (s *Supervisor) EnvFile() string { return s.opts.EnvFile }

// Start launches the node and waits for it to attach to the channel. It is a
// no-op when the node is already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.state == StateRunning {
		return nil
	}
	s.state = StateStarting

	logFile, err := os.OpenFile(s.opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.state = StateStopped
		return fmt.Errorf("opening node log: %w", err)
	}
	s.logFile = logFile

	ch, err := s.opts.NewChannel(s.opts.IPC, s.logger)
	if err != nil {
		_ = s.stopLocked(ctx)
		return fmt.Errorf("creating ipc channel: %w", err)
	}
	s.ch = ch

	env := s.env.Render(ch.InPath(), ch.OutPath())
	if err := writeEnvFile(s.opts.EnvFile, env); err != nil {
		_ = s.stopLocked(ctx)
		return err
	}
	s.envDump = redactEnv(env)

	s.logger.Info("starting peer node", "binary", s.opts.BinaryPath, "env_file", s.opts.EnvFile, "log_file", s.opts.LogFile)
	args := append(append([]string(nil), s.opts.Args...), s.opts.EnvFile)
	proc, err := s.opts.Launcher.Launch(ctx, LaunchSpec{
		Path:   s.opts.BinaryPath,
		Args:   args,
		Dir:    s.opts.WorkDir,
		Output: logFile,
	})
	if err != nil {
		s.reportStartFailure(err)
		_ = s.stopLocked(ctx)
		return fmt.Errorf("launching node: %w", err)
	}
	s.proc = proc
	s.gen++
	go s.watch(proc, s.gen)

	s.logger.Info("connecting to peer node", "pid", proc.Pid(), "timeout", s.opts.ConnectionTimeout)
	if err := s.handshake(ctx, ch, proc); err != nil {
		s.reportStartFailure(err)
		_ = s.stopLocked(ctx)
		return err
	}

	addrs, err := s.discoverAddrs()
	if err != nil {
		s.logger.Warn("could not read node addresses from log", "error", err)
	}
	s.addrs = addrs
	s.state = StateRunning
	s.logger.Info("connected to peer node", "pid", proc.Pid(), "addrs", len(addrs))
	s.logger.Info(s.describeLocked())

	if s.opts.OnStart != nil {
		s.opts.OnStart(append([]peerid.MultiAddr(nil), addrs...), s.restarts)
	}
	return nil
}

// handshake waits for the channel to connect, the node to exit or ctx to end.
func (s *Supervisor) handshake(ctx context.Context, ch ipc.Channel, proc Process) error {
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ok, err := ch.Connect(hctx, s.opts.ConnectionTimeout)
		done <- result{ok, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("connecting to node: %w", r.err)
		}
		if !r.ok {
			return fmt.Errorf("%w (%s)", ErrChannelTimeout, s.opts.ConnectionTimeout)
		}
		return nil
	case <-proc.Exited():
		cancel()
		return fmt.Errorf("%w: %v", ErrNodeExited, proc.Err())
	}
}

// watch logs a node that dies while it is supposed to be running.
func (s *Supervisor) watch(proc Process, gen uint64) {
	<-proc.Exited()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateRunning {
		return
	}
	s.logger.Error("node process exited unexpectedly", "pid", proc.Pid(), "error", proc.Err())
}

func (s *Supervisor) discoverAddrs() ([]peerid.MultiAddr, error) {
	f, err := os.Open(s.opts.LogFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.opts.Scraper.DiscoverAddresses(f)
}

// reportStartFailure logs everything an operator needs to diagnose a node that
// did not come up: the scraped error, the configuration and the log tail.
func (s *Supervisor) reportStartFailure(cause error) {
	var scraped string
	if f, err := os.Open(s.opts.LogFile); err == nil {
		scraped = s.opts.Scraper.ScrapeError(f)
		f.Close()
	}
	s.logger.Error("couldn't connect to peer node", "error", cause, "node_error", scraped)
	s.logger.Error("peer node configuration", "env", s.envDump)

	tail, err := readTail(s.opts.LogFile, logTailLimit)
	if err != nil {
		s.logger.Debug("node log unavailable", "error", err)
		return
	}
	s.logger.Error("peer node log", "log_file", s.opts.LogFile, "log", tail)
}

func readTail(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > limit {
		if _, err := f.Seek(-limit, io.SeekEnd); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	return string(data), err
}

// Stop terminates the node, waits for it to exit and releases every resource.
// Calling Stop with nothing running only logs.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	if s.proc == nil && s.ch == nil && s.logFile == nil {
		s.logger.Debug("stop called with no node running")
		if s.state != StateFailed {
			s.state = StateStopped
		}
		return nil
	}
	failed := s.state == StateFailed
	s.state = StateStopping

	var errs []error
	if s.proc != nil {
		if err := s.terminate(ctx, s.proc); err != nil {
			errs = append(errs, err)
		}
		s.proc = nil
	}
	if s.logFile != nil {
		if err := s.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing node log: %w", err))
		}
		s.logFile = nil
	}
	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			s.logger.Warn("failed to close ipc channel", "error", err)
		}
		s.ch = nil
	}
	if err := os.Remove(s.opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing node environment: %w", err))
	}

	s.state = StateStopped
	if failed {
		s.state = StateFailed
	}
	return errors.Join(errs...)
}

// terminate asks the process to exit and kills it after KillTimeout.
func (s *Supervisor) terminate(ctx context.Context, proc Process) error {
	s.logger.Debug("terminating node process", "pid", proc.Pid())
	if err := proc.Terminate(); err != nil {
		s.logger.Warn("failed to signal node process", "pid", proc.Pid(), "error", err)
	}

	timer := time.NewTimer(s.opts.KillTimeout)
	defer timer.Stop()
	select {
	case <-proc.Exited():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("node process did not exit, killing it", "pid", proc.Pid())
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("killing node process %d: %w", proc.Pid(), err)
	}
	<-proc.Exited()
	return nil
}

// Restart stops and starts the node. Once MaxRestarts restarts have been made
// it fails with ErrRestartsExhausted and the supervisor enters StateFailed.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartLocked(ctx)
}

func (s *Supervisor) restartLocked(ctx context.Context) error {
	if s.restarts >= s.opts.MaxRestarts {
		s.state = StateFailed
		return fmt.Errorf("%w: max restarts (%d) reached", ErrRestartsExhausted, s.opts.MaxRestarts)
	}
	s.logger.Info("restarting peer node", "restart", s.restarts+1, "max_restarts", s.opts.MaxRestarts)
	if err := s.stopLocked(ctx); err != nil {
		s.logger.Warn("node did not stop cleanly", "error", err)
	}
	if err := s.startLocked(ctx); err != nil {
		return err
	}
	s.restarts++
	return nil
}

// channel returns the current channel and its generation.
func (s *Supervisor) channel() (ipc.Channel, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.ch == nil {
		return nil, s.gen, fmt.Errorf("%w (%s)", ErrNotRunning, s.state)
	}
	return s.ch, s.gen, nil
}

// replaced returns the current channel if a restart has moved the supervisor
// past generation gen.
func (s *Supervisor) replaced(gen uint64) (ipc.Channel, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.ch == nil || s.gen == gen {
		return nil, gen, false
	}
	return s.ch, s.gen, true
}

// recoverFrom restarts the node unless the channel of generation gen was already
// replaced, in which case the caller simply retries on the new one.
func (s *Supervisor) recoverFrom(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("%w (%s)", ErrNotRunning, s.state)
	}
	if s.gen != gen {
		return nil
	}
	return s.restartLocked(ctx)
}

func (s *Supervisor) backoff(ctx context.Context, attempt int) error {
	b, ok := s.opts.Retry.(Backoff)
	if !ok {
		return nil
	}
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Write sends a frame to the node. On failure the retry policy may restart the
// node and resend; the last error is returned if every attempt fails.
func (s *Supervisor) Write(ctx context.Context, frame []byte) error {
	ch, gen, err := s.channel()
	if err != nil {
		return err
	}
	err = ch.Write(ctx, frame)
	attempt := 0
	for err != nil {
		if ctx.Err() != nil {
			return err
		}
		if next, nextGen, ok := s.replaced(gen); ok {
			ch, gen = next, nextGen
			err = ch.Write(ctx, frame)
			continue
		}
		attempt++
		if !s.opts.Retry.ShouldRetry(attempt, err) {
			return err
		}
		s.logger.Warn("write to node failed, restarting node", "error", err, "attempt", attempt)
		if berr := s.backoff(ctx, attempt); berr != nil {
			return berr
		}
		if rerr := s.recoverFrom(ctx, gen); rerr != nil {
			return fmt.Errorf("%w (after write error: %v)", rerr, err)
		}
		if ch, gen, err = s.channel(); err != nil {
			return err
		}
		err = ch.Write(ctx, frame)
		if err == nil {
			s.logger.Debug("frame written after node restart")
		}
	}
	return nil
}

// Read returns the next frame from the node, or io.EOF once the node has closed
// the channel or recovery gave up. A read cut short because another caller
// restarted the node continues on the new channel.
func (s *Supervisor) Read(ctx context.Context) ([]byte, error) {
	ch, gen, err := s.channel()
	if err != nil {
		return nil, err
	}
	frame, err := ch.Read(ctx)
	attempt := 0
	for err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if next, nextGen, ok := s.replaced(gen); ok {
			ch, gen = next, nextGen
			frame, err = ch.Read(ctx)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		attempt++
		if !s.opts.Retry.ShouldRetry(attempt, err) {
			s.logger.Error("read from node failed, closing", "error", err, "attempts", attempt)
			return nil, io.EOF
		}
		s.logger.Warn("read from node failed, restarting node", "error", err, "attempt", attempt)
		if berr := s.backoff(ctx, attempt); berr != nil {
			return nil, berr
		}
		if rerr := s.recoverFrom(ctx, gen); rerr != nil {
			s.logger.Error("node recovery failed, closing", "error", rerr)
			return nil, io.EOF
		}
		if ch, gen, err = s.channel(); err != nil {
			s.logger.Error("node unavailable after restart, closing", "error", err)
			return nil, io.EOF
		}
		frame, err = ch.Read(ctx)
	}
	return frame, nil
}

// Describe returns the one-line summary of how the node runs.
func (s *Supervisor) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describeLocked()
}

func (s *Supervisor) describeLocked() string {
	msg := SuccessMessagePrefix
	if s.env.PublicURI.IsZero() {
		return msg + "relayed mode and cannot be used as entry peer."
	}
	msg += "full DHT mode with "
	if !s.env.DelegateURI.IsZero() {
		msg += fmt.Sprintf("delegate service reachable at '%s:%d' and relay service enabled. ", s.env.PublicURI.Host, s.env.DelegateURI.Port)
	} else {
		msg += "relay service enabled. "
	}
	if len(s.addrs) > 0 {
		msg += fmt.Sprintf("To join its network use multiaddr '%s'.", s.addrs[0])
	}
	return msg
}
