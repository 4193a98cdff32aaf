package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"sysmate/internal/config"
	"sysmate/internal/logging"
	"sysmate/internal/metrics"
	"sysmate/internal/rpc"
)

// Server is a running daemon: the monitoring core plus its gRPC listener
// on the UNIX socket and the optional metrics endpoint.
type Server struct {
	ln      net.Listener
	path    string
	grpc    *grpc.Server
	metrics *http.Server
	log     logging.Logger

	cancel   context.CancelFunc
	finished chan struct{}
	runErr   error

	closeOnce sync.Once
	closeErr  error
}

// StartDaemon loads cfgPath, binds the socket and starts the core in the
// background. The returned Server runs until Close.
func StartDaemon(cfgPath string, opts Options) (*Server, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return Start(cfg, opts)
}

// Start is StartDaemon with an already loaded configuration.
func Start(cfg config.Config, opts Options) (*Server, error) {
	if opts.Logger == nil {
		lvl, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		opts.Logger = logging.NewLogger(os.Stderr, "sysmated").Level(lvl)
	}
	if opts.Metrics == nil && cfg.MetricsAddr != "" {
		opts.Metrics = metrics.New()
	}
	log := opts.Logger

	c, err := newCore(cfg, opts)
	if err != nil {
		return nil, err
	}

	if err := EnsureRuntimeDir(); err != nil {
		return nil, err
	}
	path := SocketPath()
	// a socket left behind by a crashed daemon
	if _, err := os.Stat(path); err == nil && !IsRunning() {
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ln:       ln,
		path:     path,
		grpc:     grpc.NewServer(),
		log:      log,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	if err := WritePID(os.Getpid()); err != nil {
		cancel()
		ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	rpc.Register(s.grpc, c.service(ctx, opts.Version))
	go func() {
		s.runErr = c.run(ctx)
		close(s.finished)
	}()
	go func() {
		if err := s.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		s.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           opts.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint stopped", err, logging.String("addr", cfg.MetricsAddr))
			}
		}()
	}

	log.Info("daemon started",
		logging.String("socket", path),
		logging.Int("pid", os.Getpid()),
		logging.Duration("tick", cfg.TickInterval),
		logging.String("authorizer", cfg.Authorizer),
	)
	return s, nil
}

// Done is closed once the core has stopped, on its own or through Close.
func (s *Server) Done() <-chan struct{} { return s.finished }

// Err returns the core's exit error after Done is closed.
func (s *Server) Err() error {
	select {
	case <-s.finished:
		return s.runErr
	default:
		return nil
	}
}

// Close stops the core, drains RPCs and removes the socket and pid file.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.shutdown() })
	return s.closeErr
}

func (s *Server) shutdown() error {
	s.cancel()
	var errs []error
	select {
	case <-s.finished:
		errs = append(errs, s.runErr)
	case <-time.After(5 * time.Second):
		errs = append(errs, errors.New("core did not stop within 5s"))
	}

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		s.grpc.Stop()
	}

	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, s.metrics.Shutdown(ctx))
		cancel()
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	errs = append(errs, RemovePID())
	s.log.Info("daemon stopped")
	return errors.Join(errs...)
}

// StopRunningDaemon terminates the daemon named by the pid file, escalating
// to SIGKILL when force is set.
func StopRunningDaemon(force bool) error {
	pid, err := RunningPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if IsRunning() {
				return fmt.Errorf("daemon is running but PID file %q is missing; stop it manually", PIDPath())
			}
			return nil
		}
		return fmt.Errorf("unable to read daemon PID: %w", err)
	}
	if pid == os.Getpid() {
		return errors.New("refusing to stop current process")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := sendSignal(proc, syscall.SIGTERM); err != nil {
		return err
	}
	if waitForShutdown(3 * time.Second) {
		return nil
	}
	if !force {
		return fmt.Errorf("daemon process %d did not exit after SIGTERM", pid)
	}
	if err := sendSignal(proc, syscall.SIGKILL); err != nil {
		return err
	}
	if waitForShutdown(2 * time.Second) {
		return nil
	}
	return fmt.Errorf("daemon process %d did not exit after SIGKILL", pid)
}

func sendSignal(proc *os.Process, sig syscall.Signal) error {
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			_ = RemovePID()
			return nil
		}
		return err
	}
	return nil
}

func waitForShutdown(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !IsRunning() {
			_ = RemovePID()
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
