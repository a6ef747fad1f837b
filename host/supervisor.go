package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os/exec"
	"strconv"
	"sync"

	"rewardspanel/config"
)

const maxLineBytes = 256 * 1024

// Supervisor spawns the backend process once and reports its output and
// exit through the hub. It never respawns; restarting the backend is left to
// the user.
type Supervisor struct {
	cfg         config.HostConfig
	defaultPort int
	hub         *Hub
	freePort    func() (int, error)

	mu          sync.Mutex
	started     bool
	port        int
	spawnErr    error
	cmd         *exec.Cmd
	terminating bool
	exited      chan struct{}
}

// NewSupervisor prepares a supervisor. defaultPort is used when dynamic port
// selection is off or finds nothing.
func NewSupervisor(cfg config.HostConfig, defaultPort int, hub *Hub) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		defaultPort: defaultPort,
		hub:         hub,
		freePort:    pickFreePort,
		exited:      make(chan struct{}),
	}
}

// Start spawns the backend. A spawn failure is published as a py-error event
// and remembered so later port queries fail with a BridgeError.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true

	port := s.defaultPort
	if s.cfg.DynamicPort {
		if p, err := s.freePort(); err != nil {
			log.Printf("Host: no free port found, using %d: %v", port, err)
		} else {
			port = p
		}
	}
	s.port = port

	args := append([]string(nil), s.cfg.Args...)
	args = append(args, s.cfg.PortFlag, strconv.Itoa(port))
	cmd := exec.Command(s.cfg.Command, args...)
	stdout, errOut, err := pipes(cmd)
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		s.spawnErr = &BridgeError{Op: "spawn", Err: err}
		close(s.exited)
		s.mu.Unlock()
		log.Printf("Host: failed to spawn backend %s: %v", s.cfg.Command, err)
		s.hub.Publish(Event{Kind: EventError, Line: fmt.Sprintf("Failed to spawn backend: %v", err)})
		return s.spawnErr
	}
	s.cmd = cmd
	s.mu.Unlock()

	log.Printf("Host: backend %s started (pid %d, port %d)", s.cfg.Command, cmd.Process.Pid, port)
	go s.wait(cmd, stdout, errOut)
	return nil
}

func pipes(cmd *exec.Cmd) (io.ReadCloser, io.ReadCloser, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}
	return stdout, stderr, nil
}

// wait drains both pipes before reaping the process, as exec requires, then
// publishes the termination.
func (s *Supervisor) wait(cmd *exec.Cmd, stdout, stderr io.Reader) {
	var readers sync.WaitGroup
	readers.Add(2)
	go s.pump(&readers, stdout, EventLog)
	go s.pump(&readers, stderr, EventError)
	readers.Wait()

	err := cmd.Wait()
	code := exitCode(err)

	s.mu.Lock()
	terminating := s.terminating
	close(s.exited)
	s.mu.Unlock()

	switch {
	case terminating:
		log.Printf("Host: backend terminated on request")
	case code == nil:
		log.Printf("Host: backend exited abnormally: %v", err)
	default:
		log.Printf("Host: backend exited with code %d", *code)
	}
	s.hub.Publish(Event{Kind: EventTerminated, ExitCode: code})
}

func (s *Supervisor) pump(wg *sync.WaitGroup, r io.Reader, kind EventKind) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		s.hub.Publish(Event{Kind: kind, Line: scanner.Text()})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.hub.Publish(Event{Kind: EventError, Line: fmt.Sprintf("backend output read failed: %v", err)})
	}
}

// exitCode maps a Wait result to the exit code; nil means unknown (killed by
// a signal or the wait itself failed).
func exitCode(err error) *int {
	if err == nil {
		code := 0
		return &code
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return &code
		}
	}
	return nil
}

// BackendPort answers the host port query.
func (s *Supervisor) BackendPort(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &BridgeError{Op: "get_backend_port", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, &BridgeError{Op: "get_backend_port", Err: ErrNotStarted}
	}
	if s.spawnErr != nil {
		return 0, &BridgeError{Op: "get_backend_port", Err: s.spawnErr}
	}
	return s.port, nil
}

// Terminate kills the backend if it is still running and waits for it to be
// reaped. It is safe to call more than once.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cmd := s.cmd
	exited := s.exited
	select {
	case <-exited:
		s.mu.Unlock()
		return nil
	default:
	}
	s.terminating = true
	s.mu.Unlock()

	if err := cmd.Process.Kill(); err != nil {
		select {
		case <-exited:
			return nil
		default:
		}
		return &BridgeError{Op: "terminate_backend", Err: err}
	}
	<-exited
	return nil
}

// Done is closed once the backend has exited or failed to spawn.
func (s *Supervisor) Done() <-chan struct{} {
	return s.exited
}

func pickFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %s", ln.Addr())
	}
	return addr.Port, nil
}
