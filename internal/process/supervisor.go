// Package process implements the ProcessSupervisor: it launches one Worker
// CLI subprocess per instance slot attached to a pseudo-terminal (the
// target CLIs refuse to operate on plain pipes), tees its output to a
// per-instance log file, and exposes isRunning plus a kill operation. The
// teacher's own agent-cycle code drives its CLIs through tmux send-keys;
// this package keeps that same "write bytes into the program's input after
// launch" idiom but does it directly against a PTY so the supervisor owns
// the process handle instead of depending on an external tmux session.
package process

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const (
	promptInjectDelay  = 1500 * time.Millisecond
	echoSuppressWindow = 3 * time.Second
	endSessionBanner   = "=== Session Ended ===\n"
)

// Observer receives a copy of every byte the child writes, for live display.
type Observer func(instanceID string, chunk []byte)

// Session tracks one running (or exited) child process.
type Session struct {
	InstanceID string
	Pid        int

	mu      sync.Mutex
	pty     *os.File
	cmd     *exec.Cmd
	logFile *os.File
	exited  bool
	exitErr error
}

// Supervisor launches and tracks Worker CLI subprocesses.
type Supervisor struct {
	logger   *zap.Logger
	observer Observer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New constructs a Supervisor. observer may be nil.
func New(logger *zap.Logger, observer Observer) *Supervisor {
	return &Supervisor{
		logger:   logger,
		observer: observer,
		sessions: make(map[string]*Session),
	}
}

// Start launches command with args attached to a fresh pseudo-terminal
// rooted at cwd, appends all output to logPath, and after promptInjectDelay
// writes prompt followed by a carriage return into the PTY's input. It
// returns the child's pid.
func (s *Supervisor) Start(command string, args []string, prompt, cwd, logPath, instanceID string) (int, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s_INSTANCE_ID=%s", toolEnvPrefix(instanceID), instanceID),
		fmt.Sprintf("AUTONOMOUS_PARENT_PID=%d", os.Getpid()))

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 0, fmt.Errorf("process: start %s: %w", command, err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("process: open log %s: %w", logPath, err)
	}

	session := &Session{
		InstanceID: instanceID,
		Pid:        cmd.Process.Pid,
		pty:        ptmx,
		cmd:        cmd,
		logFile:    logFile,
	}

	s.mu.Lock()
	s.sessions[instanceID] = session
	s.mu.Unlock()

	go s.pump(session, prompt)
	go s.inject(session, prompt)

	return session.Pid, nil
}

// toolEnvPrefix derives the Worker CLI's env var prefix from an instance ID
// of the form "<provider>-<n>", e.g. "claude-0" yields "CLAUDE".
func toolEnvPrefix(instanceID string) string {
	provider := instanceID
	if i := strings.IndexByte(instanceID, '-'); i >= 0 {
		provider = instanceID[:i]
	}
	return strings.ToUpper(provider)
}

// pump copies PTY output to the log file (and observer) until EOF, strips
// the first echo of the injected prompt, then waits for process exit.
func (s *Supervisor) pump(session *Session, prompt string) {
	stripper := newEchoStripper(prompt, echoSuppressWindow)
	buf := make([]byte, 4096)
	for {
		n, err := session.pty.Read(buf)
		if n > 0 {
			chunk := stripper.filter(buf[:n])
			if len(chunk) > 0 {
				if _, werr := session.logFile.Write(chunk); werr != nil && s.logger != nil {
					s.logger.Warn("process: write log failed", zap.String("instance_id", session.InstanceID), zap.Error(werr))
				}
				if s.observer != nil {
					s.observer(session.InstanceID, chunk)
				}
			}
		}
		if err != nil {
			break
		}
	}

	waitErr := session.cmd.Wait()
	_, _ = session.logFile.WriteString(endSessionBanner)
	_ = session.logFile.Close()
	_ = session.pty.Close()

	session.mu.Lock()
	session.exited = true
	session.exitErr = waitErr
	session.mu.Unlock()
}

// inject waits promptInjectDelay then writes the prompt into the PTY.
func (s *Supervisor) inject(session *Session, prompt string) {
	time.Sleep(promptInjectDelay)
	session.mu.Lock()
	exited := session.exited
	session.mu.Unlock()
	if exited {
		return
	}
	_, err := session.pty.Write([]byte(prompt + "\r"))
	if err != nil && s.logger != nil {
		s.logger.Warn("process: prompt injection failed", zap.String("instance_id", session.InstanceID), zap.Error(err))
	}
}

// IsRunning reports whether the PTY child for instanceID has neither
// reported exit nor disappeared from the OS's view.
func (s *Supervisor) IsRunning(instanceID string) bool {
	s.mu.RLock()
	session, ok := s.sessions[instanceID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	session.mu.Lock()
	exited := session.exited
	pid := session.Pid
	session.mu.Unlock()
	if exited {
		return false
	}
	return processAlive(pid)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// ExitCode returns the exited child's exit code, or nil if it is still
// running or never reported one.
func (s *Supervisor) ExitCode(instanceID string) *int {
	s.mu.RLock()
	session, ok := s.sessions[instanceID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.exited {
		return nil
	}
	if session.exitErr == nil {
		code := 0
		return &code
	}
	if exitErr, ok := session.exitErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		return &code
	}
	code := -1
	return &code
}

// Stop signals the process group with SIGTERM and returns once the process
// handle reports exit, or after a 10s grace period during which it escalates
// to SIGKILL.
func (s *Supervisor) Stop(instanceID string) error {
	s.mu.Lock()
	session, ok := s.sessions[instanceID]
	delete(s.sessions, instanceID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	session.mu.Lock()
	pid := session.Pid
	exited := session.exited
	session.mu.Unlock()
	if exited {
		return nil
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && s.logger != nil {
		s.logger.Warn("process: SIGTERM failed", zap.String("instance_id", instanceID), zap.Error(err))
	}

	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		session.mu.Lock()
		exited := session.exited
		session.mu.Unlock()
		if exited {
			return nil
		}
		select {
		case <-deadline:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			return nil
		case <-ticker.C:
		}
	}
}

// echoStripper elides the first occurrence of the injected prompt from PTY
// output, since the CLI echoes its own stdin back. It is a character-by-
// character consume of a sliding expected-echo buffer (§4.1), abandoned
// after echoSuppressWindow has elapsed without a match.
type echoStripper struct {
	expected []byte
	matched  int
	done     bool
	deadline time.Time
	window   time.Duration
	started  bool
}

func newEchoStripper(prompt string, window time.Duration) *echoStripper {
	return &echoStripper{expected: []byte(prompt), window: window}
}

func (e *echoStripper) filter(chunk []byte) []byte {
	if e.done {
		return chunk
	}
	if !e.started {
		e.started = true
		e.deadline = time.Now().Add(e.window)
	}
	if time.Now().After(e.deadline) {
		e.done = true
		return chunk
	}
	if len(e.expected) == 0 {
		e.done = true
		return chunk
	}

	var out bytes.Buffer
	for _, b := range chunk {
		if !e.done && e.matched < len(e.expected) {
			if b == e.expected[e.matched] {
				e.matched++
				if e.matched == len(e.expected) {
					e.done = true
				}
				continue
			}
			// Mismatch mid-sequence: stop suppressing, flush what we held back
			// as unsuppressed (best-effort; echoes that don't match verbatim
			// are rare enough that losing exact replay here is acceptable).
			e.done = true
			out.Write(e.expected[:e.matched])
			out.WriteByte(b)
			continue
		}
		out.WriteByte(b)
	}
	return out.Bytes()
}
