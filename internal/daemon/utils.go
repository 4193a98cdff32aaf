package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// SocketBaseName is the UNIX socket filename.
const SocketBaseName = "sysmate.sock"

const pidFileName = "sysmate.pid"

// SocketPath returns the daemon socket. First match wins:
//  1. SYSMATE_SOCKET
//  2. SYSMATE_RUNTIME_DIR/sysmate.sock
//  3. on linux $XDG_RUNTIME_DIR or /run/user/<uid>; elsewhere /tmp
func SocketPath() string {
	if explicit := os.Getenv("SYSMATE_SOCKET"); explicit != "" {
		return explicit
	}
	if rd := os.Getenv("SYSMATE_RUNTIME_DIR"); rd != "" {
		return filepath.Join(rd, SocketBaseName)
	}

	uid := currentUID()
	if runtime.GOOS == "linux" {
		if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
			return filepath.Join(v, SocketBaseName)
		}
		if uid == "0" {
			return filepath.Join("/run", SocketBaseName)
		}
		return filepath.Join("/run/user", uid, SocketBaseName)
	}
	// sun_path is short on BSDs
	return filepath.Join("/tmp", "sysmate-"+uid+".sock")
}

// EnsureRuntimeDir creates the socket's parent directory.
func EnsureRuntimeDir() error {
	return os.MkdirAll(filepath.Dir(SocketPath()), 0o700)
}

// PIDPath returns the pid file next to the socket.
func PIDPath() string {
	return filepath.Join(filepath.Dir(SocketPath()), pidFileName)
}

// WritePID stores pid into the pid file.
func WritePID(pid int) error {
	if err := EnsureRuntimeDir(); err != nil {
		return err
	}
	return os.WriteFile(PIDPath(), []byte(fmt.Sprintf("%d\n", pid)), 0o600)
}

// RemovePID removes the pid file if it exists.
func RemovePID() error {
	if err := os.Remove(PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RunningPID returns the pid stored in the pid file.
func RunningPID() (int, error) {
	data, err := os.ReadFile(PIDPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// IsRunning reports whether a daemon answers Ping on the socket.
func IsRunning() bool {
	if _, err := os.Stat(SocketPath()); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	client, conn, err := Dial(ctx)
	if err != nil {
		return false
	}
	defer conn.Close()

	_, err = client.Ping(ctx)
	return err == nil
}

func currentUID() string {
	u, err := user.Current()
	if err == nil && u != nil && u.Uid != "" {
		return u.Uid
	}
	return strconv.Itoa(os.Getuid())
}
