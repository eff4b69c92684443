// Package bootstrap prepares the filesystem rendezvous point for a unix
// domain socket listener and hands back the bound listener. It replaces the
// deployment-time shell glue with in-process setup that runs immediately
// before bind.
package bootstrap

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
)

// PermissionMode selects the directory permissions applied to the socket
// directory after creation.
type PermissionMode int

const (
	// ModeDevelopment leaves the socket directory world-writable so any
	// local user can connect. Never use it outside a dev box.
	ModeDevelopment PermissionMode = iota
	// ModeProduction restricts the socket directory to the owning user
	// and group.
	ModeProduction
)

// String returns the mode name as accepted by ParseMode.
func (m PermissionMode) String() string {
	switch m {
	case ModeProduction:
		return "production"
	default:
		return "development"
	}
}

// DirPerm returns the directory mode bits for the permission mode.
func (m PermissionMode) DirPerm() os.FileMode {
	if m == ModeProduction {
		return 0770
	}
	return 0777
}

// ParseMode maps a mode name to a PermissionMode. Unknown names fall back
// to development with a warning rather than failing startup.
func ParseMode(name string) PermissionMode {
	switch name {
	case "production", "prod":
		return ModeProduction
	case "development", "dev", "":
		return ModeDevelopment
	default:
		log.Printf("Warning: unknown permission mode %q, using development", name)
		return ModeDevelopment
	}
}

// Config describes where the listener binds. When SocketPath is set the
// listener is a unix domain socket at that path; otherwise TCPAddr is used.
type Config struct {
	// SocketPath is the unix socket path, e.g. /tmp/code-engine/api.sock.
	// Empty means listen on TCP instead.
	SocketPath string

	// TCPAddr is the host:port to bind when no socket path is configured.
	TCPAddr string

	// Mode controls the socket directory permissions.
	Mode PermissionMode
}

// Prepare makes the socket directory usable: it creates the directory
// recursively, removes a stale socket file left by a previous run, and
// applies the mode's permissions to the directory. All steps are
// best-effort; an unusable environment surfaces through the bind error in
// Listen, not here. Calling Prepare twice is safe.
func (c Config) Prepare() {
	if c.SocketPath == "" {
		return
	}

	dir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(dir, c.Mode.DirPerm()); err != nil {
		log.Printf("Warning: failed to create socket directory %s: %v", dir, err)
	}

	// Stale socket from a prior run. Removal errors are tolerated, the
	// bind will fail loudly if the path is genuinely unusable.
	if err := os.Remove(c.SocketPath); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to remove stale socket %s: %v", c.SocketPath, err)
	}

	// MkdirAll's perm argument is filtered by the process umask, so set
	// the final bits explicitly.
	if err := os.Chmod(dir, c.Mode.DirPerm()); err != nil {
		log.Printf("Warning: failed to chmod socket directory %s: %v", dir, err)
	}
}

// Listen prepares the environment and binds the listener. The returned
// listener is a unix socket when SocketPath is set, a TCP listener
// otherwise.
func (c Config) Listen() (net.Listener, error) {
	if c.SocketPath == "" {
		if c.TCPAddr == "" {
			return nil, fmt.Errorf("no socket path or TCP address configured")
		}
		return net.Listen("tcp", c.TCPAddr)
	}

	c.Prepare()

	ln, err := net.Listen("unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to bind socket %s: %w", c.SocketPath, err)
	}
	return ln, nil
}
