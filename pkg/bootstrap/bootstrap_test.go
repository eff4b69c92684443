package bootstrap

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestListenUnixSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets not supported on windows")
	}

	cfg := Config{SocketPath: filepath.Join(t.TempDir(), "engine", "api.sock")}

	ln, err := cfg.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		t.Fatalf("failed to dial socket: %v", err)
	}
	conn.Close()
}

func TestListenRecursiveDirectoryCreation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets not supported on windows")
	}

	// None of the parent directories exist yet.
	cfg := Config{SocketPath: filepath.Join(t.TempDir(), "a", "b", "c", "api.sock")}

	ln, err := cfg.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ln.Close()
}

func TestListenTwiceRemovesStaleSocket(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets not supported on windows")
	}

	cfg := Config{SocketPath: filepath.Join(t.TempDir(), "api.sock")}

	ln, err := cfg.Listen()
	if err != nil {
		t.Fatalf("first Listen failed: %v", err)
	}
	// Close without unlinking to simulate a crashed prior run leaving a
	// stale socket file behind.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	if _, err := os.Stat(cfg.SocketPath); err != nil {
		t.Fatalf("expected stale socket file to remain: %v", err)
	}

	ln2, err := cfg.Listen()
	if err != nil {
		t.Fatalf("second Listen failed: %v", err)
	}
	ln2.Close()
}

func TestPrepareDevelopmentPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions not supported on windows")
	}

	dir := filepath.Join(t.TempDir(), "sockets")
	cfg := Config{SocketPath: filepath.Join(dir, "api.sock"), Mode: ModeDevelopment}
	cfg.Prepare()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("socket directory not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0777 {
		t.Errorf("expected world-writable directory, got %04o", perm)
	}
}

func TestPrepareProductionPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions not supported on windows")
	}

	dir := filepath.Join(t.TempDir(), "sockets")
	cfg := Config{SocketPath: filepath.Join(dir, "api.sock"), Mode: ModeProduction}
	cfg.Prepare()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("socket directory not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0770 {
		t.Errorf("expected group-restricted directory, got %04o", perm)
	}
}

func TestPrepareIdempotent(t *testing.T) {
	cfg := Config{SocketPath: filepath.Join(t.TempDir(), "api.sock")}

	// Must not panic or error on repeated runs, with or without a stale
	// socket file present.
	cfg.Prepare()
	if err := os.WriteFile(cfg.SocketPath, nil, 0644); err != nil {
		t.Fatalf("failed to plant stale file: %v", err)
	}
	cfg.Prepare()
	cfg.Prepare()

	if _, err := os.Stat(cfg.SocketPath); !os.IsNotExist(err) {
		t.Errorf("expected stale file removed, stat err = %v", err)
	}
}

func TestListenTCPFallback(t *testing.T) {
	cfg := Config{TCPAddr: "127.0.0.1:0"}

	ln, err := cfg.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	if _, ok := ln.(*net.TCPListener); !ok {
		t.Errorf("expected TCP listener, got %T", ln)
	}
}

func TestListenNoAddressConfigured(t *testing.T) {
	if _, err := (Config{}).Listen(); err == nil {
		t.Error("expected error when neither socket path nor TCP addr set")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]PermissionMode{
		"production":  ModeProduction,
		"prod":        ModeProduction,
		"development": ModeDevelopment,
		"dev":         ModeDevelopment,
		"":            ModeDevelopment,
		"staging":     ModeDevelopment,
	}
	for name, want := range cases {
		if got := ParseMode(name); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", name, got, want)
		}
	}
}
