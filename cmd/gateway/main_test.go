package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cloudbro-kube-ai/k13d/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.StateDir = t.TempDir()
	return cfg
}

func TestPidFilePath(t *testing.T) {
	cfg := testConfig(t)
	got := pidFilePath(cfg)
	want := filepath.Join(cfg.EffectiveStateDir(), "gateway.pid")
	if got != want {
		t.Fatalf("pidFilePath = %s, want %s", got, want)
	}
}

func TestWriteAndReadPIDFile(t *testing.T) {
	cfg := testConfig(t)
	if err := writePIDFile(cfg); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}

	pid, err := readPID(cfg)
	if err != nil {
		t.Fatalf("readPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("readPID = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPIDMissingFile(t *testing.T) {
	cfg := testConfig(t)
	if _, err := readPID(cfg); err == nil {
		t.Fatal("expected error reading a pid file that was never written")
	}
}

func TestReadPIDMalformedContents(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.EffectiveStateDir(), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidFilePath(cfg), []byte("not-a-pid"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := readPID(cfg); err == nil {
		t.Fatal("expected error reading a malformed pid file")
	}
}

func TestProcessAliveForSelf(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatal("expected current process to be reported alive")
	}
}

func TestProcessAliveForUnlikelyPID(t *testing.T) {
	// A pid this large is extremely unlikely to be assigned on any system;
	// FindProcess succeeds unconditionally on unix but the signal-0 probe
	// should fail.
	if processAlive(1<<30 + 1) {
		t.Fatal("expected an implausible pid to be reported not alive")
	}
}

func TestLoadConfigFromExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yaml := "listen:\n  bind: 127.0.0.1\n  port: 9999\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfigFrom(path)
	if err != nil {
		t.Fatalf("loadConfigFrom: %v", err)
	}
	if cfg.Listen.Port != 9999 {
		t.Fatalf("expected port 9999 to be loaded from file, got %d", cfg.Listen.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %s", cfg.LogLevel)
	}
}

func TestLoadConfigFromMissingPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.yaml")
	if _, err := loadConfigFrom(path); err == nil {
		t.Fatal("expected error loading a nonexistent explicit config path")
	}
}

func TestLoadConfigFromInvalidatesBadListen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	// A non-loopback bind with no auth configured must fail Validate.
	yaml := "listen:\n  bind: 0.0.0.0\n  port: " + strconv.Itoa(8843) + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfigFrom(path); err == nil {
		t.Fatal("expected validation error for non-loopback bind without auth")
	}
}
