package util

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanOldLogsKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-10 * time.Hour)
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, fmt.Sprintf("rconbridge_%d.log", i))
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		mtime := base.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "keep.txt"), nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if removed := cleanOldLogs(dir, 2); removed != 3 {
		t.Fatalf("removed %d files, want 3", removed)
	}
	for _, name := range []string{"rconbridge_3.log", "rconbridge_4.log", "keep.txt"} {
		if !FileExists(filepath.Join(dir, name)) {
			t.Errorf("%s was removed", name)
		}
	}
	if FileExists(filepath.Join(dir, "rconbridge_0.log")) {
		t.Errorf("oldest log kept")
	}
}

func TestEnsureTLSCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls", "cert.pem")
	key := filepath.Join(dir, "tls", "key.pem")

	created, err := EnsureTLSCert(cert, key, []string{"bridge.local", "10.0.0.2"})
	if err != nil || !created {
		t.Fatalf("ensure: created=%v err=%v", created, err)
	}
	if _, err := tls.LoadX509KeyPair(cert, key); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}

	created, err = EnsureTLSCert(cert, key, nil)
	if err != nil || created {
		t.Fatalf("existing pair regenerated: created=%v err=%v", created, err)
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultLogConfig()
	cfg.Directory = dir
	cfg.Console = false

	if err := InitLogger(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	name := fmt.Sprintf("%s_%s.log", AppName, time.Now().Format("2006-01-02"))
	if !FileExists(filepath.Join(dir, name)) {
		t.Fatalf("log file %s not created", name)
	}
}
