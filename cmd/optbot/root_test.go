package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"optbot/config"
)

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(cfg, slog.Default())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd(&config.Config{}, slog.Default())
	for _, path := range [][]string{
		{"run"}, {"resolve"}, {"expiries"}, {"evaluate"}, {"status"},
		{"accounts", "add"}, {"accounts", "list"}, {"accounts", "validate"},
		{"cache", "clear"},
	} {
		cmd, rest, err := root.Find(path)
		if err != nil || len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Errorf("%v: cmd=%v rest=%v err=%v", path, cmd.Name(), rest, err)
		}
	}
}

func TestAccountsAddThenList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_credentials.json")
	cfg := &config.Config{CredentialsFile: path}

	out, err := execute(t, cfg, "accounts", "add", "--skip-login",
		"--username", "alice", "--client-id", "A1", "--pin", "1111",
		"--api-key", "ka", "--totp", "JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("add: %v (%s)", err, out)
	}
	if !strings.Contains(out, "added alice") {
		t.Errorf("add output = %q", out)
	}

	out, err = execute(t, cfg, "accounts", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]string
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("list output %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0]["username"] != "alice" || rows[0]["client_id"] != "A1" {
		t.Errorf("rows = %v", rows)
	}
	if _, ok := rows[0]["pin"]; ok {
		t.Error("list must not print secrets")
	}
}

func TestAccountsAddRequiresFields(t *testing.T) {
	cfg := &config.Config{CredentialsFile: filepath.Join(t.TempDir(), "c.json")}
	if _, err := execute(t, cfg, "accounts", "add", "--skip-login", "--username", "alice"); err == nil {
		t.Fatal("expected missing flag error")
	}
	if _, err := os.Stat(cfg.CredentialsFile); !os.IsNotExist(err) {
		t.Errorf("credentials file written despite error: %v", err)
	}
}

func TestResolveFlagsAreExclusive(t *testing.T) {
	cfg := &config.Config{CredentialsFile: filepath.Join(t.TempDir(), "c.json")}
	if _, err := execute(t, cfg, "resolve", "--expiry", "20MAY25", "--index", "0"); err == nil {
		t.Fatal("expected mutually exclusive flag error")
	}
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "data", "nested", "orders.db")
	if err := ensureDir(db); err != nil {
		t.Fatalf("ensureDir: %v", err)
	}
	if fi, err := os.Stat(filepath.Dir(db)); err != nil || !fi.IsDir() {
		t.Fatalf("dir not created: %v", err)
	}
	if err := ensureDir("orders.db"); err != nil {
		t.Errorf("bare file name: %v", err)
	}

	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ensureDir(filepath.Join(blocker, "orders.db")); err == nil {
		t.Error("expected error when the parent is a regular file")
	}
}

func TestStatusShowsOrderAuditRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("order:250520000123456", "order_id", "250520000123456", "symbol", "NIFTY20MAY2524650CE", "username", "alice")
	cfg := &config.Config{RedisAddr: mr.Addr()}

	out, err := execute(t, cfg, "status", "--order", "250520000123456", "--json")
	if err != nil {
		t.Fatalf("status: %v (%s)", err, out)
	}
	var rec map[string]string
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("output %q: %v", out, err)
	}
	if rec["symbol"] != "NIFTY20MAY2524650CE" || rec["username"] != "alice" {
		t.Errorf("record = %v", rec)
	}

	if _, err := execute(t, cfg, "status", "--order", "missing"); err == nil {
		t.Error("expected an error for an unknown order")
	}
}
