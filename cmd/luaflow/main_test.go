package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	configpkg "github.com/drblury/luaflow/internal/runtime/config"
)

const schemeDoc = `
- name: Msg
  id: 10
  fields:
    - {name: pmap, type: uint8, options.pmap: yes}
    - {name: f0, type: int32, options.optional: yes}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		dumpLayout = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", `
channels:
  - url: lua+null://;name=prefix
    code: "function tll_on_post(seq, name, data) tll_child_post(seq, name, data) end"
`)
	bad := writeFile(t, dir, "bad.yaml", `
channels:
  - url: lua://;name=broken
    code: "function ("
`)

	out, err := execute(t, "check", good)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok   "+good) || !strings.Contains(out, "prefix (prefix) child prefix/child") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "check", good, bad)
	if err == nil {
		t.Fatal("expected an error for the broken script")
	}
	if !strings.Contains(out, "FAIL "+bad) || !strings.Contains(out, "channel broken") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestDumpScheme(t *testing.T) {
	path := writeFile(t, t.TempDir(), "scheme.yaml", schemeDoc)

	out, err := execute(t, "dump-scheme", "yaml://"+path)
	if err != nil {
		t.Fatalf("dump-scheme: %v", err)
	}
	if !strings.Contains(out, "name: Msg") || !strings.Contains(out, "f0") {
		t.Errorf("unexpected dump:\n%s", out)
	}

	out, err = execute(t, "dump-scheme", "--layout", path)
	if err != nil {
		t.Fatalf("dump-scheme --layout: %v", err)
	}
	if !strings.Contains(out, "id=10") || !strings.Contains(out, "int32") || !strings.Contains(out, "pmap bit 0") {
		t.Errorf("unexpected layout:\n%s", out)
	}

	if _, err := execute(t, "dump-scheme", "yaml://"+filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing scheme")
	}
}

func TestNewLogger(t *testing.T) {
	defer func() { logLevel, logFormat = "info", "text" }()

	var buf bytes.Buffer
	logLevel, logFormat = "debug", "json"
	log, err := newLogger(&buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debug("hello", nil)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected json output, got %q", buf.String())
	}

	logFormat = "xml"
	if _, err := newLogger(&buf); err == nil {
		t.Error("expected an error for an unknown format")
	}
	logLevel, logFormat = "loud", "text"
	if _, err := newLogger(&buf); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestScriptFiles(t *testing.T) {
	conf := &configpkg.Service{Channels: []*configpkg.Config{
		{Name: "a", Code: "file://a.lua", Preload: []string{"file://common.lua"}},
		{Name: "b", Code: "x = 1", Preload: []string{"file://common.lua", "file://common.lua"}},
	}}
	files, err := scriptFiles(conf)
	if err != nil {
		t.Fatal(err)
	}
	abs := func(p string) string {
		a, _ := filepath.Abs(p)
		return a
	}
	if got := files[abs("a.lua")]; len(got) != 1 || got[0] != "a" {
		t.Errorf("a.lua = %v", got)
	}
	if got := files[abs("common.lua")]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("common.lua = %v", got)
	}
	if len(files) != 2 {
		t.Errorf("files = %v", files)
	}
}
