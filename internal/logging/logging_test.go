package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSubstitute(t *testing.T) {
	got := substitute("/tmp/{{pid}}/layer-{{inst}}.log", 7)
	if !strings.Contains(got, "layer-7.log") {
		t.Fatalf("substitute() = %q, want it to contain layer-7.log", got)
	}
	if strings.Contains(got, "{{") {
		t.Fatalf("substitute() left a template marker: %q", got)
	}
}

func TestNewWritesAndFlushesOnWarn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inst.log")

	l, err := New(path, 1, LevelWarn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Infof("hello %s", "world")
	l.Warnf("careful")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "hello world") {
		t.Fatalf("log file missing info line: %q", text)
	}
	if !strings.Contains(text, "careful") {
		t.Fatalf("log file missing warn line: %q", text)
	}
}

func TestLogPassesRuleTextVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inst.log")
	l, err := New(path, 2, LevelError)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Log("100% done")

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "100% done") {
		t.Fatalf("Log() mangled percent sign: %q", data)
	}
}
