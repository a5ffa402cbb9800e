package config

import "strings"

import "testing"

const sample = `
# comment at column 0
dump=true
dumpDirectory=/tmp/dump
override = true
overrideDirectory=/tmp/override
logFile=/tmp/{{pid}}-{{inst}}.log
ruleFile=/tmp/rules.txt
hookDraw=false
application=
pluginDirectory=/tmp/plugins
dump_png=yes
futureKey=something
`

func TestParseRecognisesKeys(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Dump || cfg.DumpDirectory != "/tmp/dump" {
		t.Fatalf("dump/dumpDirectory not parsed: %+v", cfg)
	}
	if !cfg.Override || cfg.OverrideDirectory != "/tmp/override" {
		t.Fatalf("override/overrideDirectory not parsed: %+v", cfg)
	}
	if cfg.HookDraw {
		t.Fatalf("hookDraw should be false")
	}
	if !cfg.AppliesTo("anything") {
		t.Fatalf("empty application filter should match everything")
	}
	if !cfg.DumpPNG {
		t.Fatalf("dump_png=yes should parse as true")
	}
	if cfg.Unrecognised["futureKey"] != "something" {
		t.Fatalf("unrecognised key should be preserved, got %+v", cfg.Unrecognised)
	}
}

func TestApplicationFilter(t *testing.T) {
	cfg := Default()
	cfg.Application = "MyGame"
	if cfg.AppliesTo("OtherGame") {
		t.Fatalf("should not match a different application name")
	}
	if !cfg.AppliesTo("MyGame") {
		t.Fatalf("should match the configured application name")
	}
}

func TestParseRejectsMalformedLine(t *testing.T) {
	if _, err := Parse(strings.NewReader("not-a-key-value-line")); err == nil {
		t.Fatalf("expected an error for a line without '='")
	}
}

func TestParseRejectsFutureLayerVersion(t *testing.T) {
	if _, err := Parse(strings.NewReader("layerVersion=2")); err == nil {
		t.Fatalf("expected an error for an unsupported layerVersion")
	}
}

func TestParseAcceptsCompiledLayerVersion(t *testing.T) {
	cfg, err := Parse(strings.NewReader("layerVersion=" + CompiledGrammarVersion))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LayerVersion != CompiledGrammarVersion {
		t.Fatalf("layerVersion not parsed: %+v", cfg)
	}
}
