package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	o := Default()
	if o.BoundsCheck != BoundsOn || !o.Asserts || !o.Exceptions || o.Target != "x86_64" {
		t.Errorf("unexpected defaults %+v", o)
	}
	if err := o.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	o, err := Load(strings.NewReader("bounds_check: safeonly\nwerror: true\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if o.BoundsCheck != BoundsSafeOnly || !o.WarningsAsErrors {
		t.Errorf("file values not applied: %+v", o)
	}
	if !o.Asserts || o.Target != "x86_64" {
		t.Errorf("defaults lost: %+v", o)
	}
}

func TestLoadEmpty(t *testing.T) {
	o, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty document: %v", err)
	}
	if o != Default() {
		t.Errorf("expected defaults, got %+v", o)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ralph-dc.yaml")
	if err := os.WriteFile(path, []byte("target: aarch64\nexceptions: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if o.Target != "aarch64" || o.Exceptions {
		t.Errorf("unexpected %+v", o)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RALPHDC_BOUNDS_CHECK", "off")
	t.Setenv("RALPHDC_ASSERTS", "false")
	t.Setenv("RALPHDC_TARGET", "x86")
	t.Setenv("RALPHDC_DEPRECATIONS", "error")

	o := Default()
	o.ApplyEnv()
	if o.BoundsCheck != BoundsOff || o.Asserts || o.Target != "x86" || o.Deprecations != DeprecationsError {
		t.Errorf("environment not applied: %+v", o)
	}
	if !o.Invariants {
		t.Error("unset variables must not change options")
	}
}

func TestApplyEnvSeesLaterChanges(t *testing.T) {
	t.Setenv("RALPHDC_WERROR", "false")
	o := Default()
	o.ApplyEnv()
	if o.WarningsAsErrors {
		t.Fatal("RALPHDC_WERROR=false enabled warnings as errors")
	}

	t.Setenv("RALPHDC_WERROR", "true")
	t.Setenv("RALPHDC_RELEASE", "1")
	o.ApplyEnv()
	if !o.WarningsAsErrors || !o.Release {
		t.Errorf("variables changed after the first read were ignored: %+v", o)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"bounds", func(o *Options) { o.BoundsCheck = "sometimes" }},
		{"deprecations", func(o *Options) { o.Deprecations = "loud" }},
		{"target", func(o *Options) { o.Target = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.modify(&o)
			if err := o.Validate(); !errors.Is(err, ErrInvalidOption) {
				t.Errorf("expected ErrInvalidOption, got %v", err)
			}
		})
	}
}

func TestReleaseAndBounds(t *testing.T) {
	o := Default()
	o.Release = true
	e := o.Effective()
	if e.Asserts || e.Invariants || e.BoundsCheck != BoundsSafeOnly {
		t.Errorf("release not applied: %+v", e)
	}
	if !e.BoundsCheckFor(true) || e.BoundsCheckFor(false) {
		t.Error("safeonly must check only @safe code")
	}
	e.BoundsCheck = BoundsOff
	if e.BoundsCheckFor(true) {
		t.Error("off disables every check")
	}
}
