// Package config holds the compilation options that influence lowering.
// Options come from defaults, then an optional YAML file, then
// RALPHDC_* environment variables; command-line flags are applied last
// by the driver.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// BoundsCheck selects where array bounds checks are emitted
type BoundsCheck string

const (
	BoundsOn       BoundsCheck = "on"
	BoundsSafeOnly BoundsCheck = "safeonly"
	BoundsOff      BoundsCheck = "off"
)

// DeprecationMode selects how deprecations are reported
type DeprecationMode string

const (
	DeprecationsAllow DeprecationMode = "allow"
	DeprecationsWarn  DeprecationMode = "warn"
	DeprecationsError DeprecationMode = "error"
)

// ErrInvalidOption is wrapped by Validate failures
var ErrInvalidOption = errors.New("invalid option")

// Options controls the lowering pass
type Options struct {
	BoundsCheck BoundsCheck `yaml:"bounds_check"`
	Asserts     bool        `yaml:"asserts"`
	Invariants  bool        `yaml:"invariants"`
	Exceptions  bool        `yaml:"exceptions"`
	// Release disables asserts, invariants and bounds checks outside
	// @safe code.
	Release          bool            `yaml:"release"`
	Target           string          `yaml:"target"`
	TargetFile       string          `yaml:"target_file"`
	WarningsAsErrors bool            `yaml:"werror"`
	Deprecations     DeprecationMode `yaml:"deprecations"`
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		BoundsCheck:  BoundsOn,
		Asserts:      true,
		Invariants:   true,
		Exceptions:   true,
		Target:       "x86_64",
		Deprecations: DeprecationsWarn,
	}
}

// Load decodes YAML options over the defaults. Keys absent from the
// document keep their default values.
func Load(r io.Reader) (Options, error) {
	opts := Default()
	if err := yaml.NewDecoder(r).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return opts, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

// LoadFile reads options from a YAML file.
func LoadFile(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Default(), err
	}
	defer f.Close()
	opts, err := Load(f)
	if err != nil {
		return opts, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// ApplyEnv overrides options from RALPHDC_* environment variables. Only
// variables that are set take effect. The environment is re-read on
// every call.
func (o *Options) ApplyEnv() {
	env.Load()
	if env.Has("RALPHDC_BOUNDS_CHECK") {
		o.BoundsCheck = BoundsCheck(env.Str("RALPHDC_BOUNDS_CHECK"))
	}
	boolVar(&o.Asserts, "RALPHDC_ASSERTS")
	boolVar(&o.Invariants, "RALPHDC_INVARIANTS")
	boolVar(&o.Exceptions, "RALPHDC_EXCEPTIONS")
	boolVar(&o.Release, "RALPHDC_RELEASE")
	boolVar(&o.WarningsAsErrors, "RALPHDC_WERROR")
	o.Target = env.Str("RALPHDC_TARGET", o.Target)
	o.TargetFile = env.Str("RALPHDC_TARGET_FILE", o.TargetFile)
	if env.Has("RALPHDC_DEPRECATIONS") {
		o.Deprecations = DeprecationMode(env.Str("RALPHDC_DEPRECATIONS"))
	}
}

func boolVar(dst *bool, name string) {
	if env.Has(name) {
		*dst = env.Bool(name)
	}
}

// Validate rejects unknown enumeration values.
func (o Options) Validate() error {
	switch o.BoundsCheck {
	case BoundsOn, BoundsSafeOnly, BoundsOff:
	default:
		return fmt.Errorf("%w: bounds_check %q (want on, safeonly or off)", ErrInvalidOption, o.BoundsCheck)
	}
	switch o.Deprecations {
	case DeprecationsAllow, DeprecationsWarn, DeprecationsError:
	default:
		return fmt.Errorf("%w: deprecations %q (want allow, warn or error)", ErrInvalidOption, o.Deprecations)
	}
	if o.Target == "" && o.TargetFile == "" {
		return fmt.Errorf("%w: no target", ErrInvalidOption)
	}
	return nil
}

// Effective applies the release switch: in release builds asserts and
// invariants are off and bounds checks only remain in @safe code.
func (o Options) Effective() Options {
	if !o.Release {
		return o
	}
	o.Asserts = false
	o.Invariants = false
	if o.BoundsCheck == BoundsOn {
		o.BoundsCheck = BoundsSafeOnly
	}
	return o
}

// BoundsCheckFor reports whether array accesses in a function are
// checked; safe is set for @safe functions.
func (o Options) BoundsCheckFor(safe bool) bool {
	switch o.BoundsCheck {
	case BoundsOn:
		return true
	case BoundsSafeOnly:
		return safe
	}
	return false
}
