package main

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// LoweringTestCase is one case of testdata/lowering.yaml
type LoweringTestCase struct {
	Name        string   `yaml:"name"`
	Input       string   `yaml:"input"`
	Args        []string `yaml:"args"`          // Extra command-line flags
	Expect      []string `yaml:"expect"`        // Strings that must appear in the IR
	ExpectOrder []string `yaml:"expect_order"`  // Strings that must appear in this order
	ExpectNot   []string `yaml:"expect_not"`    // Strings that must NOT appear
	Run         string   `yaml:"run,omitempty"` // Function to execute after lowering
	RunResult   string   `yaml:"run_result,omitempty"`
	Error       string   `yaml:"error,omitempty"` // Expected diagnostic; lowering must fail
	Skip        string   `yaml:"skip,omitempty"`
}

// LoweringTestFile represents the lowering.yaml file structure
type LoweringTestFile struct {
	Tests []LoweringTestCase `yaml:"tests"`
}

func TestLoweringYAML(t *testing.T) {
	data, err := os.ReadFile("testdata/lowering.yaml")
	if err != nil {
		t.Fatalf("lowering.yaml not found: %v", err)
	}

	var testFile LoweringTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse lowering.yaml: %v", err)
	}
	if len(testFile.Tests) == 0 {
		t.Fatal("lowering.yaml has no tests")
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}
			file := writeFile(t, "test.yaml", tc.Input)

			args := append([]string{"-dir"}, tc.Args...)
			if tc.Run != "" {
				args = append(args, "--run", tc.Run)
			}
			out, errOut, err := runCLI(t, append(args, file)...)

			if tc.Error != "" {
				if err == nil {
					t.Fatalf("expected lowering to fail with %q\nGot:\n%s", tc.Error, out)
				}
				if !strings.Contains(errOut, tc.Error) {
					t.Errorf("expected stderr to contain %q\nGot:\n%s", tc.Error, errOut)
				}
				return
			}
			if err != nil {
				t.Fatalf("ralph-dc failed: %v\nStderr: %s", err, errOut)
			}

			for _, exp := range tc.Expect {
				if !strings.Contains(out, exp) {
					t.Errorf("expected output to contain %q\nGot:\n%s", exp, out)
				}
			}

			if len(tc.ExpectOrder) > 0 {
				lastIdx := -1
				for _, exp := range tc.ExpectOrder {
					idx := strings.Index(out, exp)
					if idx == -1 {
						t.Errorf("expected output to contain %q for order check\nGot:\n%s", exp, out)
					} else if idx <= lastIdx {
						t.Errorf("expected %q to appear after previous pattern (position %d vs %d)\nGot:\n%s", exp, idx, lastIdx, out)
					}
					lastIdx = idx
				}
			}

			for _, exp := range tc.ExpectNot {
				if strings.Contains(out, exp) {
					t.Errorf("expected output NOT to contain %q\nGot:\n%s", exp, out)
				}
			}

			if tc.Run != "" {
				lines := strings.Split(strings.TrimSpace(out), "\n")
				if got := lines[len(lines)-1]; got != tc.RunResult {
					t.Errorf("%s() = %s, want %s", tc.Run, got, tc.RunResult)
				}
			}
		})
	}
}
