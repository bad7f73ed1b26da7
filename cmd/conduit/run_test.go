package main

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
)

func writePipelineFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := ioutil.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("got error writing pipeline file: %v", err)
	}

	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	path := writePipelineFile(t, `
name: default
env:
  GREETING: hello
steps:
  - name: build
    run: 'true'
  - name: test
    run: test "$GREETING" = hello
`)

	out, err := execute("run", path, "--dir", filepath.Dir(path))
	if err != nil {
		t.Fatalf("got error running pipeline: %v\noutput:\n%v", err, out)
	}

	for _, name := range []string{"build", "test"} {
		if !strings.Contains(out, "ok  "+name) {
			t.Fatalf("expected %v to be reported ok, got:\n%v", name, out)
		}
	}
}

func TestRunCommandFailure(t *testing.T) {
	path := writePipelineFile(t, `
name: default
steps:
  - name: build
    run: echo compile error && exit 1
  - name: test
    run: echo should not run
`)

	out, err := execute("run", path, "--dir", filepath.Dir(path))
	if err == nil {
		t.Fatalf("expected an error for a failing pipeline, got output:\n%v", out)
	}

	if !strings.Contains(out, "FAILED  build") {
		t.Fatalf("expected build to be reported FAILED, got:\n%v", out)
	}

	// The failing step's output comes back in the report.
	if !strings.Contains(out, "compile error") {
		t.Fatalf("expected failing step output in report, got:\n%v", out)
	}

	if strings.Contains(out, "should not run") {
		t.Fatalf("expected no steps after the failure, got:\n%v", out)
	}
}

func TestRunCommandEnvFlag(t *testing.T) {
	path := writePipelineFile(t, `
name: default
steps:
  - name: check
    run: test "$EXTRA" = flag
`)

	out, err := execute("run", path, "--dir", filepath.Dir(path), "--env", "EXTRA=flag")
	if err != nil {
		t.Fatalf("got error running pipeline: %v\noutput:\n%v", err, out)
	}

	if !strings.Contains(out, "ok  check") {
		t.Fatalf("expected check to be reported ok, got:\n%v", out)
	}
}

func TestValidateCommand(t *testing.T) {
	path := writePipelineFile(t, `
name: default
steps:
  - name: build
    run: make
`)

	out, err := execute("validate", path)
	if err != nil {
		t.Fatalf("got error validating pipeline: %v", err)
	}

	if !strings.Contains(out, `pipeline "default" with 1 steps`) {
		t.Fatalf("unexpected validate output:\n%v", out)
	}
}

func TestValidateCommandRejectsEmptySteps(t *testing.T) {
	path := writePipelineFile(t, "name: default\n")

	if _, err := execute("validate", path); err == nil {
		t.Fatalf("expected an error for a pipeline without steps")
	}
}
