package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func workspace(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	return []string{
		"--db-path", filepath.Join(dir, "mioforge.db"),
		"--artifacts-dir", filepath.Join(dir, "runs"),
		"--exports-dir", filepath.Join(dir, "exports"),
	}
}

func TestRunThenInspect(t *testing.T) {
	ws := workspace(t)

	out, err := execute(t, append([]string{"run", "--service", "numberguess", "--seed", "7", "--evaluations", "400", "--actions", "-1", "--stop-when-covered"}, ws...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "run completed run_id=numberguess-7-") {
		t.Fatalf("unexpected run output: %s", out)
	}

	out, err = execute(t, append([]string{"runs"}, ws...)...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "numberguess") {
		t.Fatalf("expected run in listing: %s", out)
	}

	out, err = execute(t, append([]string{"solution", "--latest"}, ws...)...)
	if err != nil {
		t.Fatalf("solution: %v", err)
	}
	if !strings.Contains(out, "test=1") || !strings.Contains(out, "guess n=") {
		t.Fatalf("unexpected solution output: %s", out)
	}

	for _, sub := range []string{"coverage", "archive", "lineage"} {
		if _, err := execute(t, append([]string{sub}, ws...)...); err != nil {
			t.Fatalf("%s: %v", sub, err)
		}
	}

	out, err = execute(t, append([]string{"export"}, ws...)...)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "exported run_id=") {
		t.Fatalf("unexpected export output: %s", out)
	}
}

func TestRunUsesConfigFile(t *testing.T) {
	ws := workspace(t)
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
service: exclusive
seed: 3
replicates: 2
budget:
  actions: unlimited
  evaluations: 80
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := execute(t, append([]string{"run", "--config", path, "--seed", "10", "--store", "memory"}, ws...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"service=exclusive seed=10", "service=exclusive seed=11", "experiment id=exp-exclusive-10-", "evaluations=80 "} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output: %s", want, out)
		}
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	ws := workspace(t)
	cases := [][]string{
		{"run", "--service", "nope", "--evaluations", "10"},
		{"run", "--service", "petstore", "--replicates", "0"},
		{"run", "--service", "petstore", "--mutator", "greedy"},
		{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
		{"run", "--service", "petstore", "--log-level", "loud"},
		{"runs", "--store", "redis"},
		{"solution", "--run-id", "x", "--latest"},
	}
	for _, args := range cases {
		if _, err := execute(t, append(args, ws...)...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestServicesAndConfig(t *testing.T) {
	out, err := execute(t, append([]string{"services"}, workspace(t)...)...)
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	for _, name := range []string{"numberguess", "exclusive", "petstore"} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in services output: %s", name, out)
		}
	}

	out, err = execute(t, "config")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "service: petstore") {
		t.Fatalf("unexpected default config: %s", out)
	}
}

func TestEmptyStoreMessages(t *testing.T) {
	ws := workspace(t)
	out, err := execute(t, append([]string{"runs"}, ws...)...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs found") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := execute(t, append([]string{"solution"}, ws...)...); err == nil {
		t.Fatal("expected error without runs")
	}
}
