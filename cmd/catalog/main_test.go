package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_PutGetDump(t *testing.T) {
	dir := t.TempDir()

	if _, err := runCLI(t, "-dir", dir, "put", "banana", "yellow"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := runCLI(t, "-dir", dir, "put", "apple", "green"); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	out, err := runCLI(t, "-dir", dir, "get", "apple")
	if err != nil || out != "green\n" {
		t.Errorf("get = %q, %v", out, err)
	}

	out, err = runCLI(t, "-dir", dir, "dump")
	if err != nil || out != "apple\tgreen\nbanana\tyellow\n" {
		t.Errorf("dump = %q, %v", out, err)
	}

	if _, err := runCLI(t, "-dir", dir, "get", "cherry"); err == nil {
		t.Error("get of missing key succeeded")
	}
}

func TestRun_LoadCompactStats(t *testing.T) {
	dir := t.TempDir()
	tsv := filepath.Join(t.TempDir(), "data.tsv")
	body := "# fruit\nk1\tv1\nk2\tv2\n\nk1\tv1-new\n"
	if err := os.WriteFile(tsv, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := runCLI(t, "-dir", dir, "load", tsv)
	if err != nil || out != "loaded 3 entries\n" {
		t.Fatalf("load = %q, %v", out, err)
	}

	if out, err := runCLI(t, "-dir", dir, "get", "k1"); err != nil || out != "v1-new\n" {
		t.Errorf("get k1 = %q, %v", out, err)
	}
	if out, err := runCLI(t, "-dir", dir, "finish"); err != nil || out != "" {
		t.Errorf("finish = %q, %v", out, err)
	}

	if _, err := runCLI(t, "-dir", dir, "compact"); err != nil {
		t.Fatalf("compact failed: %v", err)
	}

	out, err = runCLI(t, "-dir", dir, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "index records:  2") || !strings.Contains(out, "value bytes:    8") ||
		!strings.Contains(out, "compressed:     false") {
		t.Errorf("stats output:\n%s", out)
	}
}

func TestRun_LoadRejectsMalformedLine(t *testing.T) {
	tsv := filepath.Join(t.TempDir(), "bad.tsv")
	if err := os.WriteFile(tsv, []byte("ok\t1\nno-separator\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := runCLI(t, "-dir", t.TempDir(), "load", tsv)
	if err == nil || !strings.Contains(err.Error(), "bad.tsv:2") {
		t.Errorf("load error = %v, want line 2", err)
	}
}

func TestRun_ConfigFileAndMetrics(t *testing.T) {
	dir := t.TempDir()
	prom := filepath.Join(t.TempDir(), "catalog.prom")
	cfgPath := filepath.Join(t.TempDir(), "catalog.yaml")
	cfg := "dir: " + dir + "\nstride: 8\nkey_order: hash\nmetrics_file: " + prom + "\nlog_level: error\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := runCLI(t, "-config", cfgPath, "put", "toolongkey", "v"); err == nil {
		t.Error("put with key longer than stride succeeded")
	}
	if _, err := runCLI(t, "-config", cfgPath, "put", "k", "v"); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	out, err := runCLI(t, "-config", cfgPath, "stats")
	if err != nil || !strings.Contains(out, "key order:      hash") {
		t.Errorf("stats = %q, %v", out, err)
	}

	data, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(data), "catalog_index_records 1") {
		t.Errorf("metrics file:\n%s", data)
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{
		{"-dir", t.TempDir()},
		{"-dir", t.TempDir(), "put", "only-key"},
		{"-dir", t.TempDir(), "explode"},
	} {
		if _, err := runCLI(t, args...); !errors.Is(err, errUsage) {
			t.Errorf("run(%v) error = %v, want usage", args, err)
		}
	}

	if _, err := runCLI(t, "get", "k"); err == nil || !strings.Contains(err.Error(), "Dir: field is required") {
		t.Errorf("run without dir error = %v", err)
	}
}
