// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultServiceAttribute verifies the default service tag.
func TestDefaultServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Stderr: &buf})
	logger.Info("probe ok", "entity_id", "api-server")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("stderr output is not JSON: %v", err)
	}
	if entry["service"] != "sentinel" {
		t.Errorf("service = %v, want sentinel", entry["service"])
	}
	if entry["entity_id"] != "api-server" {
		t.Errorf("entity_id = %v, want api-server", entry["entity_id"])
	}
}

// TestLevelFiltering verifies messages below the minimum are dropped.
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Stderr: &buf})

	logger.Debug("noise")
	logger.Info("noise")
	logger.Warn("degraded")
	logger.Error("failed")

	out := buf.String()
	if strings.Contains(out, "noise") {
		t.Errorf("filtered levels leaked into output:\n%s", out)
	}
	for _, want := range []string{"degraded", "failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

// TestTextVsJSONFormat verifies the stderr format switch.
func TestTextVsJSONFormat(t *testing.T) {
	var text, js bytes.Buffer
	New(Config{Stderr: &text}).Info("hello")
	New(Config{JSON: true, Stderr: &js}).Info("hello")

	if strings.HasPrefix(strings.TrimSpace(text.String()), "{") {
		t.Errorf("text mode produced JSON: %s", text.String())
	}
	if !strings.HasPrefix(strings.TrimSpace(js.String()), "{") {
		t.Errorf("JSON mode produced text: %s", js.String())
	}
}

// TestFileLogging verifies the file path convention and that file
// output is JSON even in text mode.
func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Stderr: &buf})
	logger.Info("fault admitted", "fault_id", "f-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wantName := "sentinel_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("expected log file %s: %v", wantName, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() {
		t.Fatal("log file is empty")
	}
	var entry map[string]any
	if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v\nline: %s", err, sc.Text())
	}
	if entry["fault_id"] != "f-1" {
		t.Errorf("fault_id = %v, want f-1", entry["fault_id"])
	}
	// stderr saw the same record.
	if !strings.Contains(buf.String(), "fault admitted") {
		t.Error("stderr missing the record written to file")
	}
}

// TestQuietMode verifies stderr is silent while the file still
// receives entries.
func TestQuietMode(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Quiet: true, Stderr: &buf})
	logger.Error("actions exhausted")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if buf.Len() != 0 {
		t.Errorf("quiet mode wrote to stderr: %s", buf.String())
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", entries, err)
	}
}

// TestFileOpenFailureFallsBack verifies a bad log directory degrades
// to stderr-only instead of failing construction.
func TestFileOpenFailureFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Stderr: &buf})
	if logger.FileError() == nil {
		t.Error("expected FileError for an unusable log directory")
	}
	logger.Info("still alive")
	if !strings.Contains(buf.String(), "still alive") {
		t.Error("stderr fallback did not receive the record")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close with no file: %v", err)
	}
}

// TestWithAttributes verifies derived loggers carry their attributes.
func TestWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Stderr: &buf})
	child := logger.With("component", "detector")
	child.Info("poll complete", "candidates", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["component"] != "detector" {
		t.Errorf("component = %v, want detector", entry["component"])
	}
}

// TestCloseIdempotent verifies double Close is safe.
func TestCloseIdempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// TestParseLevel covers the level name table.
func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// TestExpandPath covers ~ expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cases := []struct{ in, want string }{
		{"~/.sentinel/logs", filepath.Join(home, ".sentinel/logs")},
		{"~", home},
		{"/var/log/sentinel", "/var/log/sentinel"},
		{"relative/logs", "relative/logs"},
	}
	for _, tc := range cases {
		if got := expandPath(tc.in); got != tc.want {
			t.Errorf("expandPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
