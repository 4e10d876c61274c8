// Wayfarer - Location-Based POI Aggregation and Narration
// Copyright 2026 Wayfarer Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wayfarerhq/wayfarer

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSlogLogger_WritesThroughGlobalSink(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { SetLogger(prev) })

	logger := NewSlogLogger()
	logger.Info("supervisor event", "service", "http-server", "attempt", 3)

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Errorf("message missing from output: %s", out)
	}
	if !strings.Contains(out, `"service":"http-server"`) {
		t.Errorf("attr missing from output: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("level not mapped: %s", out)
	}
}

func TestSlogLogger_GroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&buf))
	t.Cleanup(func() { SetLogger(prev) })

	logger := NewSlogLogger().WithGroup("restart").With("service", "worker")
	logger.Warn("backing off")

	out := buf.String()
	if !strings.Contains(out, `"restart.service":"worker"`) {
		t.Errorf("group prefix not applied: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("warn level not mapped: %s", out)
	}
}
