package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSimpleProgress(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "")

	progress.Start(4)
	progress.Update(2)
	progress.Finish()

	out := buf.String()
	if !strings.Contains(out, "50.0%") {
		t.Errorf("missing half-way render: %q", out)
	}
	if !strings.Contains(out, "Progress: [") {
		t.Errorf("missing default label: %q", out)
	}
	if !strings.Contains(out, "100.0% (4/4 records)") {
		t.Errorf("missing final render: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish() should end the line")
	}
}

func TestSimpleProgressClampsOverflow(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "")

	progress.Start(2)
	progress.Update(5)
	if !strings.Contains(buf.String(), "(2/2 records)") {
		t.Errorf("Update past total not clamped: %q", buf.String())
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "")

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	if strings.TrimSpace(buf.String()) != "" {
		t.Errorf("zero total rendered %q", buf.String())
	}
}

func TestSimpleProgressError(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "")

	progress.Start(10)
	progress.Error(errors.New("disk full"))

	if !strings.Contains(buf.String(), "Error: disk full") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSimpleProgressLabel(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProgressReporter(&buf, "Exporting")

	progress.Start(3)
	progress.Finish()

	if !strings.HasPrefix(buf.String(), "\rExporting: [") {
		t.Errorf("output = %q", buf.String())
	}
}
