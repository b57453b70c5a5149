package color

import (
	"strings"
	"testing"

	fcolor "github.com/fatih/color"
)

func restore(t *testing.T) {
	orig := fcolor.NoColor
	t.Cleanup(func() { fcolor.NoColor = orig })
}

func TestEnableDisable(t *testing.T) {
	restore(t)

	Enable()
	if !Enabled() {
		t.Error("expected colors to be enabled after Enable()")
	}

	Disable()
	if Enabled() {
		t.Error("expected colors to be disabled after Disable()")
	}
}

func TestFormattersEnabled(t *testing.T) {
	restore(t)
	Enable()

	tests := []struct {
		name string
		got  string
	}{
		{"Success", Success("ok")},
		{"Error", Error("ok")},
		{"Warning", Warning("ok")},
		{"Info", Info("ok")},
		{"Header", Header("ok")},
		{"Dim", Dim("ok")},
		{"Code", Code("ok")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.got, "\x1b[") {
				t.Errorf("%s: expected ANSI escape in %q", tt.name, tt.got)
			}
			if !strings.Contains(tt.got, "ok") {
				t.Errorf("%s: lost text in %q", tt.name, tt.got)
			}
		})
	}
}

func TestFormattersDisabled(t *testing.T) {
	restore(t)
	Disable()

	if got := Errorf("rule %s", "x"); got != "rule x" {
		t.Errorf("expected plain text, got %q", got)
	}
	if got := ArtifactID("test_x.py"); got != "test_x.py" {
		t.Errorf("expected plain text, got %q", got)
	}
}

func TestInitRespectsNoColorEnv(t *testing.T) {
	restore(t)
	Enable()
	t.Setenv("NO_COLOR", "1")

	Init(false)
	if Enabled() {
		t.Error("expected NO_COLOR to disable colors")
	}
}

func TestInitRespectsNoColorFlag(t *testing.T) {
	restore(t)
	Enable()

	Init(true)
	if Enabled() {
		t.Error("expected --no-color to disable colors")
	}
}
