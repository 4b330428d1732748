package keyboard

import "testing"

func TestKeycodeKnownTokensAreMapped(t *testing.T) {
	if got := keycode("CTRL"); got != "29" {
		t.Fatalf("keycode(CTRL) = %q, want 29", got)
	}
	if got := keycode("shift"); got != "42" {
		t.Fatalf("keycode(shift) = %q, want 42", got)
	}
}

func TestKeycodeUnknownTokenPassesThrough(t *testing.T) {
	if got := keycode("f13"); got != "f13" {
		t.Fatalf("keycode(f13) = %q, want f13 unchanged", got)
	}
}

func TestInjectComboRejectsEmptyString(t *testing.T) {
	y := New()
	if err := y.InjectCombo(""); err == nil {
		t.Fatal("expected an error for an empty combo")
	}
}
