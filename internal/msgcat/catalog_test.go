package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_EmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.illegal_move", map[string]any{"Move": "e2e5"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "e2e5 is not legal in this position." {
		t.Fatalf("got %q", got)
	}
}

func TestRender_MissingKeyAndField(t *testing.T) {
	c, _ := New("")
	if _, err := c.Render("errors.nope", nil); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if _, err := c.Render("errors.illegal_move", map[string]any{}); err == nil {
		t.Fatal("expected error for missing template field")
	}
}

func TestErrorMessage_Fallbacks(t *testing.T) {
	c, _ := New("")
	if got := c.ErrorMessage("not_your_turn", nil); got != "It is not your turn." {
		t.Fatalf("got %q", got)
	}
	if got := c.ErrorMessage("no_such_code", nil); got != "Something went wrong." {
		t.Fatalf("unknown code fallback = %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.ErrorMessage("illegal_move", nil); got != "illegal_move" {
		t.Fatalf("nil catalog = %q", got)
	}
}

func TestNew_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  not_your_turn: \"Wait for {{.Opponent}}.\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("errors.not_your_turn", map[string]any{"Opponent": "bob"})
	if err != nil || got != "Wait for bob." {
		t.Fatalf("override = %q, %v", got, err)
	}
	// untouched keys keep their defaults
	if got := c.ErrorMessage("bad_request", nil); !strings.HasPrefix(got, "The request") {
		t.Fatalf("default lost: %q", got)
	}
}

func TestNew_DuplicateOverride(t *testing.T) {
	dir := t.TempDir()
	body := []byte("errors:\n  internal: \"x\"\n")
	_ = os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644)
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("want duplicate error, got %v", err)
	}
}

func TestNew_RejectsNonStringLeaf(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  internal: 42\n"), 0o644)
	if _, err := New(dir); err == nil {
		t.Fatal("expected error for non-string value")
	}
}
