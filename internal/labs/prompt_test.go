package labs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParsePrompts(t *testing.T) {
	text := "# Lab prompt\n\nSYSTEM\nYou extract labs.\n\nUSER\n  Return JSON.\nKeep units.\n"
	p, err := ParsePrompts(text)
	if err != nil {
		t.Fatalf("ParsePrompts: %v", err)
	}
	if p.System != "You extract labs." {
		t.Fatalf("unexpected system block %q", p.System)
	}
	if p.User != "Return JSON.\nKeep units." {
		t.Fatalf("unexpected user block %q", p.User)
	}
}

func TestParsePromptsErrors(t *testing.T) {
	cases := map[string]string{
		"missing user":   "SYSTEM\nsys\n",
		"missing system": "USER\nuser\n",
		"wrong order":    "USER\nuser\nSYSTEM\nsys\n",
		"empty system":   "SYSTEM\n\nUSER\nuser\n",
		"empty user":     "SYSTEM\nsys\nUSER\n   \n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePrompts(text); !errors.Is(err, ErrPromptBlocks) {
				t.Fatalf("expected ErrPromptBlocks, got %v", err)
			}
		})
	}
}

func TestReadPromptsCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ai-prompt.md")
	if err := os.WriteFile(path, []byte("SYSTEM\r\nsys\r\nUSER\r\nuser\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := ReadPrompts(path)
	if err != nil {
		t.Fatalf("ReadPrompts: %v", err)
	}
	if p.System != "sys" || p.User != "user" {
		t.Fatalf("unexpected prompts %+v", p)
	}

	if _, err := ReadPrompts(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Fatalf("expected error for missing prompt")
	}
}
