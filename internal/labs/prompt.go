// Package labs extracts structured clinical lab results from report PDFs and
// photos with an LLM.
package labs

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrPromptBlocks is returned when a prompt file lacks usable SYSTEM/USER blocks.
var ErrPromptBlocks = errors.New("prompt must contain non-empty SYSTEM and USER blocks")

// Prompts holds the two instruction blocks sent to the model.
type Prompts struct {
	System string
	User   string
}

// ParsePrompts splits text on the first lines equal to "SYSTEM" and "USER".
// Everything between the markers is the system prompt, everything after USER
// the user prompt.
func ParsePrompts(text string) (Prompts, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	sysIdx, userIdx := -1, -1
	for i, ln := range lines {
		switch strings.TrimSpace(ln) {
		case "SYSTEM":
			if sysIdx < 0 {
				sysIdx = i
			}
		case "USER":
			if userIdx < 0 {
				userIdx = i
			}
		}
	}
	if sysIdx < 0 || userIdx < 0 || userIdx <= sysIdx {
		return Prompts{}, fmt.Errorf("locate blocks: %w", ErrPromptBlocks)
	}

	p := Prompts{
		System: strings.TrimSpace(strings.Join(lines[sysIdx+1:userIdx], "\n")),
		User:   strings.TrimSpace(strings.Join(lines[userIdx+1:], "\n")),
	}
	if p.System == "" || p.User == "" {
		return Prompts{}, fmt.Errorf("empty block: %w", ErrPromptBlocks)
	}
	return p, nil
}

// ReadPrompts loads and parses a prompt file.
func ReadPrompts(path string) (Prompts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompt %s: %w", path, err)
	}
	return ParsePrompts(string(raw))
}
