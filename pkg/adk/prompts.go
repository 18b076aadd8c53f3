package adk

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// Prompt names shipped with the binary.
const (
	PromptSystem     = "system_prompt"
	PromptScanAgent  = "scan_agent"
	PromptFixAgent   = "fix_agent"
	PromptFixRequest = "fix_request"
	PromptPolicy     = "policy_check"
)

//go:embed prompts/*.md
var promptFS embed.FS

// GetSystemPrompt returns the default system prompt for the interactive agent.
func GetSystemPrompt() string {
	p, _ := Prompt(PromptSystem)
	return p
}

// Prompt returns the embedded prompt text for name.
func Prompt(name string) (string, error) {
	data, err := promptFS.ReadFile("prompts/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", name, err)
	}
	return string(data), nil
}

// PromptNames lists the embedded prompts.
func PromptNames() []string {
	entries, _ := fs.ReadDir(promptFS, "prompts")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names
}
