package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/user/gosec-mcp/pkg/adk"
)

// PromptTemplate is a named text/template with the variables it requires.
type PromptTemplate struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Template    string   `yaml:"template"`
	Variables   []string `yaml:"variables"`
}

// Templates holds the prompt templates used by the agent invoker and the fix stage.
type Templates struct {
	byID map[string]PromptTemplate
}

// DefaultTemplates returns the templates embedded in the binary.
func DefaultTemplates() *Templates {
	t := &Templates{byID: make(map[string]PromptTemplate)}
	defaults := []PromptTemplate{
		{ID: adk.PromptScanAgent, Name: "Scan agent instructions", Variables: []string{"backend"}},
		{ID: adk.PromptFixAgent, Name: "Fix agent instructions"},
		{ID: adk.PromptFixRequest, Name: "Fix request", Variables: []string{"filename", "language", "code"}},
		{ID: adk.PromptSystem, Name: "Interactive system prompt"},
		{ID: adk.PromptPolicy, Name: "Policy compliance check", Variables: []string{"policies", "prompt"}},
	}
	for _, d := range defaults {
		text, err := adk.Prompt(d.ID)
		if err != nil {
			continue
		}
		d.Template = text
		t.byID[d.ID] = d
	}
	return t
}

// LoadTemplates reads YAML templates from a directory. A template with the
// same id as a built-in one replaces it.
func (t *Templates) LoadTemplates(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}

		var pt PromptTemplate
		if err := yaml.Unmarshal(data, &pt); err != nil {
			return fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		if pt.ID == "" || pt.Template == "" {
			return fmt.Errorf("template %s: id and template are required", entry.Name())
		}
		if _, err := template.New(pt.ID).Parse(pt.Template); err != nil {
			return fmt.Errorf("template %s: %w", entry.Name(), err)
		}
		t.byID[pt.ID] = pt
	}
	return nil
}

// ListTemplates returns "id: name" entries sorted by id.
func (t *Templates) ListTemplates() []string {
	var list []string
	for _, pt := range t.byID {
		list = append(list, fmt.Sprintf("%s: %s", pt.ID, pt.Name))
	}
	sort.Strings(list)
	return list
}

// Render executes template id with vars. Every declared variable must be present.
func (t *Templates) Render(id string, vars map[string]string) (string, error) {
	pt, ok := t.byID[id]
	if !ok {
		return "", fmt.Errorf("template not found: %s", id)
	}

	for _, requiredVar := range pt.Variables {
		if _, exists := vars[requiredVar]; !exists {
			return "", fmt.Errorf("template %s: missing required variable: %s", id, requiredVar)
		}
	}
	return renderString(id, pt.Template, vars)
}

func renderString(name, tmplStr string, vars map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %v", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %v", name, err)
	}
	return buf.String(), nil
}
