package service

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

//go:embed static/index.html
var indexTempl string

type quickCommand struct {
	Title       string
	Description string
	Command     string
}

// renderIndex renders the command page once; it has no per-request state.
func renderIndex(prefix string) ([]byte, error) {
	tmpl, err := template.New("index").Parse(indexTempl)
	if err != nil {
		return nil, fmt.Errorf("error parsing index template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{
		"Prefix": prefix,
		"QuickCommands": []quickCommand{
			{Title: "Help", Description: "Show all available commands", Command: prefix + "help"},
			{Title: "Initialize", Description: "Set up CCPM in current project", Command: prefix + "init"},
			{Title: "New PRD", Description: "Create product requirements document", Command: prefix + "prd-new my-feature"},
			{Title: "List Epics", Description: "Show all epics and their status", Command: prefix + "epic-list"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error rendering index template: %w", err)
	}
	return buf.Bytes(), nil
}
