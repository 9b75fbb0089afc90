package mcp

import (
	"fmt"
	"sort"
	"strings"
)

// promptTemplate is one registered prompt with its argument-bearing body.
// Placeholders use {{name}} and are substituted at get time.
type promptTemplate struct {
	prompt *Prompt
	body   string
}

// PromptCatalog serves guided prompt templates for common work-tracking
// workflows.
type PromptCatalog struct {
	templates map[string]*promptTemplate
}

// NewPromptCatalog builds the default prompt set.
func NewPromptCatalog() *PromptCatalog {
	c := &PromptCatalog{templates: make(map[string]*promptTemplate)}

	c.register(&Prompt{
		Name:        "triage-stale-items",
		Description: "Find work items with no recent activity and propose a disposition for each",
		Arguments: []PromptArgument{
			{Name: "days", Description: "Inactivity threshold in days", Required: true},
			{Name: "area", Description: "Area path to scope the search", Required: false},
		},
	}, strings.TrimSpace(`
Find all work items that have had no activity for at least {{days}} days{{#area}} under the area path {{area}}{{/area}}.

1. Run wiql-query with a ChangedDate filter to build the cohort.
2. Use analyze-items on the resulting handle to see the state and type distribution.
3. For each group, propose one of: close, reassign, move to backlog, or keep with a comment explaining why.
4. Present the proposal as a table before performing any bulk operation.
`))

	c.register(&Prompt{
		Name:        "sprint-cleanup",
		Description: "Move unfinished items out of a closing sprint",
		Arguments: []PromptArgument{
			{Name: "sprint", Description: "Iteration path of the closing sprint", Required: true},
			{Name: "target", Description: "Iteration path to move unfinished items into", Required: true},
		},
	}, strings.TrimSpace(`
The sprint {{sprint}} is closing. Identify every work item in it that is not Closed or Removed.

1. Query for open items with IterationPath under {{sprint}}.
2. Review the list with select-items; flag anything Active with recent changes for discussion rather than automatic moving.
3. Use bulk-move-iteration (dry-run first) to move the remainder to {{target}}.
4. Add a comment to each moved item noting the sprint rollover.
`))

	c.register(&Prompt{
		Name:        "bug-sweep",
		Description: "Audit unassigned or mis-stated bugs and fix the metadata in bulk",
		Arguments: []PromptArgument{
			{Name: "area", Description: "Area path to sweep", Required: false},
		},
	}, strings.TrimSpace(`
Audit bugs{{#area}} under {{area}}{{/area}} for hygiene problems.

1. Query for bugs that are unassigned, untagged, or Active with no changes in 14 days.
2. Use analyze-items to group the findings.
3. Propose bulk-assign for unassigned bugs with an obvious owner, and bulk-comment pinging owners of stale ones.
4. Run every bulk operation as a dry-run and show the preview before executing.
`))

	return c
}

func (c *PromptCatalog) register(p *Prompt, body string) {
	c.templates[p.Name] = &promptTemplate{prompt: p, body: body}
}

// List returns every prompt in stable name order.
func (c *PromptCatalog) List() []*Prompt {
	out := make([]*Prompt, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get renders one prompt with its arguments substituted. Missing
// required arguments fail; optional conditional sections render only
// when their argument is present.
func (c *PromptCatalog) Get(name string, args map[string]string) (*GetPromptResult, error) {
	t, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("Prompt not found: %s", name)
	}
	for _, arg := range t.prompt.Arguments {
		if arg.Required {
			if v, present := args[arg.Name]; !present || v == "" {
				return nil, fmt.Errorf("prompt %s: missing required argument %q", name, arg.Name)
			}
		}
	}
	body := renderTemplate(t.body, args)
	return &GetPromptResult{
		Description: t.prompt.Description,
		Messages: []PromptMessage{
			{Role: "user", Content: MessageContent{Type: "text", Text: body}},
		},
	}, nil
}

// renderTemplate substitutes {{name}} placeholders and resolves
// {{#name}}...{{/name}} conditional sections, which are kept (with the
// inner placeholders substituted) only when the argument is non-empty.
func renderTemplate(body string, args map[string]string) string {
	for name, value := range args {
		open := "{{#" + name + "}}"
		closeTag := "{{/" + name + "}}"
		for {
			start := strings.Index(body, open)
			if start < 0 {
				break
			}
			end := strings.Index(body, closeTag)
			if end < 0 {
				break
			}
			inner := body[start+len(open) : end]
			if value == "" {
				inner = ""
			}
			body = body[:start] + inner + body[end+len(closeTag):]
		}
		body = strings.ReplaceAll(body, "{{"+name+"}}", value)
	}
	// Drop conditional sections whose argument was never supplied.
	for {
		start := strings.Index(body, "{{#")
		if start < 0 {
			break
		}
		nameEnd := strings.Index(body[start:], "}}")
		if nameEnd < 0 {
			break
		}
		name := body[start+3 : start+nameEnd]
		closeTag := "{{/" + name + "}}"
		end := strings.Index(body, closeTag)
		if end < 0 {
			break
		}
		body = body[:start] + body[end+len(closeTag):]
	}
	return body
}
