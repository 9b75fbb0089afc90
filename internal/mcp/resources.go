package mcp

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed docs/*.md
var docsFS embed.FS

// resourceScheme prefixes every documentation URI.
const resourceScheme = "ado://docs/"

// ResourceCatalog serves the embedded documentation set. Each markdown
// file under docs/ becomes one resource at ado://docs/<slug>, where the
// slug is the filename without extension.
type ResourceCatalog struct {
	resources []*Resource
	bodies    map[string]string
}

// resourceTitles maps slugs to human-readable names and descriptions.
// Files without an entry fall back to the slug itself.
var resourceTitles = map[string][2]string{
	"wiql-reference":  {"WIQL Quick Reference", "Syntax and examples for Work Item Query Language queries"},
	"odata-reference": {"OData Analytics Reference", "Query patterns for the Analytics OData endpoint"},
	"query-handles":   {"Query Handle Guide", "How query handles avoid ID hallucination in bulk operations"},
	"bulk-operations": {"Bulk Operations Guide", "Dry-run previews, item selection, and error isolation"},
	"tool-overview":   {"Tool Overview", "Map of available tools and when to use each"},
}

// NewResourceCatalog loads the embedded documentation files.
func NewResourceCatalog() (*ResourceCatalog, error) {
	entries, err := fs.ReadDir(docsFS, "docs")
	if err != nil {
		return nil, fmt.Errorf("read embedded docs: %w", err)
	}

	c := &ResourceCatalog{bodies: make(map[string]string)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := fs.ReadFile(docsFS, "docs/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		slug := strings.TrimSuffix(entry.Name(), ".md")
		uri := resourceScheme + slug

		name, description := slug, ""
		if title, ok := resourceTitles[slug]; ok {
			name, description = title[0], title[1]
		}
		c.resources = append(c.resources, &Resource{
			URI:         uri,
			Name:        name,
			Description: description,
			MimeType:    "text/markdown",
		})
		c.bodies[uri] = string(data)
	}
	sort.Slice(c.resources, func(i, j int) bool {
		return c.resources[i].URI < c.resources[j].URI
	})
	return c, nil
}

// List returns every resource in stable URI order.
func (c *ResourceCatalog) List() []*Resource {
	out := make([]*Resource, len(c.resources))
	copy(out, c.resources)
	return out
}

// Read returns the content of one resource by URI.
func (c *ResourceCatalog) Read(uri string) (*ResourceContent, error) {
	body, ok := c.bodies[uri]
	if !ok {
		return nil, fmt.Errorf("Resource not found: %s", uri)
	}
	return &ResourceContent{
		URI:      uri,
		MimeType: "text/markdown",
		Text:     body,
	}, nil
}
