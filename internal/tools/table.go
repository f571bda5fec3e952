package tools

import (
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// definition is one row of the static tool table: the model-facing
// schema plus the skill invocation it maps to.
type definition struct {
	name        string
	description string
	properties  map[string]any
	required    []string

	skillID string
	script  string
	// pathParams are workspace-relative path parameters that must pass
	// validation before the invocation is built.
	pathParams []string
	// redactFlags name argv flags whose following value is redacted in
	// audit records.
	redactFlags []string
	buildArgs   func(params map[string]any) []string

	compiled *gojsonschema.Schema
}

// schemaDocument returns the full JSON-schema object for validation and
// the catalog.
func (d *definition) schemaDocument() map[string]any {
	doc := map[string]any{
		"type":       "object",
		"properties": d.properties,
	}
	if len(d.required) > 0 {
		doc["required"] = d.required
	}
	return doc
}

func strParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return fallback
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

// formatValue renders a decoded JSON value as a script argument.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// appendFilters adds --flag value pairs for every filter key present.
func appendFilters(args []string, params map[string]any, keys [][2]string) []string {
	for _, kf := range keys {
		if v, ok := params[kf[0]]; ok && v != nil {
			args = append(args, kf[1], formatValue(v))
		}
	}
	return args
}

var listFilterFlags = [][2]string{
	{"folder", "--folder"},
	{"pinned", "--pinned"},
	{"archived", "--archived"},
	{"created_after", "--created-after"},
	{"created_before", "--created-before"},
	{"updated_after", "--updated-after"},
	{"updated_before", "--updated-before"},
	{"opened_after", "--opened-after"},
	{"opened_before", "--opened-before"},
	{"title", "--title"},
}

var websiteFilterFlags = [][2]string{
	{"domain", "--domain"},
	{"pinned", "--pinned"},
	{"archived", "--archived"},
	{"created_after", "--created-after"},
	{"created_before", "--created-before"},
	{"updated_after", "--updated-after"},
	{"updated_before", "--updated-before"},
	{"opened_after", "--opened-after"},
	{"opened_before", "--opened-before"},
	{"published_after", "--published-after"},
	{"published_before", "--published-before"},
	{"title", "--title"},
}

// toolTable is the single source of truth for every tool the model may
// call. Every argv gets a trailing --json appended by MapToolCall, and
// note/website tools always address the database backend.
var toolTable = []definition{
	{
		name:        "fs_list",
		description: "List files and directories in the workspace with glob pattern support",
		properties: map[string]any{
			"path":      map[string]any{"type": "string", "description": "Directory path (default: '.')"},
			"pattern":   map[string]any{"type": "string", "description": "Glob pattern (default: '*')"},
			"recursive": map[string]any{"type": "boolean", "description": "Search recursively"},
		},
		skillID:    "fs",
		script:     "list",
		pathParams: []string{"path"},
		buildArgs: func(p map[string]any) []string {
			args := []string{strParam(p, "path", "."), "--pattern", strParam(p, "pattern", "*")}
			if boolParam(p, "recursive") {
				args = append(args, "--recursive")
			}
			return args
		},
	},
	{
		name:        "fs_read",
		description: "Read file content from the workspace",
		properties: map[string]any{
			"path":       map[string]any{"type": "string", "description": "File path to read"},
			"start_line": map[string]any{"type": "integer", "description": "Start line number (optional)"},
			"end_line":   map[string]any{"type": "integer", "description": "End line number (optional)"},
		},
		required:   []string{"path"},
		skillID:    "fs",
		script:     "read",
		pathParams: []string{"path"},
		buildArgs: func(p map[string]any) []string {
			args := []string{strParam(p, "path", "")}
			if v, ok := p["start_line"]; ok {
				args = append(args, "--start-line", formatValue(v))
			}
			if v, ok := p["end_line"]; ok {
				args = append(args, "--end-line", formatValue(v))
			}
			return args
		},
	},
	{
		name:        "fs_write",
		description: "Write content to a file in the workspace",
		properties: map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path to write"},
			"content": map[string]any{"type": "string", "description": "Content to write"},
			"dry_run": map[string]any{"type": "boolean", "description": "Preview without executing"},
		},
		required:    []string{"path", "content"},
		skillID:     "fs",
		script:      "write",
		pathParams:  []string{"path"},
		redactFlags: []string{"--content"},
		buildArgs: func(p map[string]any) []string {
			args := []string{strParam(p, "path", ""), "--content", strParam(p, "content", "")}
			if boolParam(p, "dry_run") {
				args = append(args, "--dry-run")
			}
			return args
		},
	},
	{
		name:        "fs_search",
		description: "Search for files by name pattern or content in the workspace",
		properties: map[string]any{
			"directory":       map[string]any{"type": "string", "description": "Directory to search (default: '.')"},
			"name_pattern":    map[string]any{"type": "string", "description": "Filename pattern (* and ? wildcards)"},
			"content_pattern": map[string]any{"type": "string", "description": "Content pattern (regex)"},
			"case_sensitive":  map[string]any{"type": "boolean", "description": "Case-sensitive search"},
		},
		skillID:    "fs",
		script:     "search",
		pathParams: []string{"directory"},
		buildArgs: func(p map[string]any) []string {
			args := []string{"--directory", strParam(p, "directory", ".")}
			if v := strParam(p, "name_pattern", ""); v != "" {
				args = append(args, "--name", v)
			}
			if v := strParam(p, "content_pattern", ""); v != "" {
				args = append(args, "--content", v)
			}
			if boolParam(p, "case_sensitive") {
				args = append(args, "--case-sensitive")
			}
			return args
		},
	},
	{
		name:        "notes_create",
		description: "Create a markdown note",
		properties: map[string]any{
			"title":   map[string]any{"type": "string", "description": "Optional note title"},
			"content": map[string]any{"type": "string", "description": "Markdown content"},
			"folder":  map[string]any{"type": "string", "description": "Optional folder path"},
			"tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		required:    []string{"content"},
		skillID:     "notes",
		script:      "save_markdown",
		redactFlags: []string{"--content"},
		buildArgs: func(p map[string]any) []string {
			args := []string{strParam(p, "title", ""), "--content", strParam(p, "content", ""), "--database"}
			if v := strParam(p, "folder", ""); v != "" {
				args = append(args, "--folder", v)
			}
			if raw, ok := p["tags"].([]any); ok && len(raw) > 0 {
				tags := make([]string, 0, len(raw))
				for _, t := range raw {
					tags = append(tags, formatValue(t))
				}
				args = append(args, "--tags", strings.Join(tags, ","))
			}
			return args
		},
	},
	{
		name:        "notes_update",
		description: "Update an existing note by ID",
		properties: map[string]any{
			"note_id": map[string]any{"type": "string", "description": "Note UUID"},
			"title":   map[string]any{"type": "string", "description": "Optional note title"},
			"content": map[string]any{"type": "string", "description": "Markdown content"},
		},
		required:    []string{"note_id", "content"},
		skillID:     "notes",
		script:      "save_markdown",
		redactFlags: []string{"--content"},
		buildArgs: func(p map[string]any) []string {
			return []string{
				strParam(p, "title", ""),
				"--content", strParam(p, "content", ""),
				"--note-id", strParam(p, "note_id", ""),
				"--database",
			}
		},
	},
	{
		name:        "notes_delete",
		description: "Delete a note by ID",
		properties: map[string]any{
			"note_id": map[string]any{"type": "string", "description": "Note UUID"},
		},
		required: []string{"note_id"},
		skillID:  "notes",
		script:   "delete_note",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "note_id", ""), "--database"}
		},
	},
	{
		name:        "notes_get",
		description: "Fetch a note by ID",
		properties: map[string]any{
			"note_id": map[string]any{"type": "string", "description": "Note UUID"},
		},
		required: []string{"note_id"},
		skillID:  "notes",
		script:   "read_note",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "note_id", ""), "--database"}
		},
	},
	{
		name:        "notes_list",
		description: "List notes with optional filters",
		properties: map[string]any{
			"folder":         map[string]any{"type": "string"},
			"pinned":         map[string]any{"type": "boolean"},
			"archived":       map[string]any{"type": "boolean"},
			"created_after":  map[string]any{"type": "string"},
			"created_before": map[string]any{"type": "string"},
			"updated_after":  map[string]any{"type": "string"},
			"updated_before": map[string]any{"type": "string"},
			"opened_after":   map[string]any{"type": "string"},
			"opened_before":  map[string]any{"type": "string"},
			"title":          map[string]any{"type": "string"},
		},
		skillID: "notes",
		script:  "list_notes",
		buildArgs: func(p map[string]any) []string {
			return appendFilters([]string{"--database"}, p, listFilterFlags)
		},
	},
	{
		name:        "notes_move",
		description: "Move a note to a folder by ID",
		properties: map[string]any{
			"note_id": map[string]any{"type": "string", "description": "Note UUID"},
			"folder":  map[string]any{"type": "string", "description": "Destination folder path"},
		},
		required: []string{"note_id", "folder"},
		skillID:  "notes",
		script:   "move_note",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "note_id", ""), "--folder", strParam(p, "folder", ""), "--database"}
		},
	},
	{
		name:        "notes_pin",
		description: "Pin or unpin a note",
		properties: map[string]any{
			"note_id": map[string]any{"type": "string", "description": "Note UUID"},
			"pinned":  map[string]any{"type": "boolean", "description": "Pin state"},
		},
		required: []string{"note_id", "pinned"},
		skillID:  "notes",
		script:   "pin_note",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "note_id", ""), "--pinned", strconv.FormatBool(boolParam(p, "pinned")), "--database"}
		},
	},
	{
		name:        "scratchpad_get",
		description: "Fetch the scratchpad note",
		properties:  map[string]any{},
		skillID:     "notes",
		script:      "scratchpad_get",
		buildArgs: func(p map[string]any) []string {
			return []string{"--database"}
		},
	},
	{
		name:        "scratchpad_update",
		description: "Replace the scratchpad content",
		properties: map[string]any{
			"content": map[string]any{"type": "string"},
		},
		required:    []string{"content"},
		skillID:     "notes",
		script:      "scratchpad_update",
		redactFlags: []string{"--content"},
		buildArgs: func(p map[string]any) []string {
			return []string{"--content", strParam(p, "content", ""), "--database"}
		},
	},
	{
		name:        "scratchpad_clear",
		description: "Clear the scratchpad content",
		properties:  map[string]any{},
		skillID:     "notes",
		script:      "scratchpad_clear",
		buildArgs: func(p map[string]any) []string {
			return []string{"--database"}
		},
	},
	{
		name:        "website_save",
		description: "Save a website by URL",
		properties: map[string]any{
			"url": map[string]any{"type": "string", "description": "Website URL"},
		},
		required: []string{"url"},
		skillID:  "websites",
		script:   "save_url",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "url", ""), "--database"}
		},
	},
	{
		name:        "website_delete",
		description: "Delete a saved website by ID",
		properties: map[string]any{
			"website_id": map[string]any{"type": "string", "description": "Website UUID"},
		},
		required: []string{"website_id"},
		skillID:  "websites",
		script:   "delete_website",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "website_id", ""), "--database"}
		},
	},
	{
		name:        "website_get",
		description: "Fetch a saved website by ID",
		properties: map[string]any{
			"website_id": map[string]any{"type": "string", "description": "Website UUID"},
		},
		required: []string{"website_id"},
		skillID:  "websites",
		script:   "read_website",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "website_id", ""), "--database"}
		},
	},
	{
		name:        "website_list",
		description: "List saved websites with optional filters",
		properties: map[string]any{
			"domain":           map[string]any{"type": "string"},
			"pinned":           map[string]any{"type": "boolean"},
			"archived":         map[string]any{"type": "boolean"},
			"created_after":    map[string]any{"type": "string"},
			"created_before":   map[string]any{"type": "string"},
			"updated_after":    map[string]any{"type": "string"},
			"updated_before":   map[string]any{"type": "string"},
			"opened_after":     map[string]any{"type": "string"},
			"opened_before":    map[string]any{"type": "string"},
			"published_after":  map[string]any{"type": "string"},
			"published_before": map[string]any{"type": "string"},
			"title":            map[string]any{"type": "string"},
		},
		skillID: "websites",
		script:  "list_websites",
		buildArgs: func(p map[string]any) []string {
			return appendFilters([]string{"--database"}, p, websiteFilterFlags)
		},
	},
	{
		name:        "website_pin",
		description: "Pin or unpin a saved website",
		properties: map[string]any{
			"website_id": map[string]any{"type": "string"},
			"pinned":     map[string]any{"type": "boolean"},
		},
		required: []string{"website_id", "pinned"},
		skillID:  "websites",
		script:   "pin_website",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "website_id", ""), "--pinned", strconv.FormatBool(boolParam(p, "pinned")), "--database"}
		},
	},
	{
		name:        "website_archive",
		description: "Archive or unarchive a saved website",
		properties: map[string]any{
			"website_id": map[string]any{"type": "string"},
			"archived":   map[string]any{"type": "boolean"},
		},
		required: []string{"website_id", "archived"},
		skillID:  "websites",
		script:   "archive_website",
		buildArgs: func(p map[string]any) []string {
			return []string{strParam(p, "website_id", ""), "--archived", strconv.FormatBool(boolParam(p, "archived")), "--database"}
		},
	},
}
