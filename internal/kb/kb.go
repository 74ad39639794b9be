// Package kb loads the schema knowledge base: the curated whitelist of
// tables and columns the query assistant is allowed to reference.
package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Column describes one whitelisted column.
type Column struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
}

// Table describes one whitelisted table.
type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases"`
	Columns     []Column `json:"columns"`
}

// Schema is the raw KB artifact shape (spec §3).
type Schema struct {
	Tables []Table `json:"tables"`
}

// KB is the schema knowledge base plus its derived lookup structures.
// Every node that touches SQL holds a read-only reference to one of these,
// built once at process start (DESIGN NOTES: "Global state... loaded once").
type KB struct {
	Schema Schema

	// whitelist is the set of "table.column" strings, case-sensitive as declared.
	whitelist map[string]struct{}

	// aliasToField maps a lowercased alias (column name, column name
	// without an "_id" suffix, declared column alias, or
	// "<table alias>.<column>") to one or more "table.column" candidates.
	aliasToField map[string][]string

	// columnsByTable indexes columns for same-table candidate ranking.
	columnsByTable map[string][]string

	// descByField gives the column description for a "table.column" key,
	// used to build field_display_hints (spec §4.7 step 3).
	descByField map[string]string

	hints string
}

// Load reads a KB artifact from path and derives its lookup structures.
func Load(path string) (*KB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kb: read %s: %w", path, err)
	}
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("kb: parse %s: %w", path, err)
	}
	return FromSchema(schema), nil
}

// FromSchema builds a KB from an already-parsed schema, primarily for tests.
func FromSchema(schema Schema) *KB {
	k := &KB{
		Schema:         schema,
		whitelist:      make(map[string]struct{}),
		aliasToField:   make(map[string][]string),
		columnsByTable: make(map[string][]string),
		descByField:    make(map[string]string),
	}
	for _, t := range schema.Tables {
		for _, c := range t.Columns {
			field := t.Name + "." + c.Name
			k.whitelist[field] = struct{}{}
			k.columnsByTable[t.Name] = append(k.columnsByTable[t.Name], field)
			k.descByField[field] = c.Description

			k.addAlias(c.Name, field)
			k.addAlias(strings.TrimSuffix(c.Name, "_id"), field)
			for _, a := range c.Aliases {
				k.addAlias(a, field)
			}
			for _, a := range t.Aliases {
				k.addAlias(a+"."+c.Name, field)
			}
		}
	}
	k.hints = formatHints(schema)
	return k
}

func (k *KB) addAlias(alias, field string) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return
	}
	for _, existing := range k.aliasToField[alias] {
		if existing == field {
			return
		}
	}
	k.aliasToField[alias] = append(k.aliasToField[alias], field)
}

// IsWhitelisted reports whether "table.column" is a KB field.
func (k *KB) IsWhitelisted(field string) bool {
	_, ok := k.whitelist[field]
	return ok
}

// Whitelist returns every "table.column" token, sorted for deterministic iteration.
func (k *KB) Whitelist() []string {
	out := make([]string, 0, len(k.whitelist))
	for f := range k.whitelist {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ResolveAlias returns whitelisted fields matching a case-insensitive alias.
func (k *KB) ResolveAlias(alias string) []string {
	return k.aliasToField[strings.ToLower(strings.TrimSpace(alias))]
}

// FieldsInTable returns every whitelisted "table.column" for a table name.
func (k *KB) FieldsInTable(table string) []string {
	return k.columnsByTable[table]
}

// Description returns the column description for a "table.column" field.
func (k *KB) Description(field string) string {
	return k.descByField[field]
}

// Hints returns the formatted schema hints used in SQL-generation prompts.
func (k *KB) Hints() string {
	return k.hints
}

// CandidatesWithSuffix returns whitelisted fields whose column name ends
// with suffix, or whose alias set contains suffix case-insensitively
// (spec §4.6 step 4).
func (k *KB) CandidatesWithSuffix(suffix string) []string {
	suffix = strings.ToLower(suffix)
	var out []string
	seen := make(map[string]struct{})
	for _, t := range k.Schema.Tables {
		for _, c := range t.Columns {
			field := t.Name + "." + c.Name
			matched := strings.HasSuffix(strings.ToLower(c.Name), suffix)
			if !matched {
				for _, a := range c.Aliases {
					if strings.ToLower(a) == suffix {
						matched = true
						break
					}
				}
			}
			if matched {
				if _, dup := seen[field]; !dup {
					seen[field] = struct{}{}
					out = append(out, field)
				}
			}
		}
	}
	return out
}

func formatHints(schema Schema) string {
	var sb strings.Builder
	sb.WriteString("## AVAILABLE TABLES (use ONLY these exact table.column names)\n\n")
	for _, t := range schema.Tables {
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(" — " + t.Description)
		}
		sb.WriteString(":\n")
		for _, c := range t.Columns {
			sb.WriteString("  - " + t.Name + "." + c.Name)
			if c.Description != "" {
				sb.WriteString(" (" + c.Description + ")")
			}
			if len(c.Aliases) > 0 {
				sb.WriteString(" aliases: " + strings.Join(c.Aliases, ", "))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
