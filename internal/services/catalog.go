// Package services maps tool names to the external service they operate on,
// with display metadata used to title search results.
package services

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Service describes one external service family.
type Service struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Icon    string   `yaml:"icon" json:"icon"`
	URL     string   `yaml:"url" json:"url,omitempty"`
	Aliases []string `yaml:"aliases" json:"aliases,omitempty"`
}

// Title returns the icon-prefixed display name.
func (s Service) Title() string {
	if s.Icon == "" {
		return s.Name
	}
	return s.Icon + " " + s.Name
}

// UnknownID is the service id assigned to tools that match no catalog entry.
const UnknownID = "unknown"

// Unknown is returned by Resolve when no service matches.
var Unknown = Service{ID: UnknownID, Name: "Tool", Icon: "🔧"}

var defaults = []Service{
	{ID: "gmail", Name: "Gmail", Icon: "📧", URL: "https://mail.google.com", Aliases: []string{"mail", "message", "messages", "thread", "threads"}},
	{ID: "drive", Name: "Google Drive", Icon: "📁", URL: "https://drive.google.com", Aliases: []string{"file", "files", "folder", "folders"}},
	{ID: "calendar", Name: "Google Calendar", Icon: "📅", URL: "https://calendar.google.com", Aliases: []string{"event", "events", "calendars"}},
	{ID: "docs", Name: "Google Docs", Icon: "📄", URL: "https://docs.google.com/document", Aliases: []string{"doc", "document", "documents"}},
	{ID: "sheets", Name: "Google Sheets", Icon: "📊", URL: "https://docs.google.com/spreadsheets", Aliases: []string{"sheet", "spreadsheet", "spreadsheets"}},
	{ID: "slides", Name: "Google Slides", Icon: "🖼️", URL: "https://docs.google.com/presentation", Aliases: []string{"slide", "presentation", "presentations"}},
	{ID: "forms", Name: "Google Forms", Icon: "📝", URL: "https://docs.google.com/forms", Aliases: []string{"form"}},
	{ID: "chat", Name: "Google Chat", Icon: "💬", URL: "https://chat.google.com", Aliases: []string{"space", "spaces"}},
	{ID: "tasks", Name: "Google Tasks", Icon: "✅", URL: "https://tasks.google.com", Aliases: []string{"task", "tasklist", "tasklists"}},
	{ID: "contacts", Name: "Google Contacts", Icon: "👤", URL: "https://contacts.google.com", Aliases: []string{"contact", "people", "person"}},
}

// Catalog resolves tool names to services. It is immutable after construction.
type Catalog struct {
	byID    map[string]Service
	byAlias map[string]string
	ids     []string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return build(defaults)
}

// Load returns the built-in catalog with entries from a YAML file merged in.
// Entries with a known id replace the built-in one; new ids are added. An
// empty path or missing file yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read service catalog: %w", err)
	}

	var file struct {
		Services []Service `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse service catalog %s: %w", path, err)
	}

	merged := make([]Service, 0, len(defaults)+len(file.Services))
	index := make(map[string]int, len(defaults))
	for _, s := range defaults {
		index[s.ID] = len(merged)
		merged = append(merged, s)
	}
	for _, s := range file.Services {
		s.ID = strings.ToLower(strings.TrimSpace(s.ID))
		if s.ID == "" {
			continue
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if i, ok := index[s.ID]; ok {
			merged[i] = s
			continue
		}
		index[s.ID] = len(merged)
		merged = append(merged, s)
	}
	return build(merged), nil
}

func build(list []Service) *Catalog {
	c := &Catalog{
		byID:    make(map[string]Service, len(list)),
		byAlias: make(map[string]string),
	}
	for _, s := range list {
		c.byID[s.ID] = s
		c.ids = append(c.ids, s.ID)
		for _, a := range s.Aliases {
			a = strings.ToLower(a)
			if _, taken := c.byAlias[a]; !taken {
				c.byAlias[a] = s.ID
			}
		}
	}
	sort.Strings(c.ids)
	return c
}

// IDs returns the known service ids in ascending order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Get returns the service with the given id.
func (c *Catalog) Get(id string) (Service, bool) {
	s, ok := c.byID[strings.ToLower(id)]
	return s, ok
}

// Has reports whether id names a known service.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[strings.ToLower(id)]
	return ok
}

// Resolve finds the service a tool belongs to. Tool name segments are
// matched against service ids first, then aliases, left to right.
func (c *Catalog) Resolve(toolName string) Service {
	tokens := splitTool(toolName)
	for _, t := range tokens {
		if s, ok := c.byID[t]; ok {
			return s
		}
	}
	for _, t := range tokens {
		if id, ok := c.byAlias[t]; ok {
			return c.byID[id]
		}
	}
	return Unknown
}

// Mentioned returns the first known service id that occurs in text, preferring
// the earliest position and, at equal position, the longest id.
func (c *Catalog) Mentioned(text string) (string, bool) {
	lower := strings.ToLower(text)
	best, bestPos := "", -1
	for _, id := range c.ids {
		pos := strings.Index(lower, id)
		if pos < 0 {
			continue
		}
		if bestPos < 0 || pos < bestPos || (pos == bestPos && len(id) > len(best)) {
			best, bestPos = id, pos
		}
	}
	return best, bestPos >= 0
}

func splitTool(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' ' || r == '/' || r == ':'
	})
}
