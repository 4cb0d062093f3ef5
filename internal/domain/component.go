package domain

import (
	"sort"
	"strings"
	"time"
)

// Attribute is a key/value pair that, together with the name, identifies a component.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Component is a tracked unit (for example a cloud service in one region).
type Component struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes"`
	CreatedAt  time.Time   `json:"created_at"`
}

// AttributeMap returns component attributes keyed by name.
func (c *Component) AttributeMap() map[string]string {
	m := make(map[string]string, len(c.Attributes))
	for _, a := range c.Attributes {
		m[a.Name] = a.Value
	}
	return m
}

// Matches reports whether every requested attribute is present on the component
// with the same value. An empty request matches any component.
func (c *Component) Matches(attrs map[string]string) bool {
	own := c.AttributeMap()
	for k, v := range attrs {
		got, ok := own[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// Display renders the component for audit text, e.g. "compute (eu-de, production)".
func (c *Component) Display() string {
	if len(c.Attributes) == 0 {
		return c.Name
	}
	values := make([]string, 0, len(c.Attributes))
	for _, a := range c.Attributes {
		values = append(values, a.Value)
	}
	return c.Name + " (" + strings.Join(values, ", ") + ")"
}

// SortAttributes orders attributes by name so that display and comparison are stable.
func SortAttributes(attrs []Attribute) {
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].Name < attrs[j].Name
	})
}

// AttributesFromMap converts a map into a name-ordered attribute list.
func AttributesFromMap(m map[string]string) []Attribute {
	attrs := make([]Attribute, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, Attribute{Name: k, Value: v})
	}
	SortAttributes(attrs)
	return attrs
}
