package sandbox

import (
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/variables"
)

// Context holds the identifiers bound into every evaluation for one input row.
// It is owned by a single row and is not safe for concurrent use.
type Context struct {
	values map[string]any
}

// NewContext seeds the identifiers from the row's variables
func NewContext(row models.InputRow) *Context {
	c := &Context{values: make(map[string]any, len(row))}
	for name, value := range row {
		c.Augment(name, value)
	}
	return c
}

// Augment binds value to the identifier form of name
func (c *Context) Augment(name string, value any) {
	id := variables.CamelCase(name)
	if id == "" {
		return
	}
	c.values[id] = value
}

// Get returns the value bound to an identifier
func (c *Context) Get(id string) (any, bool) {
	v, ok := c.values[id]
	return v, ok
}

// Values returns a copy of the bindings
func (c *Context) Values() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
