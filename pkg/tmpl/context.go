package tmpl

// Context is a render scope. Child scopes shadow names of their parent without
// mutating it; lookups walk from the innermost scope outwards.
type Context struct {
	parent *Context
	vars   map[string]Value
}

// NewContext creates a root scope holding vars.
func NewContext(vars map[string]Value) *Context {
	c := &Context{vars: make(map[string]Value, len(vars))}
	for k, v := range vars {
		c.vars[k] = v
	}
	return c
}

// NewContextFromAny converts a map[string]any into a root scope.
func NewContextFromAny(m map[string]any) *Context {
	return &Context{vars: ValuesFromGo(m)}
}

// Child returns a new scope nested in c.
func (c *Context) Child() *Context {
	return &Context{parent: c, vars: map[string]Value{}}
}

// Set binds name in this scope only.
func (c *Context) Set(name string, v Value) {
	if v == nil {
		v = Null
	}
	c.vars[name] = v
}

// Lookup resolves name, innermost scope first.
func (c *Context) Lookup(name string) (Value, bool) {
	for s := c; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Depth is the number of scopes between c and the root scope.
func (c *Context) Depth() int {
	d := 0
	for s := c.parent; s != nil; s = s.parent {
		d++
	}
	return d
}
