package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// manifestSchema closes the manifest so unknown options are rejected when a
// manifest is written in CUE. Go-side validation still runs afterwards.
const manifestSchema = `
#Port: 80 | 443 | 3000 | 5432 | 9090

#Package: {
	name:      string & !=""
	provides?: [...string]
}

#Context: {
	serverIP:      string
	dbPassword:    string
	exposedPorts?: [...#Port]
}

#App: {
	image?:        string
	baseImage?:    string
	buildContext?: string
	port?:         int & >0 & <65536
	command?:      [...string]
}

#Manifest: {
	project?:  string & =~"^[a-z0-9]([a-z0-9-]*[a-z0-9])?$"
	root?:     string & =~"^/"
	context:   #Context
	app?:      #App
	packages?: [...#Package]
}
`

// SchemaRegistry holds compiled CUE schemas.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in manifest schema.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("manifest", manifestSchema, "#Manifest"); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles source and registers the definition at path under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".schema.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// Schema returns a registered schema.
func (sr *SchemaRegistry) Schema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Context returns the CUE context schemas were compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}
