package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/provisio/provisio/pkg/engine"
)

// Loader reads manifests from YAML or CUE files.
type Loader struct {
	schemas *SchemaRegistry
}

// NewLoader creates a manifest loader.
func NewLoader() *Loader {
	return &Loader{schemas: NewSchemaRegistry()}
}

// Load reads, defaults and validates a manifest. The format is chosen by
// extension: .cue for CUE, anything else is parsed as YAML (JSON included).
// Overrides are "key=value" context options applied before validation.
func (l *Loader) Load(path string, overrides ...string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewValidationError("failed to read manifest", err).
			WithDetail("path", path)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		m, err = l.ParseCUE(data, path)
	default:
		m, err = l.ParseYAML(bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	if err := ApplyOverrides(&m.Context, overrides); err != nil {
		return nil, err
	}

	m = m.WithDefaults()
	if err := Validate(m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseYAML decodes a YAML manifest, rejecting unknown fields.
func (l *Loader) ParseYAML(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return m, engine.NewValidationError("manifest is empty", nil)
		}
		return m, engine.NewValidationError("failed to parse manifest", err)
	}
	return m, nil
}

// ParseCUE evaluates a CUE manifest against the closed manifest schema.
func (l *Loader) ParseCUE(data []byte, filename string) (Manifest, error) {
	var m Manifest
	schema, ok := l.schemas.Schema("manifest")
	if !ok {
		return m, fmt.Errorf("manifest schema not registered")
	}

	val := l.schemas.Context().CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return m, engine.NewValidationError("failed to compile manifest", flattenCUE(err))
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return m, engine.NewValidationError("manifest does not match schema", flattenCUE(err))
	}
	if err := unified.Decode(&m); err != nil {
		return m, engine.NewValidationError("failed to decode manifest", err)
	}
	return m, nil
}

// flattenCUE joins CUE's error list with positions into a single error.
func flattenCUE(err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msg := cueerrors.Details(e, nil)
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d:%d: %s", filepath.Base(pos[0].Filename()), pos[0].Line(), pos[0].Column(),
				strings.TrimSpace(msg))
		}
		msgs = append(msgs, strings.TrimSpace(msg))
	}
	if len(msgs) == 0 {
		return err
	}
	return errors.New(strings.Join(msgs, "; "))
}
