package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provisio/provisio/pkg/engine"
)

func fileOp(name, path string) *engine.Operation {
	res := engine.Resource{
		Kind:       engine.KindFile,
		Name:       name,
		Attributes: map[string]string{"path": path, "mode": "0644"},
	}
	return &engine.Operation{ID: res.ID(), Resource: res, Action: engine.ActionCreate}
}

func testScope() Scope {
	return Scope{Project: "demo", Root: "/opt/provisio", ExposedPorts: []int{80, 443}}
}

func TestBuiltinAllowsFilesUnderRoot(t *testing.T) {
	e, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	plan := &engine.Plan{Operations: []*engine.Operation{
		fileOp("compose", "/opt/provisio/docker-compose.yml"),
		fileOp("nginx-site", "/opt/provisio/nginx/default.conf"),
	}}

	d, err := e.Evaluate(context.Background(), testScope(), plan)
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	assert.Empty(t, d.Warnings)

	assert.NoError(t, e.Gate(testScope()).Check(context.Background(), plan))
}

func TestBuiltinDeniesFilesOutsideRoot(t *testing.T) {
	e, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
	}{
		{name: "absolute elsewhere", path: "/etc/nginx/nginx.conf"},
		{name: "sibling prefix", path: "/opt/provisio-other/x"},
		{name: "dot dot", path: "/opt/provisio/../../etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &engine.Plan{Operations: []*engine.Operation{fileOp("bad", tt.path)}}

			d, err := e.Evaluate(context.Background(), testScope(), plan)
			require.NoError(t, err)
			require.Len(t, d.Denials, 1)
			assert.Equal(t, "file.bad", d.Denials[0].ResourceID)
			assert.Equal(t, "provisio.builtin.files", d.Denials[0].Package)

			err = e.Gate(testScope()).Check(context.Background(), plan)
			require.Error(t, err)
			assert.True(t, engine.IsValidation(err))
			assert.Equal(t, engine.ErrCodePolicyDenied, engine.CodeOf(err))
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}

func TestBuiltinWarnsOnDatabasePort(t *testing.T) {
	e, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	scope := testScope()
	scope.ExposedPorts = append(scope.ExposedPorts, 5432)

	d, err := e.Evaluate(context.Background(), scope, &engine.Plan{})
	require.NoError(t, err)
	assert.True(t, d.Allowed())
	require.Len(t, d.Warnings, 1)
	assert.Equal(t, "service.db", d.Warnings[0].ResourceID)

	assert.NoError(t, e.Gate(scope).Check(context.Background(), &engine.Plan{}))
}

func TestCustomPolicies(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.rego"), []byte(`package provisio.site

deny contains "grafana is not allowed here" if {
	some op in input.operations
	op.id == "service.grafana"
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	extra, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, extra, 1)
	assert.Equal(t, "site.rego", extra[0].Name)

	e, err := NewEngine(zerolog.Nop(), extra...)
	require.NoError(t, err)
	assert.Len(t, e.Policies(), 3)

	res := engine.Resource{Kind: engine.KindService, Name: "grafana"}
	plan := &engine.Plan{Operations: []*engine.Operation{{ID: res.ID(), Resource: res, Action: engine.ActionCreate}}}

	d, err := e.Evaluate(context.Background(), testScope(), plan)
	require.NoError(t, err)
	require.Len(t, d.Denials, 1)
	assert.Equal(t, "grafana is not allowed here", d.Denials[0].Message)
	assert.Equal(t, "provisio.site", d.Denials[0].Package)
}

func TestLoadKeepsPreviousSetOnError(t *testing.T) {
	e, err := NewEngine(zerolog.Nop())
	require.NoError(t, err)

	err = e.Load(context.Background(), Policy{Name: "broken.rego", Source: "package provisio.broken\n\ndeny contains x if { x := }\n"})
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Len(t, e.Policies(), 2)
}

func TestLoadDirRejectsSyntaxErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.rego"), []byte("package provisio.bad\n\ndeny contains if {"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.rego")
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
