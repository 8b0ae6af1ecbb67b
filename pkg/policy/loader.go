package policy

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
)

//go:embed builtin/*.rego
var builtinFS embed.FS

// Builtin returns the modules shipped with the binary.
func Builtin() ([]Policy, error) {
	return loadFS(builtinFS, "builtin", true)
}

// LoadDir reads every .rego file below dir. Files are parsed here so a
// syntax error names the file it came from.
func LoadDir(dir string) ([]Policy, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy dir %s is not a directory", dir)
	}
	return loadFS(os.DirFS(dir), ".", false)
}

func loadFS(fsys fs.FS, root string, builtin bool) ([]Policy, error) {
	var policies []Policy
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".rego" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err := ast.ParseModule(p, string(data)); err != nil {
			return fmt.Errorf("failed to parse %s: %w", p, err)
		}
		policies = append(policies, Policy{Name: filepath.ToSlash(p), Source: string(data), Builtin: builtin})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(policies, func(a, b Policy) int { return strings.Compare(a.Name, b.Name) })
	return policies, nil
}
