// v0
// internal/guardrails/no_session_mutex_test.go
package guardrails

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

// TestNoSessionMutex guards internal/session from reintroducing a
// sync.Mutex/sync.RWMutex. The session coordinator is a single-writer
// actor: all mutable session state is owned by the Run goroutine and
// reached only through the ops channel, and external readers load an
// atomic.Pointer snapshot. A mutex in this package is a sign someone
// is about to share state across goroutines the actor model already
// serializes, so this test fails the moment one appears.
func TestNoSessionMutex(t *testing.T) {
	pkgRoot := filepath.Clean(filepath.Join("..", "session"))
	err := filepath.WalkDir(pkgRoot, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return err
		}

		syncAlias, imported := syncImportAlias(file)
		if !imported {
			return nil
		}

		ast.Inspect(file, func(n ast.Node) bool {
			sel, ok := n.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			ident, ok := sel.X.(*ast.Ident)
			if !ok || ident.Name != syncAlias {
				return true
			}
			if sel.Sel != nil && (sel.Sel.Name == "Mutex" || sel.Sel.Name == "RWMutex") {
				t.Errorf("sync.%s used in %s, session state must stay owned by the actor goroutine", sel.Sel.Name, path)
			}
			return true
		})
		return nil
	})
	if err != nil {
		t.Fatalf("walk internal/session: %v", err)
	}
}

func syncImportAlias(file *ast.File) (string, bool) {
	for _, spec := range file.Imports {
		path := strings.Trim(spec.Path.Value, "\"")
		if path != "sync" {
			continue
		}
		if spec.Name != nil && spec.Name.Name != "" {
			return spec.Name.Name, true
		}
		return "sync", true
	}
	return "", false
}
