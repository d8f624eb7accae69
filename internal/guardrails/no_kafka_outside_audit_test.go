// v0
// internal/guardrails/no_kafka_outside_audit_test.go
package guardrails

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

// TestNoKafkaOutsideAudit guards the rest of the module from importing
// segmentio/kafka-go directly. The audit trail (§4.9) is the only
// component allowed to talk to Kafka; every other package that wants an
// append-only record of what happened goes through audit.AuditLog, not a
// kafka.Writer of its own.
func TestNoKafkaOutsideAudit(t *testing.T) {
	moduleRoot := filepath.Clean(filepath.Join("..", ".."))
	allowedDir := filepath.Join(moduleRoot, "internal", "audit")

	err := filepath.WalkDir(moduleRoot, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			name := entry.Name()
			if strings.HasPrefix(name, ".") || name == "vendor" || name == "_examples" {
				return filepath.SkipDir
			}
			if path == allowedDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, spec := range file.Imports {
			if strings.Trim(spec.Path.Value, "\"") == "github.com/segmentio/kafka-go" {
				t.Errorf("direct kafka-go import in %s, route audit events through internal/audit instead", path)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk module for kafka imports: %v", err)
	}
}
