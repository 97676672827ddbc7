package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validators are referenced from stage definitions by ID so templates
// stay JSON-serializable. Supported forms:
//
//	require_artifact:<key>        artifact key must be present
//	file_exists:<key>             artifact path must exist on disk
//	nonzero_file:<key>            artifact path must exist and be non-empty
//	extension:<key>:<ext>         artifact path must carry the extension
//
// An empty validator ID always passes.
func runValidator(id string, artifacts map[string]string) error {
	if id == "" {
		return nil
	}
	parts := strings.Split(id, ":")
	switch parts[0] {
	case "require_artifact":
		if len(parts) != 2 {
			return fmt.Errorf("malformed validator %q", id)
		}
		if _, ok := artifacts[parts[1]]; !ok {
			return fmt.Errorf("missing required artifact %q", parts[1])
		}
		return nil

	case "file_exists":
		if len(parts) != 2 {
			return fmt.Errorf("malformed validator %q", id)
		}
		path, ok := artifacts[parts[1]]
		if !ok {
			return fmt.Errorf("missing required artifact %q", parts[1])
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("artifact %q path %s: %v", parts[1], path, err)
		}
		return nil

	case "nonzero_file":
		if len(parts) != 2 {
			return fmt.Errorf("malformed validator %q", id)
		}
		path, ok := artifacts[parts[1]]
		if !ok {
			return fmt.Errorf("missing required artifact %q", parts[1])
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("artifact %q path %s: %v", parts[1], path, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("artifact %q is a zero-byte file", parts[1])
		}
		return nil

	case "extension":
		if len(parts) != 3 {
			return fmt.Errorf("malformed validator %q", id)
		}
		path, ok := artifacts[parts[1]]
		if !ok {
			return fmt.Errorf("missing required artifact %q", parts[1])
		}
		if !strings.EqualFold(filepath.Ext(path), parts[2]) {
			return fmt.Errorf("artifact %q has extension %q, want %q", parts[1], filepath.Ext(path), parts[2])
		}
		return nil

	default:
		return fmt.Errorf("unknown validator %q", id)
	}
}
