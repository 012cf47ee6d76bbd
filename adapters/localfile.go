package adapters

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// readLocalFile resolves path against roots, rejects any result that
// escapes every configured root, and returns the file contents as text.
// PDF/EPUB need a parser adapter a deployment supplies separately.
func readLocalFile(roots []string, path string, kind FileKind) (string, error) {
	switch kind {
	case FileKindPDF, FileKindEPUB:
		return "", fmt.Errorf("file kind %q is not supported by the local file adapter", kind)
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("local file adapter has no configured roots")
	}
	resolved, err := resolveWithinRoots(roots, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	return string(data), nil
}

func resolveWithinRoots(roots []string, path string) (string, error) {
	var lastErr error
	for _, root := range roots {
		resolved, err := resolveWithinRoot(root, path)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func resolveWithinRoot(root, path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes configured root %q", path, root)
	}
	return targetAbs, nil
}
