// Package loader resolves the ApateSpecs document fragments named by CLI
// positional arguments and by environment variables sharing a common
// prefix, concatenating them in enumeration order. File loading and
// parsing is a deliberate collaborator surface per spec.md §1 — this
// package is the thin seam the core depends on, not the core itself.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/apate/engine/internal/apate/apatetypes"
	"github.com/apate/engine/internal/common/yamlutil"
)

// EnvSpecFiles returns the values of every environment variable whose name
// starts with prefix, sorted by variable name for a deterministic
// enumeration order.
func EnvSpecFiles(prefix string) []string {
	var names []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, os.Getenv(name))
	}
	return paths
}

// LoadFragments reads and parses each path in order, concatenating their
// Deceit lists and scripts into one document.
func LoadFragments(paths []string) (apatetypes.ApateSpecs, error) {
	var merged apatetypes.ApateSpecs
	for _, path := range paths {
		frag, err := loadFile(path)
		if err != nil {
			return apatetypes.ApateSpecs{}, fmt.Errorf("load spec fragment %s: %w", path, err)
		}
		merged = merged.Merge(frag)
	}
	return merged, nil
}

func loadFile(path string) (apatetypes.ApateSpecs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apatetypes.ApateSpecs{}, err
	}

	var doc apatetypes.ApateSpecs
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yamlutil.UnmarshalStrict(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return apatetypes.ApateSpecs{}, err
	}
	return doc, nil
}
