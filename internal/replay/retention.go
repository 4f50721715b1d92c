package replay

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Prune keeps the newest keep run bundles under root and deletes the rest.
// Only directories containing a manifest are considered. It returns the
// removed directories; keep <= 0 disables pruning.
func Prune(root string, keep int) ([]string, error) {
	if keep <= 0 || root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	type bundle struct {
		dir     string
		created time.Time
	}
	var bundles []bundle
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		info, err := os.Stat(filepath.Join(dir, manifestName))
		if err != nil {
			continue
		}
		bundles = append(bundles, bundle{dir: dir, created: info.ModTime()})
	}
	if len(bundles) <= keep {
		return nil, nil
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].created.After(bundles[j].created) })

	var removed []string
	var firstErr error
	for _, b := range bundles[keep:] {
		if err := os.RemoveAll(b.dir); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, b.dir)
	}
	return removed, firstErr
}
