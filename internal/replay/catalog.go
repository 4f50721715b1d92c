package replay

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"autopark/parker/internal/logging"
)

// Entry describes one completed run bundle found on disk.
type Entry struct {
	Dir      string   `json:"dir"`
	Header   Header   `json:"header"`
	Manifest Manifest `json:"manifest"`
}

// List walks root for completed bundles, identified by their header, and
// returns them oldest first. Bundles whose header or manifest cannot be read
// are logged and skipped.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != headerName {
			return nil
		}
		dir := filepath.Dir(path)
		header, err := ReadHeader(path)
		if err != nil {
			logging.L().Warn("skipping replay bundle", logging.String("dir", dir), logging.Error(err))
			return nil
		}
		manifest, err := readManifest(filepath.Join(dir, header.Manifest))
		if err != nil {
			logging.L().Warn("skipping replay bundle", logging.String("dir", dir), logging.Error(err))
			return nil
		}
		entries = append(entries, Entry{Dir: dir, Header: header, Manifest: manifest})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return manifest, nil
}
