package worker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// MappingFilename is the default name of the logic mapping file inside the
// scripts directory
const MappingFilename = "mapping.json"

// Mapping resolves node logic names to script files in a scripts directory
type Mapping struct {
	dir     string
	entries map[string]string
}

// LoadMapping reads the mapping file from the scripts directory. A missing or
// malformed file yields an empty mapping so a bad deploy never crashes the
// worker.
func LoadMapping(scriptsDir string) *Mapping {
	m := &Mapping{dir: scriptsDir, entries: map[string]string{}}

	data, err := os.ReadFile(filepath.Join(scriptsDir, MappingFilename))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: failed to read mapping file: %v", err)
		}
		return m
	}

	if err := json.Unmarshal(data, &m.entries); err != nil {
		log.Printf("Warning: malformed mapping file, treating as empty: %v", err)
		m.entries = map[string]string{}
	}
	return m
}

// Resolve returns the script source for a logic name. Mapped filenames are
// reduced to their basename so mapping entries cannot escape the scripts
// directory.
func (m *Mapping) Resolve(logic string) (string, error) {
	filename, ok := m.entries[logic]
	if !ok || filename == "" {
		return "", fmt.Errorf("no file mapping for logic %q", logic)
	}

	path := filepath.Join(m.dir, filepath.Base(filename))
	code, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("mapped file %q not found", filename)
		}
		return "", fmt.Errorf("failed to read mapped file %q: %w", filename, err)
	}
	return string(code), nil
}

// Len reports how many logic names are mapped
func (m *Mapping) Len() int {
	return len(m.entries)
}
