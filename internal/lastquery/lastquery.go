// Package lastquery persists the most recently run logic form so that it
// can be run again or explained without retyping it.
package lastquery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DirName is the per-project state directory, next to sdb.toml.
const DirName = ".sdb"

// LastQuery is the most recently run logic form.
type LastQuery struct {
	Source    string    `json:"source"` // Logic form text as given (JSON or YAML)
	Schema    string    `json:"schema"`
	Timestamp time.Time `json:"timestamp"`
	Rows      int       `json:"rows"`
}

// ErrNoLastQuery is returned by Read when nothing has been run yet.
var ErrNoLastQuery = errors.New("no last query available")

// Path returns the path to the last-query.json file.
func Path(projectDir string) string {
	return filepath.Join(projectDir, DirName, "last-query.json")
}

// Write saves lq under projectDir.
func Write(projectDir string, lq *LastQuery) error {
	dir := filepath.Join(projectDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", DirName, err)
	}

	data, err := json.MarshalIndent(lq, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal last query: %w", err)
	}
	if err := os.WriteFile(Path(projectDir), data, 0644); err != nil {
		return fmt.Errorf("failed to write last query: %w", err)
	}
	return nil
}

// Read loads the last query of projectDir.
func Read(projectDir string) (*LastQuery, error) {
	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoLastQuery
		}
		return nil, fmt.Errorf("failed to read last query: %w", err)
	}

	var lq LastQuery
	if err := json.Unmarshal(data, &lq); err != nil {
		return nil, fmt.Errorf("failed to parse last query: %w", err)
	}
	if lq.Source == "" {
		return nil, ErrNoLastQuery
	}
	return &lq, nil
}
