package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// MemoryConfigTOML runs against an in-memory sqlite database filled from
// data.yaml on every command.
const MemoryConfigTOML = `
[backend]
kind = "sql"
dialect = "sqlite"
dsn = ":memory:"
data = "data.yaml"

[schema]
path = "schema.yaml"

[log]
level = "error"
`

// DocstoreConfigTOML runs against the in-memory document store.
const DocstoreConfigTOML = `
[backend]
kind = "docstore"
data = "data.yaml"

[schema]
path = "schema.yaml"

[log]
level = "error"
`

// TestProject is a temporary sdb project directory.
type TestProject struct {
	Path    string
	t       *testing.T
	config  string
	schema  string
	dataset string
	files   map[string]string
}

// NewTestProject creates a project builder with the sales fixtures and an
// in-memory sqlite backend. Call Build to write it to disk.
func NewTestProject(t *testing.T) *TestProject {
	t.Helper()
	return &TestProject{
		t:       t,
		config:  MemoryConfigTOML,
		schema:  SalesSchemaYAML,
		dataset: SalesDatasetYAML,
		files:   make(map[string]string),
	}
}

// WithConfig sets the sdb.toml content.
func (p *TestProject) WithConfig(toml string) *TestProject {
	p.config = toml
	return p
}

// WithSchema sets the schema.yaml content.
func (p *TestProject) WithSchema(yaml string) *TestProject {
	p.schema = yaml
	return p
}

// WithDataset sets the data.yaml content. An empty dataset writes no file.
func (p *TestProject) WithDataset(yaml string) *TestProject {
	p.dataset = yaml
	return p
}

// WithFile adds a file relative to the project root.
func (p *TestProject) WithFile(path, content string) *TestProject {
	p.files[path] = content
	return p
}

// Build creates the project directory and its files.
func (p *TestProject) Build() *TestProject {
	p.t.Helper()
	p.Path = p.t.TempDir()

	if p.config != "" {
		p.writeFile("sdb.toml", p.config)
	}
	if p.schema != "" {
		p.writeFile("schema.yaml", p.schema)
	}
	if p.dataset != "" {
		p.writeFile("data.yaml", p.dataset)
	}
	for path, content := range p.files {
		p.writeFile(path, content)
	}
	return p
}

// ConfigPath returns the path of sdb.toml.
func (p *TestProject) ConfigPath() string {
	return filepath.Join(p.Path, "sdb.toml")
}

// Join resolves relPath against the project root.
func (p *TestProject) Join(relPath string) string {
	return filepath.Join(p.Path, filepath.FromSlash(relPath))
}

func (p *TestProject) writeFile(relPath, content string) {
	p.t.Helper()
	fullPath := p.Join(relPath)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		p.t.Fatalf("failed to write file %s: %v", fullPath, err)
	}
}

// ReadFile reads a file from the project.
func (p *TestProject) ReadFile(relPath string) string {
	p.t.Helper()
	content, err := os.ReadFile(p.Join(relPath))
	if err != nil {
		p.t.Fatalf("failed to read file %s: %v", relPath, err)
	}
	return string(content)
}

// FileExists reports whether relPath exists in the project.
func (p *TestProject) FileExists(relPath string) bool {
	p.t.Helper()
	_, err := os.Stat(p.Join(relPath))
	return err == nil
}
