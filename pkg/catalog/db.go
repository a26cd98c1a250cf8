package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

// CatalogFileName is the per-database catalog document name.
const CatalogFileName = "catalog.json"

// DB is an open handle on a database directory: the directory exists and
// the catalog is loaded (created empty on first open).
type DB struct {
	Path        string
	CatalogPath string
	Catalog     *Catalog
}

// Open opens or creates the database rooted at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	catalogPath := filepath.Join(path, CatalogFileName)
	c, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(catalogPath); os.IsNotExist(statErr) {
		if err := c.Save(catalogPath); err != nil {
			return nil, err
		}
	}

	return &DB{
		Path:        path,
		CatalogPath: catalogPath,
		Catalog:     c,
	}, nil
}

// TablePath returns the directory holding a table's manifest and shards.
func (db *DB) TablePath(table string) string {
	return filepath.Join(db.Path, table)
}

// ManifestPath returns the manifest.json path for a table.
func (db *DB) ManifestPath(table string) string {
	return filepath.Join(db.Path, table, ManifestFileName)
}
