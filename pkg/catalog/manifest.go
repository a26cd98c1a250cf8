package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/firnlabs/firn/pkg/types"
	"github.com/google/uuid"
)

const (
	manifestVersion = 1

	// DefaultRowsPerShard is the shard size every new manifest records;
	// an INSERT request may override it for that insert only.
	DefaultRowsPerShard = 100_000
)

// ManifestFileName is the per-table manifest document name.
const ManifestFileName = "manifest.json"

// Manifest is the per-table document listing schema and ordered shards.
// Field order matches the sorted-key JSON layout.
type Manifest struct {
	CreatedAt       string             `json:"created_at"`
	ManifestVersion int                `json:"manifest_version"`
	RowsPerShard    int                `json:"rows_per_shard"`
	Schema          []types.ColumnInfo `json:"schema"`
	Shards          []string           `json:"shards"`
	TableID         string             `json:"table_id"`
	TableName       string             `json:"table_name"`
}

// NewManifest builds a manifest for a freshly created table with a new
// stable table id and no shards.
func NewManifest(table string, schema []types.ColumnInfo) *Manifest {
	return &Manifest{
		CreatedAt:       currentTimestamp(),
		ManifestVersion: manifestVersion,
		RowsPerShard:    DefaultRowsPerShard,
		Schema:          schema,
		Shards:          []string{},
		TableID:         uuid.New().String(),
		TableName:       table,
	}
}

// LoadManifest reads a manifest document. Loading is strict: unknown
// keys and version mismatches are errors, unlike the tolerant catalog.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if m.ManifestVersion != manifestVersion {
		return nil, fmt.Errorf("manifest %s: expected version %d, got %d", path, manifestVersion, m.ManifestVersion)
	}
	if m.RowsPerShard <= 0 {
		return nil, fmt.Errorf("manifest %s: rows_per_shard must be positive", path)
	}
	return &m, nil
}

// Save persists the manifest with an atomic replace.
func (m *Manifest) Save(path string) error {
	data, err := marshalDocument(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return writeFileAtomic(path, data)
}

var shardNameRe = regexp.MustCompile(`^shard-(\d+)\.parquet$`)

// ShardFileName returns the canonical shard file name for index i.
func ShardFileName(i int) string {
	return fmt.Sprintf("shard-%d.parquet", i)
}

// ShardIndex extracts the numeric index from a shard file name, or -1
// when the name doesn't match the shard pattern.
func ShardIndex(name string) int {
	m := shardNameRe.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	i, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return i
}

// NextShardIndex returns the first index a new shard may take: one past
// the highest existing index, or zero for an empty table. Prior shard
// files are never renumbered or rewritten.
func NextShardIndex(shards []string) int {
	next := 0
	for _, s := range shards {
		if i := ShardIndex(s); i >= next {
			next = i + 1
		}
	}
	return next
}
