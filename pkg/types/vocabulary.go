package types

// canonicalTypes maps each accepted SQL scalar type to the canonical
// physical type used for columnar storage and casting. Synonyms collapse
// onto one physical type so manifests stay comparable across CREATE
// statements written with different spellings.
var canonicalTypes = map[string]string{
	"tinyint":   "TINYINT",
	"smallint":  "SMALLINT",
	"int":       "INTEGER",
	"integer":   "INTEGER",
	"bigint":    "BIGINT",
	"float":     "FLOAT",
	"real":      "FLOAT",
	"double":    "DOUBLE",
	"decimal":   "DECIMAL(18,3)",
	"bool":      "BOOLEAN",
	"boolean":   "BOOLEAN",
	"varchar":   "VARCHAR",
	"string":    "VARCHAR",
	"text":      "VARCHAR",
	"char":      "VARCHAR",
	"blob":      "BLOB",
	"binary":    "BLOB",
	"date":      "DATE",
	"time":      "TIME",
	"timestamp": "TIMESTAMP",
	"datetime":  "TIMESTAMP",
	"interval":  "INTERVAL",
}

// CanonicalType returns the physical storage type for a schema type from
// the fixed vocabulary, and whether the type is known at all.
func CanonicalType(sqlType string) (string, bool) {
	t, ok := canonicalTypes[sqlType]
	return t, ok
}
