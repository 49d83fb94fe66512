package polystore

import (
	"fmt"
	"time"
)

// StorageLocation points at the physical home of a document. SQL fields
// are set for BackendSQL, collection fields for BackendNoSQL.
type StorageLocation struct {
	Backend BackendType `json:"backend"`

	TableName      string   `json:"table_name,omitempty"`
	IndexedColumns []string `json:"indexed_columns,omitempty"`
	RowCount       int      `json:"row_count,omitempty"`
	// Array records that the rows came from a top-level array, so reads
	// rebuild an array even when it had one element.
	Array bool `json:"array,omitempty"`

	CollectionName string `json:"collection_name,omitempty"`
	ObjectID       string `json:"object_id,omitempty"`
	Key            string `json:"key,omitempty"`
}

// Summary renders the location for responses and logs
func (l StorageLocation) Summary() string {
	if l.Backend == BackendSQL {
		return fmt.Sprintf("SQL table %s (%d rows)", l.TableName, l.RowCount)
	}
	return fmt.Sprintf("NoSQL collection %s, object %s", l.CollectionName, l.ObjectID)
}

// DirectoryEntry is the authoritative record of where a document lives
// and who owns it. It is created once per successful store and removed on
// delete.
type DirectoryEntry struct {
	DocID     string          `json:"doc_id"`
	OwnerID   string          `json:"owner_id"`
	Backend   BackendType     `json:"backend_type"`
	Location  StorageLocation `json:"location"`
	Analysis  AnalysisSummary `json:"analysis_summary"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// OwnedBy reports whether ownerID owns the entry
func (e DirectoryEntry) OwnedBy(ownerID string) bool {
	return ownerID != "" && e.OwnerID == ownerID
}
