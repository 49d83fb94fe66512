package polystore

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"
)

// StoredDocument is the body of one NoSQL-routed document. It carries its
// own owner and analysis so that a lost directory entry can be rebuilt.
type StoredDocument struct {
	ObjectID  string          `json:"object_id"`
	DocID     string          `json:"doc_id"`
	OwnerID   string          `json:"owner_id"`
	Payload   Value           `json:"payload"`
	Backend   BackendType     `json:"backend_type"`
	CreatedAt time.Time       `json:"created_at"`
	Tags      []string        `json:"tags,omitempty"`
	Analysis  AnalysisSummary `json:"analysis"`
	// Location is filled in from the collection on Find and Scan
	Location StorageLocation `json:"-"`
}

// DirectoryEntry rebuilds the directory record for the document
func (d StoredDocument) DirectoryEntry() DirectoryEntry {
	return DirectoryEntry{
		DocID:     d.DocID,
		OwnerID:   d.OwnerID,
		Backend:   BackendNoSQL,
		Location:  d.Location,
		Analysis:  d.Analysis,
		Tags:      d.Tags,
		CreatedAt: d.CreatedAt,
	}
}

// DocumentCollection is the NoSQL side of the router: one shared
// collection holding every NoSQL-routed document.
type DocumentCollection interface {
	Insert(ctx context.Context, doc StoredDocument) (StorageLocation, error)
	// Find returns ErrNotFound when the document is missing
	Find(ctx context.Context, docID string) (StoredDocument, error)
	Remove(ctx context.Context, docID string) error
	Scan(ctx context.Context, fn func(StoredDocument) error) error
	Ping(ctx context.Context) error
	Close() error
}

// DocumentStore keeps the collection as JSON objects on an ObjectBackend
// under <collection>/<doc_id>.json.
type DocumentStore struct {
	backend    ObjectBackend
	collection string
	logger     Logger
}

// NewDocumentStore creates a collection over backend. An empty collection
// name uses DefaultCollection.
func NewDocumentStore(backend ObjectBackend, collection string, logger Logger) *DocumentStore {
	if collection == "" {
		collection = DefaultCollection
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &DocumentStore{backend: backend, collection: collection, logger: logger}
}

// Collection returns the collection name
func (s *DocumentStore) Collection() string {
	return s.collection
}

// Key returns the object key of docID
func (s *DocumentStore) Key(docID string) string {
	return path.Join(s.collection, docID+".json")
}

func (s *DocumentStore) location(doc StoredDocument) StorageLocation {
	return StorageLocation{
		Backend:        BackendNoSQL,
		CollectionName: s.collection,
		ObjectID:       doc.ObjectID,
		Key:            s.Key(doc.DocID),
	}
}

// Insert writes doc, assigning an object id when it has none. Writing the
// same doc_id again replaces the object.
func (s *DocumentStore) Insert(ctx context.Context, doc StoredDocument) (StorageLocation, error) {
	if !IsValidDocID(doc.DocID) {
		return StorageLocation{}, WithContext(ErrInvalidData, map[string]interface{}{
			"doc_id": doc.DocID,
			"reason": "malformed document id",
		})
	}
	if doc.ObjectID == "" {
		doc.ObjectID = NewObjectID()
	}
	doc.Backend = BackendNoSQL

	data, err := json.Marshal(doc)
	if err != nil {
		return StorageLocation{}, WithContext(ErrInvalidData, map[string]interface{}{
			"doc_id": doc.DocID,
			"error":  err.Error(),
		})
	}
	if err := s.backend.Put(ctx, s.Key(doc.DocID), data); err != nil {
		return StorageLocation{}, err
	}
	return s.location(doc), nil
}

// Find reads the document stored under docID
func (s *DocumentStore) Find(ctx context.Context, docID string) (StoredDocument, error) {
	if !IsValidDocID(docID) {
		return StoredDocument{}, WithContext(ErrNotFound, map[string]interface{}{"doc_id": docID})
	}
	return s.read(ctx, s.Key(docID))
}

func (s *DocumentStore) read(ctx context.Context, key string) (StoredDocument, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return StoredDocument{}, err
	}
	var doc StoredDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return StoredDocument{}, WithContext(ErrInvalidData, map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	doc.Location = s.location(doc)
	return doc, nil
}

// Remove deletes the document. A missing document returns ErrNotFound.
func (s *DocumentStore) Remove(ctx context.Context, docID string) error {
	if !IsValidDocID(docID) {
		return WithContext(ErrNotFound, map[string]interface{}{"doc_id": docID})
	}
	return s.backend.Delete(ctx, s.Key(docID))
}

// Scan calls fn for every document in the collection. Objects that fail to
// decode are logged and skipped. Backend failures and fn errors stop the
// scan.
func (s *DocumentStore) Scan(ctx context.Context, fn func(StoredDocument) error) error {
	return s.backend.ListPaginated(ctx, s.collection+"/", func(keys []string) error {
		for _, key := range keys {
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			doc, err := s.read(ctx, key)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				if !IsPermanent(err) {
					return err
				}
				s.logger.Warn("skipping unreadable document", "key", key, "error", err)
				continue
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ping checks backend health
func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the object backend
func (s *DocumentStore) Close() error {
	return s.backend.Close()
}
