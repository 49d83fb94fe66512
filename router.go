package polystore

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// Guard names used in logs and backend metrics
const (
	guardDirectory = "directory"
	guardCache     = "cache"
)

// Dependencies are the collaborators of a Router. They are built once at
// process start (see Open) and owned by the Router afterwards.
type Dependencies struct {
	SQL       RelationalStore
	Documents DocumentCollection
	Directory Directory
	// Cache may be nil, which disables caching
	Cache   Cache
	Logger  Logger
	Metrics Metrics

	CacheTTL time.Duration
	Timeouts TimeoutConfig
	Breaker  BreakerConfig

	// Lock, when set, keeps repair runs of separate processes apart
	Lock Locker

	// Closers are released by Router.Close after the stores, e.g. a Redis
	// client shared by directory and cache.
	Closers []io.Closer
}

// Router analyzes documents, stores them in the SQL or NoSQL backend and
// keeps the directory that every read, delete and list goes through.
type Router struct {
	analyzer  *Analyzer
	sql       RelationalStore
	docs      DocumentCollection
	directory Directory
	cache     Cache
	cacheTTL  time.Duration

	sqlGuard   *backendGuard
	docGuard   *backendGuard
	dirGuard   *backendGuard
	cacheGuard *backendGuard

	lock    Locker
	logger  Logger
	metrics Metrics
	closers []io.Closer
	now     func() time.Time
}

// NewRouter wires a Router from deps. SQL, Documents and Directory are
// required.
func NewRouter(deps Dependencies) (*Router, error) {
	switch {
	case deps.SQL == nil:
		return nil, invalid("sql", nil, "relational store is required")
	case deps.Documents == nil:
		return nil, invalid("documents", nil, "document collection is required")
	case deps.Directory == nil:
		return nil, invalid("directory", nil, "directory is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}
	cache := deps.Cache
	if cache == nil {
		cache = NoOpCache{}
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	dirTimeout := deps.Timeouts.Directory
	if dirTimeout <= 0 {
		dirTimeout = DefaultDirectoryTimeout
	}

	return &Router{
		analyzer:   NewAnalyzer(logger, metrics),
		sql:        deps.SQL,
		docs:       deps.Documents,
		directory:  deps.Directory,
		cache:      cache,
		cacheTTL:   ttl,
		sqlGuard:   newBackendGuard(BackendSQL.String(), deps.Timeouts.Backend, deps.Breaker, metrics, logger),
		docGuard:   newBackendGuard(BackendNoSQL.String(), deps.Timeouts.Backend, deps.Breaker, metrics, logger),
		dirGuard:   newBackendGuard(guardDirectory, dirTimeout, deps.Breaker, metrics, logger),
		cacheGuard: newBackendGuard(guardCache, dirTimeout, deps.Breaker, metrics, logger),
		lock:       deps.Lock,
		logger:     logger,
		metrics:    metrics,
		closers:    deps.Closers,
		now:        time.Now,
	}, nil
}

// StoreRequest is one document submitted for storage
type StoreRequest struct {
	OwnerID string
	Payload Value
	Tags    []string
	// Comment and ReadWriteRatio are hints for the usage prediction
	Comment        string
	ReadWriteRatio *float64
	// ForceBackend overrides the recommendation when set
	ForceBackend BackendType
}

// StoreResult reports where a document went and why. Backend is the
// backend that holds the data; RecommendedBackend is what the analysis
// chose before any override or fallback.
type StoreResult struct {
	DocID               string          `json:"doc_id"`
	Backend             BackendType     `json:"backend_type"`
	RecommendedBackend  BackendType     `json:"recommended_backend"`
	Confidence          int             `json:"confidence"`
	Reasons             []string        `json:"reasons"`
	Location            StorageLocation `json:"location"`
	LocationSummary     string          `json:"location_summary"`
	Analysis            AnalysisResult  `json:"analysis"`
	Forced              bool            `json:"forced"`
	Fallback            bool            `json:"fallback"`
	DirectoryConsistent bool            `json:"directory_consistent"`
	Warning             string          `json:"warning,omitempty"`
}

// Document is a retrieved payload with its directory entry
type Document struct {
	Entry   DirectoryEntry `json:"entry"`
	Payload Value          `json:"payload"`
	Cached  bool           `json:"cached"`
}

const orphanWarning = "document stored but the directory could not be updated; run repair to re-index it"

// Analyze runs the analysis only. Nothing is persisted.
func (r *Router) Analyze(ctx context.Context, payload Value, opts AnalyzeOptions) (AnalysisResult, error) {
	return r.analyzer.Analyze(payload, opts)
}

// Store analyzes req.Payload, writes it to the chosen backend and records
// it in the directory. A failed SQL write is retried once on the NoSQL
// backend and reported through Fallback. A failed directory write does not
// fail the call: the payload is durable, DirectoryConsistent is false and
// Warning says so.
func (r *Router) Store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	start := time.Now()
	defer func() {
		r.metrics.Timing(MetricStoreDuration, time.Since(start))
	}()

	result, err := r.store(ctx, req)
	if err != nil {
		r.metrics.Increment(MetricStoreError, "kind", ErrorKind(err))
		return StoreResult{}, err
	}
	r.metrics.Increment(MetricStoreSuccess, "backend", result.Backend.String())
	return result, nil
}

func (r *Router) store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	if req.OwnerID == "" {
		return StoreResult{}, WithContext(ErrUnauthorized, map[string]interface{}{"reason": "owner id is required"})
	}
	if req.ForceBackend != "" {
		forced, err := ParseBackendType(req.ForceBackend.String())
		if err != nil {
			return StoreResult{}, err
		}
		req.ForceBackend = forced
	}

	analysis, err := r.analyzer.Analyze(req.Payload, AnalyzeOptions{
		Comment:        req.Comment,
		ReadWriteRatio: req.ReadWriteRatio,
	})
	if err != nil {
		return StoreResult{}, err
	}

	createdAt := r.now().UTC()
	baseID := NewDocID(req.OwnerID, req.Payload, createdAt)
	summary := analysis.Summary()

	result := StoreResult{
		RecommendedBackend: analysis.RecommendedBackend,
		Confidence:         analysis.Confidence,
		Reasons:            analysis.Reasons,
		Analysis:           analysis,
	}

	applied := analysis.RecommendedBackend
	if req.ForceBackend != "" {
		applied = req.ForceBackend
		result.Forced = true
		r.metrics.Increment(MetricRouteForced, "backend", applied.String())
	}

	idFor := r.docIDAllocator(ctx, baseID, req.OwnerID)
	docID := idFor(applied)
	loc, err := r.persist(ctx, applied, docID, req, summary, createdAt)
	if err != nil && applied == BackendSQL && IsBackendUnavailable(err) {
		r.logger.Warn("SQL write failed, falling back to NoSQL",
			"doc_id", docID,
			"owner_id", req.OwnerID,
			"recommended", analysis.RecommendedBackend,
			"error", err,
		)
		r.metrics.Increment(MetricRouteFallback)
		applied = BackendNoSQL
		result.Fallback = true
		docID = idFor(applied)
		loc, err = r.persist(ctx, applied, docID, req, summary, createdAt)
	}
	if err != nil {
		r.logger.Error("store failed", "doc_id", docID, "owner_id", req.OwnerID, "backend", applied, "error", err)
		return StoreResult{}, err
	}
	result.DocID = docID
	r.metrics.Increment(MetricRouteDecision,
		"recommended", analysis.RecommendedBackend.String(),
		"applied", applied.String(),
	)

	result.Backend = applied
	result.Location = loc
	result.LocationSummary = loc.Summary()

	entry := DirectoryEntry{
		DocID:     docID,
		OwnerID:   req.OwnerID,
		Backend:   applied,
		Location:  loc,
		Analysis:  summary,
		Tags:      req.Tags,
		CreatedAt: createdAt,
	}
	if err := r.dirGuard.run(ctx, "upsert", func(ctx context.Context) error {
		return r.directory.Upsert(ctx, entry)
	}); err != nil {
		r.metrics.Increment(MetricDirectoryErrors, "operation", "upsert")
		r.logger.Error("directory upsert failed, payload is orphaned until repair",
			"doc_id", docID,
			"owner_id", req.OwnerID,
			"backend", applied,
			"error", WithContext(ErrDirectoryWrite, map[string]interface{}{"cause": err.Error()}),
		)
		result.Warning = orphanWarning
	} else {
		result.DirectoryConsistent = true
	}

	r.logger.Info("document stored",
		"doc_id", docID,
		"owner_id", req.OwnerID,
		"recommended", analysis.RecommendedBackend,
		"backend", applied,
		"confidence", analysis.Confidence,
		"forced", result.Forced,
		"fallback", result.Fallback,
	)
	return result, nil
}

// docIDAllocator returns the doc id to write under for a backend. A
// resubmission in the same second reuses baseID while it stays on the same
// backend, which keeps concurrent first writes idempotent. An existing
// entry on the other backend, or of another owner, is never repointed: the
// write moves to an id salted with owner and backend. A directory that
// cannot be read does not block the store.
func (r *Router) docIDAllocator(ctx context.Context, baseID, ownerID string) func(BackendType) string {
	var existing *DirectoryEntry
	err := r.dirGuard.run(ctx, "get", func(ctx context.Context) error {
		entry, err := r.directory.Get(ctx, baseID)
		if err == nil {
			existing = &entry
		}
		return err
	})
	if err != nil && !IsNotFound(err) {
		r.logger.Debug("doc id check skipped", "doc_id", baseID, "error", err)
	}

	return func(backend BackendType) string {
		if existing == nil || (existing.Backend == backend && existing.OwnerID == ownerID) {
			return baseID
		}
		return SaltDocID(baseID, ownerID+"/"+backend.String())
	}
}

func (r *Router) persist(ctx context.Context, backend BackendType, docID string, req StoreRequest, summary AnalysisSummary, createdAt time.Time) (StorageLocation, error) {
	var loc StorageLocation
	if backend == BackendSQL {
		batch := NewRowBatch(docID, req.OwnerID, req.Payload, createdAt)
		err := r.sqlGuard.run(ctx, "write", func(ctx context.Context) error {
			var err error
			loc, err = r.sql.WriteRows(ctx, batch)
			return err
		})
		return loc, err
	}

	doc := StoredDocument{
		ObjectID:  NewObjectID(),
		DocID:     docID,
		OwnerID:   req.OwnerID,
		Payload:   req.Payload,
		Backend:   BackendNoSQL,
		CreatedAt: createdAt,
		Tags:      req.Tags,
		Analysis:  summary,
	}
	err := r.docGuard.run(ctx, "write", func(ctx context.Context) error {
		var err error
		loc, err = r.docs.Insert(ctx, doc)
		return err
	})
	return loc, err
}

// Retrieve returns the document if ownerID owns it. Unknown ids return
// ErrNotFound, foreign ones ErrUnauthorized.
func (r *Router) Retrieve(ctx context.Context, docID, ownerID string) (Document, error) {
	start := time.Now()
	defer func() {
		r.metrics.Timing(MetricRetrieveDuration, time.Since(start))
	}()

	doc, err := r.retrieve(ctx, docID, ownerID)
	if err != nil {
		r.metrics.Increment(MetricRetrieveError, "kind", ErrorKind(err))
		return Document{}, err
	}
	source := doc.Entry.Backend.String()
	if doc.Cached {
		source = guardCache
	}
	r.metrics.Increment(MetricRetrieveSuccess, "source", source)
	return doc, nil
}

func (r *Router) retrieve(ctx context.Context, docID, ownerID string) (Document, error) {
	if cached, ok := r.cacheGet(ctx, docID); ok {
		if !cached.Entry.OwnedBy(ownerID) {
			return Document{}, r.denied(docID, ownerID, "retrieve")
		}
		return Document{Entry: cached.Entry, Payload: cached.Payload, Cached: true}, nil
	}

	entry, err := r.lookup(ctx, docID, ownerID, "retrieve")
	if err != nil {
		return Document{}, err
	}
	payload, err := r.read(ctx, entry)
	if err != nil {
		return Document{}, err
	}
	r.cacheSet(ctx, CachedDocument{Entry: entry, Payload: payload})
	return Document{Entry: entry, Payload: payload}, nil
}

// lookup loads the directory entry of docID and checks ownership
func (r *Router) lookup(ctx context.Context, docID, ownerID, op string) (DirectoryEntry, error) {
	var entry DirectoryEntry
	err := r.dirGuard.run(ctx, "get", func(ctx context.Context) error {
		var err error
		entry, err = r.directory.Get(ctx, docID)
		return err
	})
	if err != nil {
		return DirectoryEntry{}, err
	}
	if !entry.OwnedBy(ownerID) {
		return DirectoryEntry{}, r.denied(docID, ownerID, op)
	}
	return entry, nil
}

func (r *Router) denied(docID, ownerID, op string) error {
	r.metrics.Increment(MetricUnauthorized)
	r.logger.Warn("owner mismatch", "doc_id", docID, "owner_id", ownerID, "operation", op)
	return WithContext(ErrUnauthorized, map[string]interface{}{"doc_id": docID})
}

func (r *Router) read(ctx context.Context, entry DirectoryEntry) (Value, error) {
	switch entry.Backend {
	case BackendSQL:
		table := entry.Location.TableName
		if table == "" {
			table = TableName(entry.DocID)
		}
		var rows []Value
		err := r.sqlGuard.run(ctx, "read", func(ctx context.Context) error {
			var err error
			rows, err = r.sql.ReadRows(ctx, table, entry.DocID)
			return err
		})
		if IsNotFound(err) && entry.Location.Array && entry.Location.RowCount == 0 {
			// An empty array creates its table but writes no rows
			return NewArray(nil), nil
		}
		if err != nil {
			return Value{}, err
		}
		if entry.Location.Array || len(rows) > 1 {
			return NewArray(rows), nil
		}
		return rows[0], nil

	case BackendNoSQL:
		var doc StoredDocument
		err := r.docGuard.run(ctx, "read", func(ctx context.Context) error {
			var err error
			doc, err = r.docs.Find(ctx, entry.DocID)
			return err
		})
		if err != nil {
			return Value{}, err
		}
		return doc.Payload, nil
	}
	return Value{}, WithContext(ErrInvalidData, map[string]interface{}{
		"doc_id":  entry.DocID,
		"backend": entry.Backend.String(),
	})
}

// Delete removes the document and then its directory entry. If the
// physical delete fails the entry is kept and the error returned.
func (r *Router) Delete(ctx context.Context, docID, ownerID string) (bool, error) {
	start := time.Now()
	defer func() {
		r.metrics.Timing(MetricDeleteDuration, time.Since(start))
	}()

	entry, err := r.lookup(ctx, docID, ownerID, "delete")
	if err != nil {
		r.metrics.Increment(MetricDeleteError, "kind", ErrorKind(err))
		return false, err
	}

	if err := r.remove(ctx, entry); err != nil {
		r.metrics.Increment(MetricDeleteError, "kind", ErrorKind(err))
		r.logger.Error("physical delete failed, directory entry kept",
			"doc_id", docID,
			"backend", entry.Backend,
			"error", err,
		)
		return false, err
	}

	r.cacheInvalidate(ctx, docID)
	if err := r.dirGuard.run(ctx, "delete", func(ctx context.Context) error {
		return r.directory.Delete(ctx, docID)
	}); err != nil {
		r.metrics.Increment(MetricDirectoryErrors, "operation", "delete")
		r.logger.Warn("directory delete failed after physical delete",
			"doc_id", docID,
			"owner_id", ownerID,
			"error", err,
		)
	}

	r.metrics.Increment(MetricDeleteSuccess, "backend", entry.Backend.String())
	r.logger.Info("document deleted", "doc_id", docID, "owner_id", ownerID, "backend", entry.Backend)
	return true, nil
}

func (r *Router) remove(ctx context.Context, entry DirectoryEntry) error {
	if entry.Backend == BackendSQL {
		table := entry.Location.TableName
		if table == "" {
			table = TableName(entry.DocID)
		}
		return r.sqlGuard.run(ctx, "drop", func(ctx context.Context) error {
			return r.sql.DropTable(ctx, table)
		})
	}

	err := r.docGuard.run(ctx, "delete", func(ctx context.Context) error {
		return r.docs.Remove(ctx, entry.DocID)
	})
	if IsNotFound(err) {
		// Already gone; the directory entry is what remains to clean up.
		return nil
	}
	return err
}

// List returns ownerID's directory entries, newest first. backend filters
// when set; limit <= 0 uses DefaultListLimit and is capped at MaxListLimit.
func (r *Router) List(ctx context.Context, ownerID string, backend BackendType, limit int) ([]DirectoryEntry, error) {
	start := time.Now()
	defer func() {
		r.metrics.Timing(MetricListDuration, time.Since(start))
	}()

	if ownerID == "" {
		return nil, WithContext(ErrUnauthorized, map[string]interface{}{"reason": "owner id is required"})
	}
	if backend != "" {
		parsed, err := ParseBackendType(backend.String())
		if err != nil {
			return nil, err
		}
		backend = parsed
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	var entries []DirectoryEntry
	err := r.dirGuard.run(ctx, "query", func(ctx context.Context) error {
		var err error
		entries, err = r.directory.Query(ctx, DirectoryQuery{OwnerID: ownerID, Backend: backend, Limit: limit})
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.Histogram(MetricListResults, float64(len(entries)))
	return entries, nil
}

func (r *Router) cacheGet(ctx context.Context, docID string) (CachedDocument, bool) {
	var (
		doc CachedDocument
		hit bool
	)
	err := r.cacheGuard.run(ctx, "get", func(ctx context.Context) error {
		var err error
		doc, hit, err = r.cache.Get(ctx, docID)
		return err
	})
	if err != nil {
		r.logger.Warn("cache read failed", "doc_id", docID, "error", err)
		hit = false
	}
	if hit {
		r.metrics.Increment(MetricCacheHits)
	} else {
		r.metrics.Increment(MetricCacheMisses)
	}
	return doc, hit
}

func (r *Router) cacheSet(ctx context.Context, doc CachedDocument) {
	if err := r.cacheGuard.run(ctx, "set", func(ctx context.Context) error {
		return r.cache.Set(ctx, doc, r.cacheTTL)
	}); err != nil {
		r.logger.Warn("cache write failed", "doc_id", doc.Entry.DocID, "error", err)
	}
}

func (r *Router) cacheInvalidate(ctx context.Context, docID string) {
	if err := r.cacheGuard.run(ctx, "invalidate", func(ctx context.Context) error {
		return r.cache.Invalidate(ctx, docID)
	}); err != nil {
		r.logger.Warn("cache invalidation failed", "doc_id", docID, "error", err)
		return
	}
	r.metrics.Increment(MetricCacheInvalidated)
}

// Health pings every backend concurrently and reports "ok" or the error
// kind per component.
func (r *Router) Health(ctx context.Context) map[string]string {
	checks := []struct {
		name  string
		guard *backendGuard
		ping  func(context.Context) error
	}{
		{BackendSQL.String(), r.sqlGuard, r.sql.Ping},
		{BackendNoSQL.String(), r.docGuard, r.docs.Ping},
		{guardDirectory, r.dirGuard, r.directory.Ping},
	}

	results := make([]string, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			results[i] = "ok"
			if err := c.guard.run(ctx, "ping", c.ping); err != nil {
				results[i] = ErrorKind(err)
			}
			return nil
		})
	}
	g.Wait()

	report := make(map[string]string, len(checks))
	for i, c := range checks {
		report[c.name] = results[i]
	}
	return report
}

// Close releases every store and closer, returning all errors joined
func (r *Router) Close() error {
	var errs []error
	for _, c := range []io.Closer{r.sql, r.docs, r.directory, r.cache} {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
