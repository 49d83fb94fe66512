// Package polystore analyzes JSON documents and stores each one in the
// backend that suits its shape: flat, uniform records go to SQL tables,
// nested or irregular ones go to a NoSQL document collection.
//
// # Overview
//
// Every Store call runs three analyzers over the document and scores SQL
// against NoSQL:
//
//   - Structure: nesting depth, arrays, field consistency across records
//   - Patterns: e-commerce, user profile, time series, key-value and event log shapes
//   - Usage: read/write ratio, query complexity, scalability needs and consistency needs
//
// The winning backend receives the payload. A failed SQL write falls back
// to the NoSQL collection, so a store only fails when both backends are
// down. The outcome is recorded in a directory keyed by doc_id, which every
// Retrieve, Delete and List goes through. Documents are scoped to an owner:
// reading another owner's document returns ErrUnauthorized.
//
// # Quick Start
//
// Embedded setup (SQLite plus filesystem documents):
//
//	cfg := polystore.DefaultConfig()
//	router, err := polystore.Open(ctx, cfg, nil, nil)
//	if err != nil {
//	    return err
//	}
//	defer router.Close()
//
//	payload, _ := polystore.ParseValue([]byte(`[{"id":1,"price":9.5},{"id":2,"price":12}]`))
//	result, err := router.Store(ctx, polystore.StoreRequest{OwnerID: "alice", Payload: payload})
//	// result.Backend == polystore.BackendSQL, result.DocID == "doc_20250314150926_1a2b3c4d5e6f"
//
//	doc, err := router.Retrieve(ctx, result.DocID, "alice")
//	entries, err := router.List(ctx, "alice", polystore.BackendSQL, 20)
//	deleted, err := router.Delete(ctx, result.DocID, "alice")
//
// Production setup (PostgreSQL, S3 with encryption, Redis directory):
//
//	sql:
//	  driver: postgres
//	  dsn: postgres://polystore@db/polystore
//	documents:
//	  backend: s3
//	  bucket: my-documents
//	  region: eu-west-1
//	  encryption_key: <64 hex chars>
//	redis:
//	  addr: redis:6379
//	directory:
//	  backend: redis
//	cache:
//	  backend: redis
//
//	cfg, err := polystore.LoadConfig("polystore.yaml")
//	logger, _ := polystore.NewZapLoggerFromConfig(cfg.Log)
//	metrics := polystore.NewPrometheusMetrics(prometheus.NewRegistry())
//	router, err := polystore.Open(ctx, cfg, logger, metrics)
//
// # Core Concepts
//
// Value: a tagged JSON value (null, bool, number, string, array, object)
// consumed by the analyzers. ParseValue keeps number literals intact.
//
// RelationalStore: one table per SQL-routed document, named json_data_<doc_id>,
// one row per array element. Writes replay idempotently.
//
// DocumentCollection: a single collection of NoSQL documents on an
// ObjectBackend (filesystem, S3, MinIO or GCS). Every document carries its
// owner and analysis summary so Repair can rebuild lost directory entries.
//
// Directory: doc_id to owner, backend, location and analysis summary.
// ObjectDirectory (the default, kept beside the documents), SQLDirectory,
// RedisDirectory and MemoryDirectory implement it. Keep the directory off
// the SQL database if fallback stores must stay indexed during an outage.
//
// Cache: optional read-through cache filled by Retrieve. Hits are still
// checked against the owner.
//
// # Critical Gotchas
//
// 1. Directory writes can fail after the payload is durable. Store then
// reports DirectoryConsistent=false with a warning; run Repair to re-index.
//
// 2. Repair re-indexes NoSQL documents only. Orphaned SQL tables are reported,
// not adopted, since a table holds no analysis to rebuild an entry from.
//
// 3. Fallback applies to forced SQL stores too. Check result.Fallback.
//
// # Observability
//
// Metrics (Prometheus):
//
//	metrics := polystore.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Logging (Zap structured logging):
//
//	logger, _ := polystore.NewProductionZapLogger()
//
// The polystore command (cmd/polystore) wraps all of this in a CLI and an
// HTTP server.
package polystore
