package polystore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// OrphanTable is a per-document SQL table with no directory entry
type OrphanTable struct {
	Table  string   `json:"table"`
	Owners []string `json:"owners"`
}

// RepairReport is the outcome of Router.Repair
type RepairReport struct {
	DryRun bool `json:"dry_run"`
	// Scanned counts directory entries, NoSQL documents and SQL tables
	Scanned int `json:"scanned"`
	// Reindexed lists NoSQL documents whose directory entry was missing
	// and has been (or, on a dry run, would be) rebuilt.
	Reindexed []string `json:"reindexed"`
	Repaired  int      `json:"repaired"`
	// OrphanTables are reported only; they carry no analysis to rebuild from.
	OrphanTables []OrphanTable `json:"orphan_tables"`
	// Dangling lists directory entries whose data is gone
	Dangling []string `json:"dangling"`
	Errors   []string `json:"errors"`
}

// repairLockTTL bounds how long a crashed repair blocks the next one
const repairLockTTL = 10 * time.Minute

// Repair reconciles the backends with the directory. NoSQL documents
// missing from the directory are re-indexed from the metadata they carry
// (unless dryRun). SQL tables and directory entries without a counterpart
// are reported. Backend scans run concurrently. With a Locker configured a
// writing repair fails with ErrLockHeld while another one runs.
func (r *Router) Repair(ctx context.Context, dryRun bool) (*RepairReport, error) {
	if r.lock != nil && !dryRun {
		release, err := r.lock.Lock(ctx, "repair", repairLockTTL)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	report := &RepairReport{
		DryRun:       dryRun,
		Reindexed:    []string{},
		OrphanTables: []OrphanTable{},
		Dangling:     []string{},
		Errors:       []string{},
	}

	var (
		mu      sync.Mutex
		entries = make(map[string]DirectoryEntry)
		docs    = make(map[string]StoredDocument)
		tables  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.directory.Scan(gctx, func(e DirectoryEntry) error {
			mu.Lock()
			entries[e.DocID] = e
			mu.Unlock()
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning directory: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := r.docs.Scan(gctx, func(d StoredDocument) error {
			mu.Lock()
			docs[d.DocID] = d
			mu.Unlock()
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning documents: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tables, err = r.sql.ListTables(gctx, TablePrefix)
		if err != nil {
			return fmt.Errorf("listing SQL tables: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Scanned = len(entries) + len(docs) + len(tables)

	// NoSQL documents without an entry
	for _, id := range sortedKeys(docs) {
		if _, ok := entries[id]; ok {
			continue
		}
		if !r.stillOrphaned(ctx, id, report) {
			continue
		}
		report.Reindexed = append(report.Reindexed, id)
		if dryRun {
			continue
		}
		if err := r.directory.Upsert(ctx, docs[id].DirectoryEntry()); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("re-indexing %s: %v", id, err))
			continue
		}
		report.Repaired++
		r.metrics.Increment(MetricRepairRepaired)
	}

	// SQL tables without an entry
	sqlTables := make(map[string]bool, len(tables))
	for _, t := range tables {
		sqlTables[t] = true
	}
	tableOwners := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Backend == BackendSQL {
			tableOwners[sqlTable(e)] = e.DocID
		}
	}
	for _, table := range tables {
		if _, ok := tableOwners[table]; ok {
			continue
		}
		owners, err := r.sql.Owners(ctx, table)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("reading owners of %s: %v", table, err))
		}
		report.OrphanTables = append(report.OrphanTables, OrphanTable{Table: table, Owners: owners})
	}

	// Entries without data
	for _, id := range sortedKeys(entries) {
		e := entries[id]
		switch e.Backend {
		case BackendSQL:
			if !sqlTables[sqlTable(e)] {
				report.Dangling = append(report.Dangling, id)
			}
		case BackendNoSQL:
			if _, ok := docs[id]; !ok {
				report.Dangling = append(report.Dangling, id)
			}
		}
	}

	r.logger.Info("directory repair finished",
		"dry_run", dryRun,
		"scanned", report.Scanned,
		"reindexed", len(report.Reindexed),
		"orphan_tables", len(report.OrphanTables),
		"dangling", len(report.Dangling),
		"errors", len(report.Errors),
	)
	return report, nil
}

// stillOrphaned re-reads both sides of a re-index candidate. The scans are
// not a snapshot: a Delete between them removes the document, a Store
// writes the entry after the payload.
func (r *Router) stillOrphaned(ctx context.Context, docID string, report *RepairReport) bool {
	if _, err := r.docs.Find(ctx, docID); err != nil {
		if !IsNotFound(err) {
			report.Errors = append(report.Errors, fmt.Sprintf("re-reading %s: %v", docID, err))
		}
		return false
	}
	_, err := r.directory.Get(ctx, docID)
	if err == nil {
		return false
	}
	if !IsNotFound(err) {
		report.Errors = append(report.Errors, fmt.Sprintf("re-reading entry of %s: %v", docID, err))
		return false
	}
	return true
}

func sqlTable(e DirectoryEntry) string {
	if e.Location.TableName != "" {
		return e.Location.TableName
	}
	return TableName(e.DocID)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String summarises the report on one line
func (r *RepairReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scanned=%d reindexed=%d repaired=%d orphan_tables=%d dangling=%d errors=%d",
		r.Scanned, len(r.Reindexed), r.Repaired, len(r.OrphanTables), len(r.Dangling), len(r.Errors))
	if r.DryRun {
		b.WriteString(" (dry run)")
	}
	return b.String()
}
