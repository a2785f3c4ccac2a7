// Package resolvgo provides an embedded entity-resolution engine for Go.
//
// Resolvgo ingests normalized source records, blocks them into candidate
// pairs with a MinHash/LSH index, scores each pair with explainable feature
// functions, and applies threshold-based match decisions:
//
//   - High-confidence pairs merge automatically into identity clusters
//   - Borderline pairs land in a human adjudication queue
//   - Low-confidence pairs are rejected with a recorded reason
//
// Every state change is appended to a hash-chained audit ledger, merges are
// exactly reversible, and every decision can be explained from the scorecard
// it was made on.
//
// # Quick Start
//
//	ctx := context.Background()
//	eng, err := resolvgo.New(
//	    resolvgo.WithThresholds(0.9, 0.6),
//	    resolvgo.WithLedger("./audit", func(o *ledger.Options) {
//	        o.DurabilityMode = ledger.DurabilityGroupCommit
//	    }),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
//	candidates, err := eng.Ingest(ctx, &entity.Entity{
//	    ID: "crm-1042",
//	    Attributes: entity.Attributes{
//	        "name":  "Jane Doe",
//	        "email": "jane@example.com",
//	    },
//	})
//
// Review borderline pairs:
//
//	for _, item := range eng.Queue() {
//	    exp, _ := eng.Explain(entity.PairID(item.PairID))
//	    fmt.Println(item.PairID, exp.Rationale)
//	    _ = eng.Resolve(ctx, item.PairID, true, "reviewer-7")
//	}
//
// Audit and explainability:
//
//	entries := eng.Audit(ctx, ledger.Filter{EntityID: "crm-1042"})
//	err = eng.VerifyAudit()
package resolvgo

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hupe1980/resolvgo/adjudication"
	"github.com/hupe1980/resolvgo/blobstore"
	"github.com/hupe1980/resolvgo/codec"
	"github.com/hupe1980/resolvgo/engine"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/explain"
	"github.com/hupe1980/resolvgo/index/lsh"
	"github.com/hupe1980/resolvgo/ledger"
)

// Candidate is a scored candidate pair with its decision.
type Candidate = engine.Candidate

// Decision is the outcome of deciding one candidate pair.
type Decision = engine.Decision

// Engine is an embedded entity-resolution engine.
type Engine struct {
	coordinator *engine.Coordinator
	auditLog    *ledger.Ledger
	exporter    *explain.Exporter
	codec       codec.Codec
	metrics     MetricsCollector
	logger      *Logger
}

// New creates an Engine.
func New(optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	c := opts.codec
	if c == nil {
		c = codec.Default
	}

	idx, err := lsh.New(opts.indexOptions...)
	if err != nil {
		return nil, translateError(err)
	}

	matcher, err := engine.NewMatcher(opts.matcherOptions...)
	if err != nil {
		return nil, translateError(err)
	}

	ledgerOptFns := append([]func(*ledger.Options){
		func(o *ledger.Options) {
			o.Path = opts.ledgerPath
			o.Codec = c
		},
	}, opts.ledgerOptions...)

	auditLog, err := ledger.New(ledgerOptFns...)
	if err != nil {
		return nil, fmt.Errorf("resolvgo: failed to open audit ledger: %w", err)
	}

	coord, err := engine.New(func(o *engine.Options) {
		o.Index = idx
		o.Matcher = matcher
		o.Ledger = auditLog
		o.Logger = opts.logger.Logger
		if opts.scorer != nil {
			o.Scorer = opts.scorer
		}
		if opts.maxCandidates > 0 {
			o.MaxCandidates = opts.maxCandidates
		}
		if opts.numWorkers > 0 {
			o.NumWorkers = opts.numWorkers
		}
	})
	if err != nil {
		_ = auditLog.Close()
		return nil, translateError(err)
	}

	return &Engine{
		coordinator: coord,
		auditLog:    auditLog,
		exporter:    explain.New(coord.Scorecards(), func(o *explain.Options) { o.Codec = c }),
		codec:       c,
		metrics:     opts.metricsCollector,
		logger:      opts.logger,
	}, nil
}

// Ingest admits one entity and returns its scored candidate pairs with the
// decisions applied to them.
func (e *Engine) Ingest(ctx context.Context, ent *entity.Entity) ([]Candidate, error) {
	start := time.Now()
	cands, err := e.coordinator.Ingest(ctx, ent)
	err = translateError(err)
	e.metrics.RecordIngest(len(cands), time.Since(start), err)
	e.logger.LogIngest(ctx, ent, len(cands), err)
	return cands, err
}

// BatchIngest ingests entities in parallel. The per-index result slot holds
// the candidates for the matching input entity.
func (e *Engine) BatchIngest(ctx context.Context, entities []*entity.Entity) ([][]Candidate, error) {
	start := time.Now()
	results, err := e.coordinator.BatchIngest(ctx, entities)
	err = translateError(err)

	done := 0
	for _, r := range results {
		if r != nil {
			done++
		}
	}
	e.metrics.RecordBatchIngest(len(entities), time.Since(start), err)
	e.logger.LogBatchIngest(ctx, len(entities), done, err)
	return results, err
}

// Merge unites the clusters of two entities on explicit request and returns
// the resulting cluster id. Idempotent.
func (e *Engine) Merge(ctx context.Context, source, target entity.ID, reason, actor string) (entity.ID, error) {
	start := time.Now()
	root, err := e.coordinator.Merge(ctx, source, target, reason, actor)
	err = translateError(err)
	e.metrics.RecordMerge(time.Since(start), err)
	e.logger.LogMerge(ctx, source, target, root, actor, err)
	return root, err
}

// Split reverses the merge that introduced memberID into the cluster,
// restoring the absorbed sub-cluster to its pre-merge assignment.
func (e *Engine) Split(ctx context.Context, clusterID, memberID entity.ID, reason, actor string) error {
	start := time.Now()
	err := translateError(e.coordinator.Split(ctx, clusterID, memberID, reason, actor))
	e.metrics.RecordSplit(time.Since(start), err)
	e.logger.LogSplit(ctx, clusterID, memberID, actor, err)
	return err
}

// Resolve applies a reviewer's decision to a queued pair.
func (e *Engine) Resolve(ctx context.Context, pairID string, approved bool, reviewer string) error {
	start := time.Now()
	err := translateError(e.coordinator.Resolve(ctx, pairID, approved, reviewer))
	e.metrics.RecordResolve(time.Since(start), err)
	e.logger.LogResolve(ctx, pairID, approved, reviewer, err)
	return err
}

// Queue returns the pending adjudication items in enqueue order.
func (e *Engine) Queue() []adjudication.Item {
	return e.coordinator.Queue()
}

// Explain returns the explanation for the latest persisted scorecard of a
// pair. Explanations are never recomputed from current attributes.
func (e *Engine) Explain(pairID entity.PairID) (*explain.Explanation, error) {
	start := time.Now()
	exp, err := e.exporter.Explain(pairID)
	err = translateError(err)
	e.metrics.RecordExplain(time.Since(start), err)
	return exp, err
}

// ExplainHistory returns explanations for every scorecard version of a pair,
// oldest first.
func (e *Engine) ExplainHistory(pairID entity.PairID) ([]*explain.Explanation, error) {
	exps, err := e.exporter.History(pairID)
	return exps, translateError(err)
}

// Audit returns audit entries matching the filter, ordered by sequence.
func (e *Engine) Audit(ctx context.Context, f ledger.Filter) []ledger.Entry {
	return e.coordinator.Audit(ctx, f)
}

// VerifyAudit re-verifies the full audit hash chain.
func (e *Engine) VerifyAudit() error {
	return e.auditLog.Verify()
}

// ArchiveAudit seals entries [fromSeq, toSeq] of the audit chain into the
// given blob store and returns the blob name. The ledger itself is untouched.
func (e *Engine) ArchiveAudit(ctx context.Context, store blobstore.BlobStore, fromSeq, toSeq uint64, optFns ...func(o *ledger.ArchiverOptions)) (string, error) {
	all := append([]func(o *ledger.ArchiverOptions){
		func(o *ledger.ArchiverOptions) { o.Codec = e.codec },
	}, optFns...)

	name, err := ledger.NewArchiver(store, all...).Archive(ctx, e.auditLog, fromSeq, toSeq)
	e.logger.LogArchive(ctx, name, fromSeq, toSeq, err)
	return name, err
}

// Find returns the cluster id for an entity. Entities never seen resolve to
// themselves.
func (e *Engine) Find(id entity.ID) entity.ID {
	return e.coordinator.Find(id)
}

// Members returns the sorted membership of the cluster containing id.
func (e *Engine) Members(id entity.ID) []entity.ID {
	return e.coordinator.Members(id)
}

// Entity returns an ingested entity by id.
func (e *Engine) Entity(id entity.ID) (*entity.Entity, error) {
	ent, err := e.coordinator.Entity(id)
	return ent, translateError(err)
}

// Remove tombstones an entity so it stops appearing as a candidate. Its
// record, scorecards, and audit history are retained.
func (e *Engine) Remove(id entity.ID) error {
	return translateError(e.coordinator.Remove(id))
}

// Close shuts the engine down, draining workers and flushing the ledger.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.coordinator.Close()
}

// SaveSnapshotFile writes a snapshot of the resolution state to a file.
func (e *Engine) SaveSnapshotFile(ctx context.Context, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		e.logger.LogSnapshot(ctx, filename, err)
		return err
	}

	if err := e.SaveSnapshot(ctx, f); err != nil {
		_ = f.Close()
		e.logger.LogSnapshot(ctx, filename, err)
		return err
	}

	err = f.Close()
	e.logger.LogSnapshot(ctx, filename, err)
	return err
}

// LoadSnapshotFile restores an Engine from a snapshot file.
func LoadSnapshotFile(ctx context.Context, filename string, optFns ...Option) (*Engine, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return LoadSnapshot(ctx, f, optFns...)
}
