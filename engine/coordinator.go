package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/resolvgo/adjudication"
	"github.com/hupe1980/resolvgo/cluster"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/index"
	"github.com/hupe1980/resolvgo/index/lsh"
	"github.com/hupe1980/resolvgo/index/scan"
	"github.com/hupe1980/resolvgo/ledger"
	"github.com/hupe1980/resolvgo/scoring"
	"golang.org/x/sync/errgroup"
)

// SystemActor is the actor recorded for decisions the engine makes on its
// own, as opposed to human adjudication.
const SystemActor = "system"

// Options contains configuration for the Coordinator.
type Options struct {
	// Index generates candidates. Defaults to an in-memory MinHash/LSH
	// index with default parameters.
	Index index.BlockingIndex

	// Scorer computes pairwise scorecards. Defaults to the built-in
	// feature set.
	Scorer *scoring.Scorer

	// Matcher turns scorecards into decisions. Defaults to
	// DefaultMatcherOptions thresholds.
	Matcher *Matcher

	// Ledger receives every decision. Defaults to an in-memory ledger.
	Ledger *ledger.Ledger

	// MaxCandidates bounds candidates considered per ingested entity.
	MaxCandidates int

	// FallbackWindowSize bounds the recent-entity window scanned when the
	// blocking index is unavailable.
	FallbackWindowSize int

	// NumWorkers sizes the scoring worker pool and batch-ingest
	// parallelism. <= 0 defaults to GOMAXPROCS.
	NumWorkers int

	// Logger receives structured engine logs. Defaults to discarding.
	Logger *slog.Logger
}

// DefaultOptions returns default Coordinator options.
var DefaultOptions = Options{
	MaxCandidates:      64,
	FallbackWindowSize: 1024,
	NumWorkers:         0,
}

// Coordinator owns the resolution pipeline state and serializes its
// mutations: per-cluster locks in the cluster store, per-bucket locks in the
// index, and the single ledger append.
type Coordinator struct {
	logger *slog.Logger

	idx        index.BlockingIndex
	fallback   *scan.Window
	scorer     *scoring.Scorer
	matcher    *Matcher
	clusters   *cluster.Store
	ledger     *ledger.Ledger
	queue      *adjudication.Queue
	scorecards *ScorecardStore
	entities   *MapStore[entity.ID, *entity.Entity]
	pool       *WorkerPool

	maxCandidates int
	numWorkers    int
	pairSeq       atomic.Uint64
	closed        atomic.Bool
}

// New creates a Coordinator.
func New(optFns ...func(o *Options)) (*Coordinator, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Index == nil {
		idx, err := lsh.New()
		if err != nil {
			return nil, err
		}
		opts.Index = idx
	}
	if opts.Scorer == nil {
		opts.Scorer = scoring.NewWithDefaults()
	}
	if opts.Matcher == nil {
		m, err := NewMatcher()
		if err != nil {
			return nil, err
		}
		opts.Matcher = m
	}
	if opts.Ledger == nil {
		l, err := ledger.New()
		if err != nil {
			return nil, err
		}
		opts.Ledger = l
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultOptions.MaxCandidates
	}

	c := &Coordinator{
		logger:   opts.Logger,
		idx:      opts.Index,
		scorer:   opts.Scorer,
		matcher:  opts.Matcher,
		clusters: cluster.NewStore(),
		ledger:   opts.Ledger,
		fallback: scan.New(func(o *scan.Options) {
			if opts.FallbackWindowSize > 0 {
				o.WindowSize = opts.FallbackWindowSize
			}
		}),
		queue:         adjudication.NewQueue(),
		scorecards:    NewScorecardStore(),
		entities:      NewMapStore[entity.ID, *entity.Entity](),
		pool:          NewWorkerPool(opts.NumWorkers),
		maxCandidates: opts.MaxCandidates,
		numWorkers:    opts.NumWorkers,
	}
	return c, nil
}

// Ingest admits one entity: index it, score it against its candidate set,
// and apply the resulting decisions. The returned candidates carry the
// persisted scorecards and per-pair outcomes.
func (c *Coordinator) Ingest(ctx context.Context, e *entity.Entity) ([]Candidate, error) {
	if c.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := e.Validate(); err != nil {
		return nil, &ValidationError{Detail: err.Error(), cause: err}
	}
	if _, ok := c.entities.Get(e.ID); ok {
		return nil, &ConflictError{Detail: fmt.Sprintf("entity %s already ingested", e.ID)}
	}

	_ = c.entities.Set(e.ID, e)
	c.clusters.Observe(e.ID)
	c.fallback.Observe(e)

	if err := c.idx.Insert(e); err != nil {
		// Candidate generation degrades to the fallback window; the
		// pipeline stays available.
		c.logger.WarnContext(ctx, "blocking index insert failed",
			"entity_id", e.ID,
			"error", err,
		)
	}

	candidateIDs, err := c.candidateIDs(ctx, e)
	if err != nil {
		return nil, err
	}

	scored := c.scoreAll(ctx, e, candidateIDs)

	out := make([]Candidate, 0, len(scored))
	for _, sc := range scored {
		cand, err := c.decide(ctx, e.ID, sc.otherID, sc.card)
		if err != nil {
			return out, err
		}
		out = append(out, cand)
	}
	return out, nil
}

// candidateIDs queries the blocking index, falling back to a bounded scan
// over the recent-entity window when the index is unavailable. Both paths
// honor MaxCandidates; the index may carry a looser cap of its own.
func (c *Coordinator) candidateIDs(ctx context.Context, e *entity.Entity) ([]entity.ID, error) {
	ids, err := c.idx.Query(e)
	if err == nil {
		if len(ids) > c.maxCandidates {
			ids = ids[:c.maxCandidates]
		}
		return ids, nil
	}

	c.logger.WarnContext(ctx, "blocking index unavailable, using fallback scan",
		"entity_id", e.ID,
		"error", err,
	)
	return c.fallback.Scan(ctx, e, c.maxCandidates)
}

type scoredCandidate struct {
	otherID entity.ID
	card    *scoring.Scorecard
}

// scoreAll fans scorecard computation out over the worker pool and returns
// results in candidate order. Candidates whose entity is unknown (tombstoned
// or external) are skipped.
func (c *Coordinator) scoreAll(ctx context.Context, e *entity.Entity, ids []entity.ID) []scoredCandidate {
	others := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		if other, ok := c.entities.Get(id); ok {
			others = append(others, other)
		}
	}

	results := make([]scoredCandidate, len(others))

	var wg sync.WaitGroup
	for i, other := range others {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = scoredCandidate{otherID: other.ID, card: c.scorer.Compute(e, other)}
		}
		if err := c.pool.Submit(ctx, task); err != nil {
			// Pool saturated at shutdown or context cancelled: compute
			// inline so the result set stays complete.
			task()
		}
	}
	wg.Wait()

	return results
}

// decide persists the scorecard for one pair, runs the threshold machine,
// and applies the outcome.
func (c *Coordinator) decide(ctx context.Context, a, b entity.ID, card *scoring.Scorecard) (Candidate, error) {
	pair := entity.NewPair(a, b, c.pairSeq.Add(1))
	stored := c.scorecards.Put(pair.ID, card)
	dec := c.matcher.Decide(stored)

	cand := Candidate{Pair: pair, Scorecard: stored, Decision: dec}

	switch dec.Outcome {
	case OutcomeAutoMerged:
		root, changed, err := c.clusters.Merge(a, b, dec.Reason, SystemActor)
		if err != nil {
			// Fatal for this cluster only; other candidates proceed. The
			// candidate reports the refusal so callers cannot mistake it
			// for a merge.
			c.logger.ErrorContext(ctx, "cluster mutation refused",
				"pair_id", pair.ID,
				"error", err,
			)
			cand.Decision.Outcome = OutcomeRefused
			cand.Decision.Reason = ReasonClusterRefused
			return cand, nil
		}
		cand.ClusterID = root
		if changed {
			if _, err := c.ledger.Append(ctx, ledger.Record{
				Action:      ledger.ActionMerge,
				Actor:       SystemActor,
				Reason:      dec.Reason,
				AffectedIDs: []entity.ID{a, b},
				ClusterID:   root,
				PairID:      string(pair.ID),
			}); err != nil {
				return cand, err
			}
		}

	case OutcomeQueued:
		c.queue.Enqueue(string(pair.ID), a, b, dec.Score)

	case OutcomeRejected:
		if _, err := c.ledger.Append(ctx, ledger.Record{
			Action:      ledger.ActionReject,
			Actor:       SystemActor,
			Reason:      dec.Reason,
			AffectedIDs: []entity.ID{a, b},
			PairID:      string(pair.ID),
		}); err != nil {
			return cand, err
		}
	}

	return cand, nil
}

// BatchIngest ingests entities in parallel. Cancellation is honored between
// entities, never mid-entity, so no audit entry is left half-written. The
// per-index result slot holds the candidates for the matching input entity.
func (c *Coordinator) BatchIngest(ctx context.Context, entities []*entity.Entity) ([][]Candidate, error) {
	results := make([][]Candidate, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	if c.numWorkers > 0 {
		g.SetLimit(c.numWorkers)
	} else {
		g.SetLimit(runtime.GOMAXPROCS(0))
	}

	for i, e := range entities {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			// Detach the entity's own work from cancellation: once
			// started, it runs to completion.
			cands, err := c.Ingest(context.WithoutCancel(gctx), e)
			results[i] = cands
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// Merge unites the clusters of two entities on explicit request, such as a
// human-confirmed match. Idempotent: merging an already-merged pair mutates
// nothing and appends no duplicate audit entry.
func (c *Coordinator) Merge(ctx context.Context, source, target entity.ID, reason, actor string) (entity.ID, error) {
	for _, id := range []entity.ID{source, target} {
		if _, ok := c.entities.Get(id); !ok {
			return "", &NotFoundError{Kind: "entity", ID: string(id)}
		}
	}

	root, changed, err := c.clusters.Merge(source, target, reason, actor)
	if err != nil {
		return "", c.translateClusterErr(ctx, err)
	}

	if changed {
		if _, err := c.ledger.Append(ctx, ledger.Record{
			Action:      ledger.ActionMerge,
			Actor:       actor,
			Reason:      reason,
			AffectedIDs: []entity.ID{source, target},
			ClusterID:   root,
			PairID:      string(entity.NewPairID(source, target)),
		}); err != nil {
			return root, err
		}
	}
	return root, nil
}

// Split reverses the merge that introduced memberID into the cluster,
// restoring the absorbed sub-cluster to its pre-merge assignment.
func (c *Coordinator) Split(ctx context.Context, clusterID, memberID entity.ID, reason, actor string) error {
	restored, err := c.clusters.Split(clusterID, memberID, reason, actor)
	if err != nil {
		if errors.Is(err, cluster.ErrUnknownCluster) {
			return &NotFoundError{Kind: "cluster", ID: string(clusterID), cause: err}
		}
		return c.translateClusterErr(ctx, err)
	}

	if _, err := c.ledger.Append(ctx, ledger.Record{
		Action:      ledger.ActionSplit,
		Actor:       actor,
		Reason:      reason,
		AffectedIDs: []entity.ID{memberID, restored},
		ClusterID:   clusterID,
	}); err != nil {
		return err
	}
	return nil
}

// Resolve applies a reviewer's decision to a queued pair and records it.
// Approval replays the pair as an auto-merge; rejection records the refusal.
func (c *Coordinator) Resolve(ctx context.Context, pairID string, approved bool, reviewer string) error {
	if _, ok := c.queue.Get(pairID); !ok {
		return &NotFoundError{Kind: "pair", ID: pairID}
	}

	item, err := c.queue.Resolve(pairID, approved, reviewer)
	if err != nil {
		// The pair exists but is no longer pending.
		return &ConflictError{Detail: fmt.Sprintf("pair %s already resolved", pairID), cause: err}
	}

	action := ledger.ActionAdjudicateReject
	var clusterID entity.ID
	if approved {
		root, _, err := c.clusters.Merge(item.A, item.B, "adjudicated", reviewer)
		if err != nil {
			return c.translateClusterErr(ctx, err)
		}
		action = ledger.ActionAdjudicateApprove
		clusterID = root
	}

	if _, err := c.ledger.Append(ctx, ledger.Record{
		Action:      action,
		Actor:       reviewer,
		Reason:      "adjudicated",
		AffectedIDs: []entity.ID{item.A, item.B},
		ClusterID:   clusterID,
		PairID:      pairID,
	}); err != nil {
		return err
	}
	return nil
}

// Remove tombstones an entity in the blocking index so it stops appearing
// as a candidate. Its record, scorecards, and audit history are retained.
func (c *Coordinator) Remove(id entity.ID) error {
	if _, ok := c.entities.Get(id); !ok {
		return &NotFoundError{Kind: "entity", ID: string(id)}
	}
	if err := c.idx.Delete(id); err != nil && !errors.Is(err, index.ErrUnavailable) {
		return err
	}
	return nil
}

// Find returns the cluster id for an entity. Entities never seen resolve to
// themselves.
func (c *Coordinator) Find(id entity.ID) entity.ID {
	return c.clusters.Find(id)
}

// Members returns the member set of the cluster containing id.
func (c *Coordinator) Members(id entity.ID) []entity.ID {
	return c.clusters.Members(id)
}

// Entity returns an ingested entity by id.
func (c *Coordinator) Entity(id entity.ID) (*entity.Entity, error) {
	e, ok := c.entities.Get(id)
	if !ok {
		return nil, &NotFoundError{Kind: "entity", ID: string(id)}
	}
	return e, nil
}

// Queue returns the pending adjudication items in enqueue order.
func (c *Coordinator) Queue() []adjudication.Item {
	return c.queue.Pending()
}

// Audit returns audit entries matching the filter, strictly ordered by
// sequence.
func (c *Coordinator) Audit(ctx context.Context, f ledger.Filter) []ledger.Entry {
	return c.ledger.Query(ctx, f)
}

// Scorecards exposes the persisted scorecard versions.
func (c *Coordinator) Scorecards() *ScorecardStore {
	return c.scorecards
}

// Ledger exposes the audit ledger, e.g. for archival.
func (c *Coordinator) Ledger() *ledger.Ledger {
	return c.ledger
}

// Clusters exposes the cluster store for read access and snapshots.
func (c *Coordinator) Clusters() *cluster.Store {
	return c.clusters
}

// translateClusterErr maps cluster-store errors onto the engine taxonomy.
func (c *Coordinator) translateClusterErr(ctx context.Context, err error) error {
	var ie *cluster.InvariantError
	if errors.As(err, &ie) {
		c.logger.ErrorContext(ctx, "cluster invariant violated, mutations halted for this cluster",
			"cluster_id", ie.Root,
			"detail", ie.Detail,
		)
		return &InvariantViolation{ClusterID: ie.Root, Detail: ie.Detail, cause: err}
	}
	if errors.Is(err, cluster.ErrNotMerged) {
		return &ConflictError{Detail: "not_merged", cause: err}
	}
	return err
}

// Close shuts the coordinator down: the scoring pool drains and the ledger
// flushes. Idempotent.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.pool.Close()
	return c.ledger.Close()
}
