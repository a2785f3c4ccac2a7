package engine

import (
	"context"
	"testing"

	"github.com/hupe1980/resolvgo/adjudication"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/index"
	"github.com/hupe1980/resolvgo/index/lsh"
	"github.com/hupe1980/resolvgo/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCoordinator uses single-row bands so entities with meaningful token
// overlap reliably share a bucket.
func newTestCoordinator(t *testing.T, optFns ...func(o *Options)) *Coordinator {
	t.Helper()

	idx, err := lsh.New(func(o *lsh.Options) {
		o.Bands = 128
		o.Rows = 1
	})
	require.NoError(t, err)

	all := append([]func(o *Options){func(o *Options) { o.Index = idx }}, optFns...)
	c, err := New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ingest(t *testing.T, c *Coordinator, e *entity.Entity) []Candidate {
	t.Helper()
	cands, err := c.Ingest(context.Background(), e)
	require.NoError(t, err)
	return cands
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("IdenticalRecordsAutoMerge", func(t *testing.T) {
		c := newTestCoordinator(t)

		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})
		cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})

		require.Len(t, cands, 1)
		assert.Equal(t, OutcomeAutoMerged, cands[0].Decision.Outcome)
		assert.GreaterOrEqual(t, cands[0].Decision.Score, 0.95)
		assert.Equal(t, c.Find("1"), c.Find("2"))

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionMerge}})
		require.Len(t, entries, 1)
		assert.Equal(t, SystemActor, entries[0].Actor)
		assert.Equal(t, ReasonAutoThreshold, entries[0].Reason)

		// The scorecard was persisted on the write path.
		_, ok := c.Scorecards().Latest(cands[0].Pair.ID)
		assert.True(t, ok)
	})

	t.Run("MaxCandidatesCapsIndexResults", func(t *testing.T) {
		c := newTestCoordinator(t, func(o *Options) { o.MaxCandidates = 1 })

		attrs := entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}
		for _, id := range []entity.ID{"1", "2", "3", "4"} {
			ingest(t, c, &entity.Entity{ID: id, Attributes: attrs})
		}

		cands := ingest(t, c, &entity.Entity{ID: "5", Attributes: attrs})
		assert.LessOrEqual(t, len(cands), 1)
	})

	t.Run("PoisonedClusterRefusesAutoMerge", func(t *testing.T) {
		c := newTestCoordinator(t)

		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})

		st := c.Clusters().Export()
		st.Poisoned = map[entity.ID]string{c.Find("1"): "membership diverged"}
		c.Clusters().Import(st)

		cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})

		require.Len(t, cands, 1)
		assert.Equal(t, OutcomeRefused, cands[0].Decision.Outcome)
		assert.Equal(t, ReasonClusterRefused, cands[0].Decision.Reason)
		assert.Empty(t, cands[0].ClusterID)
		assert.NotEqual(t, c.Find("1"), c.Find("2"))

		// A refused mutation leaves no trace in the audit trail.
		assert.Empty(t, c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionMerge}}))
	})

	t.Run("PhoneticMisspellingQueues", func(t *testing.T) {
		c := newTestCoordinator(t)

		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "address": "12 main st springfield"}})
		cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Jayn Doh", "address": "12 main st springfield"}})

		require.Len(t, cands, 1)
		assert.Equal(t, OutcomeQueued, cands[0].Decision.Outcome)

		pending := c.Queue()
		require.Len(t, pending, 1)
		assert.Equal(t, string(cands[0].Pair.ID), pending[0].PairID)

		// The clusters stay apart until a reviewer decides.
		assert.NotEqual(t, c.Find("1"), c.Find("2"))
		// Queueing writes no audit entry; the decision is still open.
		assert.Empty(t, c.Audit(ctx, ledger.Filter{}))
	})

	t.Run("DissimilarNamesReject", func(t *testing.T) {
		c := newTestCoordinator(t)

		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "John Smith", "address": "12 main st springfield"}})
		cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Mary Jones", "address": "12 main st springfield"}})

		require.Len(t, cands, 1)
		assert.Equal(t, OutcomeRejected, cands[0].Decision.Outcome)
		assert.Equal(t, ReasonBelowThreshold, cands[0].Decision.Reason)

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionReject}})
		require.Len(t, entries, 1)
		assert.Equal(t, ReasonBelowThreshold, entries[0].Reason)

		// Rejected pairs still persist their scorecard for explainability.
		_, ok := c.Scorecards().Latest(cands[0].Pair.ID)
		assert.True(t, ok)
	})

	t.Run("NoComparableAttributesRejectsAsInsufficient", func(t *testing.T) {
		c := newTestCoordinator(t)

		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"city": "springfield"}})
		cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"city": "springfield"}})

		require.Len(t, cands, 1)
		assert.Equal(t, OutcomeRejected, cands[0].Decision.Outcome)
		assert.Equal(t, ReasonInsufficientData, cands[0].Decision.Reason)
	})

	t.Run("NoSelfCandidates", func(t *testing.T) {
		c := newTestCoordinator(t)

		cands := ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe"}})
		assert.Empty(t, cands)
	})

	t.Run("DuplicateIngestConflicts", func(t *testing.T) {
		c := newTestCoordinator(t)

		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe"}})
		_, err := c.Ingest(ctx, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe"}})

		var ce *ConflictError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("MalformedEntity", func(t *testing.T) {
		c := newTestCoordinator(t)

		_, err := c.Ingest(ctx, &entity.Entity{ID: "  ", Attributes: entity.Attributes{"name": "x"}})
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)

		_, err = c.Ingest(ctx, &entity.Entity{ID: "ok", Attributes: entity.Attributes{"blob": []byte("nope")}})
		require.ErrorAs(t, err, &ve)
	})
}

// unavailableIndex simulates a blocking-index backend outage.
type unavailableIndex struct{}

func (unavailableIndex) Insert(*entity.Entity) error               { return index.ErrUnavailable }
func (unavailableIndex) Query(*entity.Entity) ([]entity.ID, error) { return nil, index.ErrUnavailable }
func (unavailableIndex) Delete(entity.ID) error                    { return index.ErrUnavailable }

func TestFallbackScan(t *testing.T) {
	c, err := New(func(o *Options) {
		o.Index = unavailableIndex{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})
	cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})

	// The recent-entity window still produces the candidate; availability
	// survives the index outage.
	require.Len(t, cands, 1)
	assert.Equal(t, OutcomeAutoMerged, cands[0].Decision.Outcome)
	assert.Equal(t, c.Find("1"), c.Find("2"))
}

func TestExplicitMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("MergesAndAudits", func(t *testing.T) {
		c := newTestCoordinator(t)
		ingest(t, c, &entity.Entity{ID: "a", Attributes: entity.Attributes{"name": "Ann"}})
		ingest(t, c, &entity.Entity{ID: "b", Attributes: entity.Attributes{"name": "Bea"}})

		root, err := c.Merge(ctx, "a", "b", "human confirmed", "reviewer-1")
		require.NoError(t, err)
		assert.Equal(t, entity.ID("a"), root)
		assert.Equal(t, c.Find("a"), c.Find("b"))

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionMerge}})
		require.Len(t, entries, 1)
		assert.Equal(t, "reviewer-1", entries[0].Actor)
	})

	t.Run("IdempotentWithoutDuplicateAudit", func(t *testing.T) {
		c := newTestCoordinator(t)
		ingest(t, c, &entity.Entity{ID: "a", Attributes: entity.Attributes{"name": "Ann"}})
		ingest(t, c, &entity.Entity{ID: "b", Attributes: entity.Attributes{"name": "Bea"}})

		_, err := c.Merge(ctx, "a", "b", "r", "actor")
		require.NoError(t, err)
		root, err := c.Merge(ctx, "a", "b", "r", "actor")
		require.NoError(t, err)
		assert.Equal(t, entity.ID("a"), root)

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionMerge}})
		assert.Len(t, entries, 1)
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		c := newTestCoordinator(t)
		ingest(t, c, &entity.Entity{ID: "a", Attributes: entity.Attributes{"name": "Ann"}})

		_, err := c.Merge(ctx, "a", "ghost", "r", "actor")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "entity", nf.Kind)
	})
}

func TestSplit(t *testing.T) {
	ctx := context.Background()

	t.Run("RestoresPreMergeAssignment", func(t *testing.T) {
		c := newTestCoordinator(t)
		ingest(t, c, &entity.Entity{ID: "a", Attributes: entity.Attributes{"name": "Ann"}})
		ingest(t, c, &entity.Entity{ID: "b", Attributes: entity.Attributes{"name": "Bea"}})

		root, err := c.Merge(ctx, "a", "b", "r", "actor")
		require.NoError(t, err)

		require.NoError(t, c.Split(ctx, root, "b", "false positive", "reviewer-1"))
		assert.Equal(t, entity.ID("b"), c.Find("b"))
		assert.Equal(t, entity.ID("a"), c.Find("a"))

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionSplit}})
		require.Len(t, entries, 1)
		assert.Equal(t, "reviewer-1", entries[0].Actor)
	})

	t.Run("NeverMergedConflicts", func(t *testing.T) {
		c := newTestCoordinator(t)
		ingest(t, c, &entity.Entity{ID: "a", Attributes: entity.Attributes{"name": "Ann"}})
		ingest(t, c, &entity.Entity{ID: "b", Attributes: entity.Attributes{"name": "Bea"}})
		_, err := c.Merge(ctx, "a", "b", "r", "actor")
		require.NoError(t, err)

		err = c.Split(ctx, "a", "zzz", "r", "actor")
		var ce *ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Error(), "not_merged")
	})

	t.Run("UnknownCluster", func(t *testing.T) {
		c := newTestCoordinator(t)

		err := c.Split(ctx, "ghost", "a", "r", "actor")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "cluster", nf.Kind)
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	queuedPair := func(t *testing.T, c *Coordinator) adjudication.Item {
		t.Helper()
		ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "address": "12 main st springfield"}})
		ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Jayn Doh", "address": "12 main st springfield"}})

		pending := c.Queue()
		require.Len(t, pending, 1)
		return pending[0]
	}

	t.Run("ApproveMergesAndAudits", func(t *testing.T) {
		c := newTestCoordinator(t)
		item := queuedPair(t, c)

		require.NoError(t, c.Resolve(ctx, item.PairID, true, "r1"))
		assert.Equal(t, c.Find("1"), c.Find("2"))
		assert.Empty(t, c.Queue())

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionAdjudicateApprove}})
		require.Len(t, entries, 1)
		assert.Equal(t, "r1", entries[0].Actor)
		assert.Equal(t, item.PairID, entries[0].PairID)
	})

	t.Run("RejectLeavesClustersApart", func(t *testing.T) {
		c := newTestCoordinator(t)
		item := queuedPair(t, c)

		require.NoError(t, c.Resolve(ctx, item.PairID, false, "r1"))
		assert.NotEqual(t, c.Find("1"), c.Find("2"))

		entries := c.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionAdjudicateReject}})
		require.Len(t, entries, 1)
	})

	t.Run("ResolveTwiceConflicts", func(t *testing.T) {
		c := newTestCoordinator(t)
		item := queuedPair(t, c)

		require.NoError(t, c.Resolve(ctx, item.PairID, true, "r1"))

		err := c.Resolve(ctx, item.PairID, true, "r2")
		var ce *ConflictError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("UnknownPair", func(t *testing.T) {
		c := newTestCoordinator(t)

		err := c.Resolve(ctx, "nope", true, "r1")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
	})
}

func TestRemove(t *testing.T) {
	c := newTestCoordinator(t)

	ingest(t, c, &entity.Entity{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})
	require.NoError(t, c.Remove("1"))

	// A tombstoned entity stops surfacing as a candidate.
	cands := ingest(t, c, &entity.Entity{ID: "2", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}})
	assert.Empty(t, cands)

	// Its record stays readable for audit purposes.
	e, err := c.Entity("1")
	require.NoError(t, err)
	assert.Equal(t, entity.ID("1"), e.ID)

	var nf *NotFoundError
	require.ErrorAs(t, c.Remove("ghost"), &nf)
}

func TestBatchIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("IngestsAll", func(t *testing.T) {
		// One worker keeps ingest order deterministic so later entities see
		// earlier ones as candidates.
		c := newTestCoordinator(t, func(o *Options) { o.NumWorkers = 1 })

		batch := []*entity.Entity{
			{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}},
			{ID: "2", Attributes: entity.Attributes{"name": "Jane Doe", "email": "jane@x.com"}},
			{ID: "3", Attributes: entity.Attributes{"name": "Bob Kay", "email": "bob@y.com"}},
		}

		results, err := c.BatchIngest(ctx, batch)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, c.Find("1"), c.Find("2"))
		assert.NotEqual(t, c.Find("1"), c.Find("3"))
	})

	t.Run("CancelledBeforeStart", func(t *testing.T) {
		c := newTestCoordinator(t)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := c.BatchIngest(cancelled, []*entity.Entity{
			{ID: "1", Attributes: entity.Attributes{"name": "Jane Doe"}},
		})
		require.ErrorIs(t, err, context.Canceled)

		// Nothing was admitted past the cancellation boundary.
		_, err = c.Entity("1")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	t.Run("ValidationFailureStopsBatch", func(t *testing.T) {
		c := newTestCoordinator(t)

		_, err := c.BatchIngest(ctx, []*entity.Entity{
			{ID: "", Attributes: entity.Attributes{"name": "x"}},
		})
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	})
}
