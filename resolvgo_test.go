package resolvgo_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/resolvgo"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/index/lsh"
	"github.com/hupe1980/resolvgo/ledger"
)

// newTestEngine builds an Engine whose index banding makes any shared token
// an almost certain candidate collision, and a single worker so earlier
// entities are always visible to later ones.
func newTestEngine(t *testing.T, optFns ...resolvgo.Option) *resolvgo.Engine {
	t.Helper()

	all := append([]resolvgo.Option{
		resolvgo.WithIndexOptions(func(o *lsh.Options) {
			o.Bands = 128
			o.Rows = 1
		}),
		resolvgo.WithNumWorkers(1),
	}, optFns...)

	eng, err := resolvgo.New(all...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, eng.Close())
	})

	return eng
}

func ingest(t *testing.T, eng *resolvgo.Engine, id entity.ID, attrs entity.Attributes) []resolvgo.Candidate {
	t.Helper()

	cands, err := eng.Ingest(context.Background(), &entity.Entity{ID: id, Attributes: attrs})
	require.NoError(t, err)

	return cands
}

func TestEngine(t *testing.T) {
	t.Run("IdenticalRecordsAutoMerge", func(t *testing.T) {
		eng := newTestEngine(t)

		attrs := entity.Attributes{
			"name":    "Jane Doe",
			"email":   "jane@example.com",
			"address": "12 main st springfield",
		}

		ingest(t, eng, "crm-1", attrs)
		cands := ingest(t, eng, "erp-1", attrs)

		require.Len(t, cands, 1)
		assert.EqualValues(t, "auto_merged", cands[0].Decision.Outcome)
		assert.GreaterOrEqual(t, cands[0].Decision.Score, 0.9)
		assert.NotEmpty(t, cands[0].ClusterID)

		assert.Equal(t, eng.Find("crm-1"), eng.Find("erp-1"))
		assert.Len(t, eng.Members("crm-1"), 2)
	})

	t.Run("PhoneticMisspellingQueuesForReview", func(t *testing.T) {
		eng := newTestEngine(t)

		ingest(t, eng, "crm-1", entity.Attributes{
			"name":    "Jane Doe",
			"address": "12 main st springfield",
		})
		ingest(t, eng, "erp-9", entity.Attributes{
			"name":    "Jayn Doh",
			"address": "12 main st springfield",
		})

		items := eng.Queue()
		require.Len(t, items, 1)
		assert.InDelta(t, 0.75, items[0].Score, 1e-9)

		assert.NotEqual(t, eng.Find("crm-1"), eng.Find("erp-9"))
	})

	t.Run("ThresholdsShiftTheReviewBand", func(t *testing.T) {
		eng := newTestEngine(t, resolvgo.WithThresholds(0.7, 0.5))

		ingest(t, eng, "crm-1", entity.Attributes{
			"name":    "Jane Doe",
			"address": "12 main st springfield",
		})
		ingest(t, eng, "erp-9", entity.Attributes{
			"name":    "Jayn Doh",
			"address": "12 main st springfield",
		})

		assert.Empty(t, eng.Queue())
		assert.Equal(t, eng.Find("crm-1"), eng.Find("erp-9"))
	})

	t.Run("MaxCandidatesBoundsTheIndexPath", func(t *testing.T) {
		eng := newTestEngine(t, resolvgo.WithMaxCandidates(1))

		attrs := entity.Attributes{
			"name":  "Jane Doe",
			"email": "jane@example.com",
		}
		for _, id := range []entity.ID{"s-1", "s-2", "s-3", "s-4"} {
			ingest(t, eng, id, attrs)
		}

		cands := ingest(t, eng, "s-5", attrs)
		assert.LessOrEqual(t, len(cands), 1)
	})

	t.Run("UnknownEntityIsNotFound", func(t *testing.T) {
		eng := newTestEngine(t)

		_, err := eng.Entity("missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, resolvgo.ErrNotFound)

		var nfe *resolvgo.NotFoundError
		require.ErrorAs(t, err, &nfe)
		assert.Equal(t, "entity", nfe.Kind)
	})
}

func TestEngineResolve(t *testing.T) {
	queueBorderlinePair := func(t *testing.T, eng *resolvgo.Engine) string {
		t.Helper()

		ingest(t, eng, "crm-1", entity.Attributes{
			"name":    "Jane Doe",
			"address": "12 main st springfield",
		})
		ingest(t, eng, "erp-9", entity.Attributes{
			"name":    "Jayn Doh",
			"address": "12 main st springfield",
		})

		items := eng.Queue()
		require.Len(t, items, 1)

		return items[0].PairID
	}

	t.Run("ApproveMergesAndAudits", func(t *testing.T) {
		eng := newTestEngine(t)
		pairID := queueBorderlinePair(t, eng)

		require.NoError(t, eng.Resolve(context.Background(), pairID, true, "reviewer-7"))

		assert.Equal(t, eng.Find("crm-1"), eng.Find("erp-9"))
		assert.Empty(t, eng.Queue())

		entries := eng.Audit(context.Background(), ledger.Filter{
			Actions: []ledger.Action{ledger.ActionAdjudicateApprove},
		})
		require.Len(t, entries, 1)
		assert.Equal(t, "reviewer-7", entries[0].Actor)
	})

	t.Run("RejectLeavesClustersApart", func(t *testing.T) {
		eng := newTestEngine(t)
		pairID := queueBorderlinePair(t, eng)

		require.NoError(t, eng.Resolve(context.Background(), pairID, false, "reviewer-7"))

		assert.NotEqual(t, eng.Find("crm-1"), eng.Find("erp-9"))
		assert.Empty(t, eng.Queue())
	})
}

func TestEngineSplit(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	attrs := entity.Attributes{
		"name":  "Jane Doe",
		"email": "jane@example.com",
	}
	ingest(t, eng, "crm-1", attrs)
	ingest(t, eng, "erp-1", attrs)
	require.Equal(t, eng.Find("crm-1"), eng.Find("erp-1"))

	require.NoError(t, eng.Split(ctx, eng.Find("crm-1"), "erp-1", "wrong person", "reviewer-7"))

	assert.NotEqual(t, eng.Find("crm-1"), eng.Find("erp-1"))
	require.NoError(t, eng.VerifyAudit())

	entries := eng.Audit(ctx, ledger.Filter{Actions: []ledger.Action{ledger.ActionSplit}})
	require.Len(t, entries, 1)
	assert.Equal(t, "reviewer-7", entries[0].Actor)
}

func TestEngineExplain(t *testing.T) {
	t.Run("LatestScorecard", func(t *testing.T) {
		eng := newTestEngine(t)

		ingest(t, eng, "crm-1", entity.Attributes{
			"name":    "Jane Doe",
			"address": "12 main st springfield",
		})
		ingest(t, eng, "erp-9", entity.Attributes{
			"name":    "Jayn Doh",
			"address": "12 main st springfield",
		})

		items := eng.Queue()
		require.Len(t, items, 1)

		exp, err := eng.Explain(entity.PairID(items[0].PairID))
		require.NoError(t, err)

		assert.InDelta(t, 0.75, exp.Score, 1e-9)
		assert.Contains(t, exp.Rationale, "name_similarity")
	})

	t.Run("UnknownPair", func(t *testing.T) {
		eng := newTestEngine(t)

		_, err := eng.Explain("a|b")
		require.Error(t, err)
		assert.ErrorIs(t, err, resolvgo.ErrNotFound)
	})
}

func TestEngineMetrics(t *testing.T) {
	collector := resolvgo.NewBasicMetricsCollector()
	eng := newTestEngine(t, resolvgo.WithMetricsCollector(collector))

	attrs := entity.Attributes{
		"name":  "Jane Doe",
		"email": "jane@example.com",
	}
	ingest(t, eng, "crm-1", attrs)
	ingest(t, eng, "erp-1", attrs)

	_, err := eng.Merge(context.Background(), "crm-1", "erp-1", "manual confirm", "reviewer-7")
	require.NoError(t, err)

	stats := collector.GetStats()
	assert.Equal(t, int64(2), stats.IngestCount)
	assert.Equal(t, int64(0), stats.IngestErrors)
	assert.Equal(t, int64(1), stats.MergeCount)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()

	indexOpts := resolvgo.WithIndexOptions(func(o *lsh.Options) {
		o.Bands = 128
		o.Rows = 1
	})

	t.Run("RoundTrip", func(t *testing.T) {
		eng := newTestEngine(t)

		merged := entity.Attributes{
			"name":  "Jane Doe",
			"email": "jane@example.com",
		}
		ingest(t, eng, "crm-1", merged)
		ingest(t, eng, "erp-1", merged)

		ingest(t, eng, "crm-2", entity.Attributes{
			"name":    "Jayn Doh",
			"address": "12 main st springfield",
		})
		ingest(t, eng, "erp-2", entity.Attributes{
			"name":    "Jane Doe",
			"address": "12 main st springfield",
		})

		var buf bytes.Buffer
		require.NoError(t, eng.SaveSnapshot(ctx, &buf))

		restored, err := resolvgo.LoadSnapshot(ctx, &buf, indexOpts, resolvgo.WithNumWorkers(1))
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, restored.Close())
		})

		assert.Equal(t, eng.Find("crm-1"), restored.Find("crm-1"))
		assert.Equal(t, restored.Find("crm-1"), restored.Find("erp-1"))
		assert.ElementsMatch(t, eng.Members("crm-1"), restored.Members("crm-1"))

		require.Len(t, restored.Queue(), len(eng.Queue()))

		ent, err := restored.Entity("crm-2")
		require.NoError(t, err)
		assert.Equal(t, "Jayn Doh", ent.Attributes["name"])

		items := restored.Queue()
		require.NotEmpty(t, items)
		_, err = restored.Explain(entity.PairID(items[0].PairID))
		require.NoError(t, err)
	})

	t.Run("QueuedPairResolvableAfterRestore", func(t *testing.T) {
		eng := newTestEngine(t)

		ingest(t, eng, "crm-1", entity.Attributes{
			"name":    "Jane Doe",
			"address": "12 main st springfield",
		})
		ingest(t, eng, "erp-9", entity.Attributes{
			"name":    "Jayn Doh",
			"address": "12 main st springfield",
		})
		require.Len(t, eng.Queue(), 1)

		var buf bytes.Buffer
		require.NoError(t, eng.SaveSnapshot(ctx, &buf))

		restored, err := resolvgo.LoadSnapshot(ctx, &buf, indexOpts, resolvgo.WithNumWorkers(1))
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, restored.Close())
		})

		items := restored.Queue()
		require.Len(t, items, 1)

		require.NoError(t, restored.Resolve(ctx, items[0].PairID, true, "reviewer-7"))
		assert.Equal(t, restored.Find("crm-1"), restored.Find("erp-9"))
	})

	t.Run("BadMagic", func(t *testing.T) {
		_, err := resolvgo.LoadSnapshot(ctx, bytes.NewReader([]byte("NOPE\x01\x04json")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad magic")
	})

	t.Run("TruncatedHeader", func(t *testing.T) {
		_, err := resolvgo.LoadSnapshot(ctx, bytes.NewReader([]byte("RG")))
		require.Error(t, err)
	})
}

func TestEngineInvalidThresholds(t *testing.T) {
	_, err := resolvgo.New(resolvgo.WithThresholds(0.5, 0.9))
	require.Error(t, err)

	var pe *resolvgo.PolicyError
	assert.True(t, errors.As(err, &pe))
}
