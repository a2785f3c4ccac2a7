package engine

import (
	"context"
	"sort"

	"github.com/hupe1980/resolvgo/adjudication"
	"github.com/hupe1980/resolvgo/cluster"
	"github.com/hupe1980/resolvgo/entity"
	"github.com/hupe1980/resolvgo/scoring"
)

// Snapshot is the serializable resolution state: entities, cluster
// assignments with their merge logs, scorecard history, and the review queue.
// The audit ledger is not part of it; the ledger has its own durable log and
// archival path.
type Snapshot struct {
	Entities   []*entity.Entity                       `json:"entities"`
	Clusters   cluster.State                          `json:"clusters"`
	Scorecards map[entity.PairID][]*scoring.Scorecard `json:"scorecards"`
	Queue      []adjudication.Item                    `json:"queue"`
	PairSeq    uint64                                 `json:"pair_seq"`
}

// Snapshot captures the coordinator state. Entities are ordered by first
// observation so a restore replays them in ingest order.
func (c *Coordinator) Snapshot() *Snapshot {
	clusters := c.clusters.Export()

	entities := make([]*entity.Entity, 0, c.entities.Len())
	for _, e := range c.entities.ToMap() {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		si, sj := clusters.Seq[entities[i].ID], clusters.Seq[entities[j].ID]
		if si != sj {
			return si < sj
		}
		return entities[i].ID < entities[j].ID
	})

	return &Snapshot{
		Entities:   entities,
		Clusters:   clusters,
		Scorecards: c.scorecards.Export(),
		Queue:      c.queue.Items(),
		PairSeq:    c.pairSeq.Load(),
	}
}

// Restore loads a snapshot into a fresh coordinator, rebuilding the blocking
// index and fallback window from the stored entities. Restoring over live
// state is not supported.
func (c *Coordinator) Restore(ctx context.Context, snap *Snapshot) error {
	for _, e := range snap.Entities {
		if err := e.Validate(); err != nil {
			return &ValidationError{Detail: err.Error(), cause: err}
		}
		_ = c.entities.Set(e.ID, e)
		c.fallback.Observe(e)
		if err := c.idx.Insert(e); err != nil {
			c.logger.WarnContext(ctx, "blocking index insert failed during restore",
				"entity_id", e.ID,
				"error", err,
			)
		}
	}

	c.clusters.Import(snap.Clusters)
	c.scorecards.Import(snap.Scorecards)
	c.queue.Load(snap.Queue)
	c.pairSeq.Store(snap.PairSeq)
	return nil
}
