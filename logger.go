package resolvgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/resolvgo/entity"
)

// Logger wraps slog.Logger with helpers for resolution operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger from an existing slog.Logger.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{Logger: logger}
}

// NewTextLogger creates a logger that writes human-readable output to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})),
	}
}

// NewJSONLogger creates a logger that writes JSON output to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})),
	}
}

// NoopLogger creates a logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// LogIngest logs an ingest operation.
func (l *Logger) LogIngest(ctx context.Context, ent *entity.Entity, candidates int, err error) {
	var id entity.ID
	if ent != nil {
		id = ent.ID
	}

	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			slog.String("entity_id", string(id)),
			slog.String("error", err.Error()),
		)
		return
	}

	l.DebugContext(ctx, "entity ingested",
		slog.String("entity_id", string(id)),
		slog.Int("candidates", candidates),
	)
}

// LogBatchIngest logs a batch ingest operation.
func (l *Logger) LogBatchIngest(ctx context.Context, total, done int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch ingest failed",
			slog.Int("total", total),
			slog.Int("done", done),
			slog.String("error", err.Error()),
		)
		return
	}

	l.InfoContext(ctx, "batch ingested",
		slog.Int("total", total),
	)
}

// LogMerge logs an explicit merge operation.
func (l *Logger) LogMerge(ctx context.Context, source, target, root entity.ID, actor string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			slog.String("source", string(source)),
			slog.String("target", string(target)),
			slog.String("actor", actor),
			slog.String("error", err.Error()),
		)
		return
	}

	l.InfoContext(ctx, "clusters merged",
		slog.String("source", string(source)),
		slog.String("target", string(target)),
		slog.String("cluster_id", string(root)),
		slog.String("actor", actor),
	)
}

// LogSplit logs a split operation.
func (l *Logger) LogSplit(ctx context.Context, clusterID, memberID entity.ID, actor string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "split failed",
			slog.String("cluster_id", string(clusterID)),
			slog.String("member_id", string(memberID)),
			slog.String("actor", actor),
			slog.String("error", err.Error()),
		)
		return
	}

	l.InfoContext(ctx, "cluster split",
		slog.String("cluster_id", string(clusterID)),
		slog.String("member_id", string(memberID)),
		slog.String("actor", actor),
	)
}

// LogResolve logs an adjudication decision.
func (l *Logger) LogResolve(ctx context.Context, pairID string, approved bool, reviewer string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "resolve failed",
			slog.String("pair_id", pairID),
			slog.String("reviewer", reviewer),
			slog.String("error", err.Error()),
		)
		return
	}

	l.InfoContext(ctx, "pair resolved",
		slog.String("pair_id", pairID),
		slog.Bool("approved", approved),
		slog.String("reviewer", reviewer),
	)
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return
	}

	l.InfoContext(ctx, "snapshot written",
		slog.String("name", name),
	)
}

// LogArchive logs an audit archive operation.
func (l *Logger) LogArchive(ctx context.Context, name string, fromSeq, toSeq uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "audit archive failed",
			slog.Uint64("from_seq", fromSeq),
			slog.Uint64("to_seq", toSeq),
			slog.String("error", err.Error()),
		)
		return
	}

	l.InfoContext(ctx, "audit range archived",
		slog.String("name", name),
		slog.Uint64("from_seq", fromSeq),
		slog.Uint64("to_seq", toSeq),
	)
}
