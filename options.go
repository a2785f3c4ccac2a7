package resolvgo

import (
	"log/slog"

	"github.com/hupe1980/resolvgo/codec"
	"github.com/hupe1980/resolvgo/engine"
	"github.com/hupe1980/resolvgo/index/lsh"
	"github.com/hupe1980/resolvgo/ledger"
	"github.com/hupe1980/resolvgo/scoring"
)

// options contains configuration for the Engine.
type options struct {
	codec            codec.Codec
	ledgerPath       string
	ledgerOptions    []func(*ledger.Options)
	indexOptions     []func(*lsh.Options)
	matcherOptions   []func(*engine.MatcherOptions)
	scorer           *scoring.Scorer
	maxCandidates    int
	numWorkers       int
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option is a function that configures the Engine.
type Option func(*options)

// WithCodec sets the codec used for ledger entries, archives, and snapshots.
// Passing nil restores the default codec.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLedger persists the audit ledger to a segment file in the given
// directory. Without this option the ledger lives in memory only.
func WithLedger(path string, optFns ...func(o *ledger.Options)) Option {
	return func(o *options) {
		o.ledgerPath = path
		o.ledgerOptions = optFns
	}
}

// WithThresholds sets the auto-merge and reject thresholds. Scores at or
// above auto merge automatically; scores below reject are dropped; the band
// between them queues for human review.
func WithThresholds(auto, reject float64) Option {
	return func(o *options) {
		o.matcherOptions = append(o.matcherOptions, func(mo *engine.MatcherOptions) {
			mo.AutoThreshold = auto
			mo.RejectThreshold = reject
		})
	}
}

// WithIndexOptions configures the MinHash/LSH blocking index.
func WithIndexOptions(optFns ...func(o *lsh.Options)) Option {
	return func(o *options) {
		o.indexOptions = append(o.indexOptions, optFns...)
	}
}

// WithScorer replaces the built-in feature set with a custom scorer.
func WithScorer(s *scoring.Scorer) Option {
	return func(o *options) {
		o.scorer = s
	}
}

// WithMaxCandidates bounds the candidate pairs considered per ingested
// entity.
func WithMaxCandidates(n int) Option {
	return func(o *options) {
		o.maxCandidates = n
	}
}

// WithNumWorkers sizes the scoring worker pool and batch-ingest parallelism.
func WithNumWorkers(n int) Option {
	return func(o *options) {
		o.numWorkers = n
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = collector
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger at the given level. Ignored when
// WithLogger is also set.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		if o.logger == nil {
			o.logger = NewTextLogger(level)
		}
	}
}

func applyOptions(optFns []Option) *options {
	opts := &options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
	}

	for _, fn := range optFns {
		fn(opts)
	}

	if opts.logger == nil {
		opts.logger = NoopLogger()
	}

	return opts
}
