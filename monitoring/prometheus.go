package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/mezonai/chaindb/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CommitKind labels the commit latency histogram.
type CommitKind string

const (
	CommitAppend   CommitKind = "append"
	CommitRewind   CommitKind = "rewind"
	CommitFinalize CommitKind = "finalize"
	CommitPurge    CommitKind = "purge"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds prometheus.Gauge
	bestHeight        prometheus.Gauge
	finalizedHeight   prometheus.Gauge
	orphanCount       prometheus.Gauge
	appendedBlocks    prometheus.Counter
	importedBlocks    prometheus.Counter
	exportedBlocks    prometheus.Counter
	revertedBlocks    prometheus.Counter
	prunedBodies      prometheus.Counter
	prunedBytes       prometheus.Counter
	blockSizeBytes    prometheus.Histogram
	commitLatency     *prometheus.HistogramVec
	panicCount        prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaindb_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the process start",
			},
		),
		bestHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaindb_best_height",
				Help: "Number of the best canonical block",
			},
		),
		finalizedHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaindb_finalized_height",
				Help: "Number of the last finalized block",
			},
		),
		orphanCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chaindb_orphan_blocks",
				Help: "Blocks displaced from the canonical chain and not yet purged",
			},
		),
		appendedBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_appended_blocks_total",
				Help: "The total number of blocks appended to the canonical chain",
			},
		),
		importedBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_imported_blocks_total",
				Help: "The total number of blocks appended by the import engine",
			},
		),
		exportedBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_exported_blocks_total",
				Help: "The total number of blocks written by the export engine",
			},
		),
		revertedBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_reverted_blocks_total",
				Help: "The total number of canonical blocks removed by revert",
			},
		),
		prunedBodies: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_pruned_bodies_total",
				Help: "The total number of block bodies discarded by pruning",
			},
		),
		prunedBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_pruned_bytes_total",
				Help: "The total number of body record bytes reclaimed by pruning",
			},
		),
		blockSizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chaindb_block_size_bytes",
				Help:    "The encoded block size in bytes",
				Buckets: prometheus.ExponentialBuckets(128, 4, 10),
			},
		),
		commitLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "chaindb_commit_seconds",
				Help: "Latency of store commits",
			},
			[]string{"kind"},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chaindb_panic_total",
				Help: "The total number of recovered panics",
			},
		),
	}
}

var (
	initOnce    sync.Once
	nodeMetrics *nodePromMetrics
)

// InitMetrics registers the collectors with the default registry. Until it is
// called every helper below is a no-op.
func InitMetrics() {
	initOnce.Do(func() {
		nodeMetrics = newNodePromMetrics()
		nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
	})
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func SetChainHeights(best, finalized uint64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.bestHeight.Set(float64(best))
	nodeMetrics.finalizedHeight.Set(float64(finalized))
}

func SetOrphanCount(n int) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.orphanCount.Set(float64(n))
}

func AddOrphanCount(delta int) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.orphanCount.Add(float64(delta))
}

func IncreaseAppendedBlocks() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.appendedBlocks.Inc()
}

func AddImportedBlocks(n uint64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.importedBlocks.Add(float64(n))
}

func AddExportedBlocks(n uint64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.exportedBlocks.Add(float64(n))
}

func AddRevertedBlocks(n uint64) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.revertedBlocks.Add(float64(n))
}

func RecordPruned(bodies int, bytes uint64) {
	if nodeMetrics == nil || bodies == 0 {
		return
	}
	nodeMetrics.prunedBodies.Add(float64(bodies))
	nodeMetrics.prunedBytes.Add(float64(bytes))
}

func RecordBlockSizeBytes(sizeBytes int) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.blockSizeBytes.Observe(float64(sizeBytes))
}

func RecordCommit(kind CommitKind, duration time.Duration) {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.commitLatency.With(prometheus.Labels{
		"kind": string(kind),
	}).Observe(duration.Seconds())
}

func IncreasePanicCount() {
	if nodeMetrics == nil {
		return
	}
	nodeMetrics.panicCount.Inc()
}
