// Package pipeline turns accepted plate detections into decision records and
// fans each record out to its follow-up actions: local persistence, gate
// actuation, MQTT publication and cloud reporting. Evaluation is synchronous
// so transports can answer with the decision; the actions run on a bounded
// worker pool and their failures never reach the detection caller.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/edgecache"
	"github.com/plategate/plategate/internal/gate"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/observability/metrics"
)

// Fallbacks for unset pipeline settings, matching the shipped defaults.
const (
	defaultDedupTTL  = 5 * time.Minute
	defaultWorkers   = 2
	defaultQueueSize = 256
)

// Detection is one plate read arriving from a camera, through the local
// webhook or over MQTT. Both transports share this wire shape.
type Detection struct {
	DeviceID   string    `json:"device_id,omitempty"`
	Plate      string    `json:"plate"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	CaptureID  string    `json:"capture_id,omitempty"`
}

// DecisionPublisher pushes decision summaries to subscribers, typically over
// MQTT. A nil publisher disables publication.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, rec *decision.Record) error
}

// Reporter queues decision records for delivery to the cloud. A nil reporter
// disables reporting.
type Reporter interface {
	Enqueue(rec decision.Record)
}

// Pipeline evaluates detections against the cached rule snapshot. Repeated
// deliveries of the same detection return the original record and trigger no
// further actions.
type Pipeline struct {
	settings *conf.Settings
	cache    *edgecache.Cache
	store    datastore.Interface
	gate     gate.Controller

	publisher DecisionPublisher
	reporter  Reporter
	metrics   *metrics.DecisionMetrics

	dedup *cache.Cache
	tasks chan decision.Record
	wg    sync.WaitGroup

	workers int
	cfg     decision.Config
	logger  *slog.Logger
}

// New creates a pipeline reading rules from ruleCache and writing decision
// events to store. The gate controller and store may be nil; the matching
// actions are then skipped.
func New(settings *conf.Settings, ruleCache *edgecache.Cache, store datastore.Interface, gateCtl gate.Controller) *Pipeline {
	pc := &settings.Edge.Pipeline

	ttl := time.Duration(pc.DedupTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	workers := pc.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := pc.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Pipeline{
		settings: settings,
		cache:    ruleCache,
		store:    store,
		gate:     gateCtl,
		dedup:    cache.New(ttl, 2*ttl),
		tasks:    make(chan decision.Record, queueSize),
		workers:  workers,
		cfg: decision.Config{
			ConfidenceThreshold: settings.Decision.ConfidenceThreshold,
			StalenessCeiling:    time.Duration(settings.Edge.Cache.StalenessHours) * time.Hour,
		},
		logger: getLogger(),
	}
}

// Package-level logger for decision events. Decisions are the audit trail,
// so a failed file open falls back to the console instead of discarding.
var (
	pipelineLogger  *slog.Logger
	pipelineLogOnce sync.Once
)

const defaultLogPath = "logs/pipeline.log"

func getLogger() *slog.Logger {
	pipelineLogOnce.Do(func() {
		logger, _, err := logging.NewFileLogger(defaultLogPath, "pipeline", slog.LevelInfo)
		if err != nil {
			logging.Error("Failed to initialize pipeline file logger", "error", err)
			pipelineLogger = logging.ForService("pipeline")
			return
		}
		pipelineLogger = logger
	})
	return pipelineLogger
}

// SetMetrics attaches decision metrics. Must be called before Start.
func (p *Pipeline) SetMetrics(m *metrics.DecisionMetrics) {
	p.metrics = m
}

// SetPublisher attaches the decision publisher. Must be called before Start.
func (p *Pipeline) SetPublisher(pub DecisionPublisher) {
	p.publisher = pub
}

// SetReporter attaches the cloud report queue. Must be called before Start.
func (p *Pipeline) SetReporter(r Reporter) {
	p.reporter = r
}

// Process evaluates one detection and schedules its follow-up actions. The
// returned bool reports whether the detection was a duplicate delivery;
// duplicates return the originally produced record unchanged.
func (p *Pipeline) Process(det *Detection, source string) (decision.Record, bool) {
	start := time.Now()

	if det.DeviceID == "" {
		det.DeviceID = p.settings.Edge.DeviceID
	}
	if det.DeliveryID == "" {
		// Without an upstream delivery id, dedup only guards replays of the
		// generated one.
		det.DeliveryID = uuid.New().String()
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = time.Now().UTC()
	}

	key := det.DeviceID + ":" + det.DeliveryID
	if prior, found := p.dedup.Get(key); found {
		if p.metrics != nil {
			p.metrics.IncrementDuplicateDetections()
		}
		p.logger.Debug("duplicate delivery dropped",
			"device_id", det.DeviceID,
			"delivery_id", det.DeliveryID)
		return prior.(decision.Record), true
	}

	res := decision.Evaluate(p.cache.Current(), decision.Input{
		Plate:         det.Plate,
		Confidence:    det.Confidence,
		Timestamp:     det.Timestamp,
		CacheSyncedAt: p.cache.SyncedAt(),
	}, p.cfg)

	rec := decision.Record{
		DeviceID:         det.DeviceID,
		DeliveryID:       det.DeliveryID,
		PropertyID:       p.settings.Edge.PropertyID,
		Plate:            det.Plate,
		NormalizedPlate:  res.NormalizedPlate,
		Confidence:       det.Confidence,
		Outcome:          res.Outcome,
		Reason:           res.Reason,
		MatchedRuleID:    res.MatchedRuleID,
		MatchedCategory:  string(res.MatchedCategory),
		SnapshotVersion:  res.SnapshotVersion,
		Stale:            res.Stale,
		Source:           source,
		DetectedAt:       det.Timestamp,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	p.dedup.SetDefault(key, rec)

	p.observe(&rec, time.Since(start))
	p.logger.Info("decision",
		"plate", rec.NormalizedPlate,
		"outcome", rec.Outcome,
		"reason", rec.Reason,
		"source", source,
		"delivery_id", rec.DeliveryID)

	p.schedule(rec)
	return rec, false
}

// ManualOpen records an operator-initiated unlock as a granted decision and
// schedules the usual actions, gate actuation included. The note is logged
// but the audited reason is always the manual-open reason.
func (p *Pipeline) ManualOpen(note string) decision.Record {
	rec := decision.Record{
		DeviceID:   p.settings.Edge.DeviceID,
		DeliveryID: uuid.New().String(),
		PropertyID: p.settings.Edge.PropertyID,
		Outcome:    decision.Granted,
		Reason:     decision.ReasonManualOpen,
		Source:     decision.SourceManual,
		DetectedAt: time.Now().UTC(),
	}

	if p.metrics != nil {
		p.metrics.RecordDecision(string(rec.Outcome), rec.Source)
	}
	p.logger.Info("manual open requested",
		"note", note,
		"delivery_id", rec.DeliveryID)

	p.schedule(rec)
	return rec
}

// Check evaluates a plate against the cached snapshot without recording or
// actuating anything.
func (p *Pipeline) Check(plate string, confidence float64) decision.Result {
	return decision.Evaluate(p.cache.Current(), decision.Input{
		Plate:         plate,
		Confidence:    confidence,
		Timestamp:     time.Now().UTC(),
		CacheSyncedAt: p.cache.SyncedAt(),
	}, p.cfg)
}

// QueueDepth returns the number of records waiting for their follow-up
// actions.
func (p *Pipeline) QueueDepth() int {
	return len(p.tasks)
}

func (p *Pipeline) observe(rec *decision.Record, took time.Duration) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordDecision(string(rec.Outcome), rec.Source)
	p.metrics.ObserveDecisionDuration(took)
	if rec.Stale {
		p.metrics.IncrementStaleDecisions()
	}
}

// schedule hands the record to the action workers without blocking the
// detection path. When the queue is full the follow-up actions are dropped
// and counted; the decision itself has already been made and returned.
func (p *Pipeline) schedule(rec decision.Record) {
	select {
	case p.tasks <- rec:
		if p.metrics != nil {
			p.metrics.SetQueueDepth(len(p.tasks))
		}
	default:
		if p.metrics != nil {
			p.metrics.IncrementDroppedActions()
		}
		p.logger.Warn("action queue full, dropping follow-up actions",
			"delivery_id", rec.DeliveryID,
			"queue_size", cap(p.tasks))
	}
}
