// actions.go: the follow-up action workers behind the decision pipeline.
package pipeline

import (
	"context"

	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
)

// Start launches the action workers. They exit when ctx is cancelled; Wait
// blocks until all of them have returned.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("decision pipeline started",
		"workers", p.workers,
		"queue_size", cap(p.tasks))
}

// Wait blocks until every action worker has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.tasks:
			p.runActions(ctx, &rec)
			if p.metrics != nil {
				p.metrics.SetQueueDepth(len(p.tasks))
			}
		}
	}
}

// runActions executes the follow-up actions in order. Each action fails on
// its own: a failed persist never blocks actuation, and a failed actuation
// never mutates the already-made decision.
func (p *Pipeline) runActions(ctx context.Context, rec *decision.Record) {
	p.persist(rec)
	p.actuate(ctx, rec)
	p.publish(ctx, rec)
	p.report(rec)
}

func (p *Pipeline) persist(rec *decision.Record) {
	if p.store == nil {
		return
	}
	event := datastore.EventFromRecord(rec)
	if _, err := p.store.SaveDecisionEvent(&event); err != nil {
		p.logger.Error("failed to persist decision record",
			"delivery_id", rec.DeliveryID,
			"error", err)
	}
}

func (p *Pipeline) actuate(ctx context.Context, rec *decision.Record) {
	if rec.Outcome != decision.Granted {
		return
	}
	if p.gate == nil || !p.gate.Enabled() {
		return
	}
	if err := p.gate.Open(ctx, rec.Reason); err != nil {
		p.logger.Error("gate actuation failed",
			"plate", rec.NormalizedPlate,
			"delivery_id", rec.DeliveryID,
			"error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, rec *decision.Record) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishDecision(ctx, rec); err != nil {
		p.logger.Error("failed to publish decision",
			"delivery_id", rec.DeliveryID,
			"error", err)
	}
}

func (p *Pipeline) report(rec *decision.Record) {
	if p.reporter == nil {
		return
	}
	p.reporter.Enqueue(*rec)
}
