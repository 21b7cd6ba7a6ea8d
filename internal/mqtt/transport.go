// transport.go: wires the broker to the decision pipeline.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/pipeline"
)

const defaultTopicPrefix = "plategate"

// Transport owns the broker side of the edge agent: detections arriving on
// <prefix>/detections feed the pipeline, and it implements the pipeline's
// DecisionPublisher on <prefix>/decisions.
type Transport struct {
	client   Client
	pipeline *pipeline.Pipeline
	prefix   string
}

// NewTransport creates a transport over an existing client.
func NewTransport(settings *conf.Settings, client Client, pipe *pipeline.Pipeline) *Transport {
	prefix := strings.Trim(settings.Edge.MQTT.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return &Transport{
		client:   client,
		pipeline: pipe,
		prefix:   prefix,
	}
}

// DetectionsTopic returns the topic detections are consumed from.
func (t *Transport) DetectionsTopic() string {
	return t.prefix + "/detections"
}

// DecisionsTopic returns the topic decisions are published to.
func (t *Transport) DecisionsTopic() string {
	return t.prefix + "/decisions"
}

// Start registers the detections subscription and connects in the background,
// retrying with an exponential backoff until the broker accepts or ctx is
// cancelled. The edge agent keeps deciding from the webhook path while the
// broker is away.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.client.Subscribe(t.DetectionsTopic(), t.handleDetection); err != nil {
		return err
	}
	go t.connectLoop(ctx)
	return nil
}

// Stop disconnects from the broker.
func (t *Transport) Stop() {
	t.client.Disconnect()
}

// Connected reports whether the broker link is up.
func (t *Transport) Connected() bool {
	return t.client.IsConnected()
}

func (t *Transport) connectLoop(ctx context.Context) {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		err := t.client.Connect(ctx)
		if err == nil {
			return
		}
		getLogger().Warn("initial MQTT connection failed",
			"retry_in", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// handleDetection feeds one detection message into the pipeline. Malformed
// payloads are logged and dropped; the broker is not a validating boundary.
func (t *Transport) handleDetection(topic string, payload []byte) {
	var det pipeline.Detection
	if err := json.Unmarshal(payload, &det); err != nil {
		getLogger().Warn("discarding malformed detection payload",
			"topic", topic,
			"bytes", len(payload),
			"error", err)
		return
	}

	rec, duplicate := t.pipeline.Process(&det, decision.SourceMQTT)
	if duplicate {
		return
	}
	getLogger().Debug("detection decided",
		"topic", topic,
		"plate", rec.NormalizedPlate,
		"outcome", rec.Outcome)
}

// PublishDecision implements pipeline.DecisionPublisher: the full decision
// record goes out as JSON on the decisions topic.
func (t *Transport) PublishDecision(ctx context.Context, rec *decision.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("delivery_id", rec.DeliveryID).
			Build()
	}
	return t.client.Publish(ctx, t.DecisionsTopic(), string(payload))
}
