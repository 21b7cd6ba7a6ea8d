package mqtt

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/decision"
	"github.com/plategate/plategate/internal/edgecache"
	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/pipeline"
	"github.com/plategate/plategate/internal/rules"
)

var _ pipeline.DecisionPublisher = (*Transport)(nil)

type publishedMessage struct {
	topic   string
	payload string
}

// fakeBroker implements Client without a network.
type fakeBroker struct {
	mu          sync.Mutex
	connected   bool
	connectErrs []error
	published   []publishedMessage
	subs        map[string]MessageHandler
}

func (f *fakeBroker) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]MessageHandler)
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeBroker) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

func transportSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Edge.DeviceID = "edge-1"
	settings.Edge.PropertyID = "prop-1"
	settings.Edge.MQTT.Enabled = true
	settings.Edge.MQTT.Broker = "tcp://127.0.0.1:1883"
	settings.Edge.MQTT.TopicPrefix = "plategate"
	return settings
}

// newTransportPipeline builds a pipeline over a temp store with one allow
// rule for ABC-1234 already cached.
func newTransportPipeline(t *testing.T, settings *conf.Settings) *pipeline.Pipeline {
	t.Helper()

	settings.Edge.Cache.Path = filepath.Join(t.TempDir(), "cache.db")
	ds := datastore.NewCacheStore(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() {
		require.NoError(t, ds.Close())
	})

	ruleCache := edgecache.New(ds)
	snapshot := rules.BuildSnapshot("prop-1", 1, time.Now().UTC(), []rules.Rule{
		{ID: 1, PropertyID: "prop-1", Plate: "ABC-1234", Category: rules.CategoryAllow},
	})
	adopted, err := ruleCache.Adopt(snapshot, time.Now())
	require.NoError(t, err)
	require.True(t, adopted)

	return pipeline.New(settings, ruleCache, ds, nil)
}

func TestTransportTopics(t *testing.T) {
	t.Parallel()

	settings := transportSettings()
	settings.Edge.MQTT.TopicPrefix = "site/north/"
	transport := NewTransport(settings, &fakeBroker{}, nil)
	assert.Equal(t, "site/north/detections", transport.DetectionsTopic())
	assert.Equal(t, "site/north/decisions", transport.DecisionsTopic())

	settings.Edge.MQTT.TopicPrefix = ""
	transport = NewTransport(settings, &fakeBroker{}, nil)
	assert.Equal(t, "plategate/detections", transport.DetectionsTopic())
	assert.Equal(t, "plategate/decisions", transport.DecisionsTopic())
}

func TestHandleDetectionFeedsPipeline(t *testing.T) {
	t.Parallel()

	settings := transportSettings()
	pipe := newTransportPipeline(t, settings)
	transport := NewTransport(settings, &fakeBroker{}, pipe)

	payload, err := json.Marshal(pipeline.Detection{
		Plate:      "ABC-1234",
		Confidence: 92,
		DeliveryID: "dlv-1",
	})
	require.NoError(t, err)

	transport.handleDetection(transport.DetectionsTopic(), payload)

	assert.Equal(t, 1, pipe.QueueDepth(), "a decoded detection must reach the pipeline")

	// Redelivery of the same message is absorbed by the pipeline dedup.
	transport.handleDetection(transport.DetectionsTopic(), payload)
	assert.Equal(t, 1, pipe.QueueDepth())
}

func TestHandleDetectionMalformedPayload(t *testing.T) {
	t.Parallel()

	settings := transportSettings()
	pipe := newTransportPipeline(t, settings)
	transport := NewTransport(settings, &fakeBroker{}, pipe)

	transport.handleDetection(transport.DetectionsTopic(), []byte("{not json"))

	assert.Zero(t, pipe.QueueDepth(), "malformed payloads are dropped")
}

func TestPublishDecision(t *testing.T) {
	t.Parallel()

	settings := transportSettings()
	broker := &fakeBroker{connected: true}
	transport := NewTransport(settings, broker, nil)

	rec := &decision.Record{
		DeviceID:        "edge-1",
		DeliveryID:      "dlv-1",
		PropertyID:      "prop-1",
		Plate:           "ABC-1234",
		NormalizedPlate: "ABC1234",
		Confidence:      92,
		Outcome:         decision.Granted,
		Reason:          "matched allow list",
		Source:          decision.SourceWebhook,
		DetectedAt:      time.Now().UTC(),
	}
	require.NoError(t, transport.PublishDecision(context.Background(), rec))

	messages := broker.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "plategate/decisions", messages[0].topic)

	var published decision.Record
	require.NoError(t, json.Unmarshal([]byte(messages[0].payload), &published))
	assert.Equal(t, rec.DeliveryID, published.DeliveryID)
	assert.Equal(t, decision.Granted, published.Outcome)
	assert.Equal(t, "ABC1234", published.NormalizedPlate)
}

func TestStartSubscribesAndConnects(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)

	settings := transportSettings()
	pipe := newTransportPipeline(t, settings)

	// First attempt fails, the loop retries and succeeds.
	broker := &fakeBroker{connectErrs: []error{
		errors.Newf("broker down").Component("mqtt").Category(errors.CategoryMQTTConnection).Build(),
		nil,
	}}
	transport := NewTransport(settings, broker, pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, transport.Start(ctx))

	broker.mu.Lock()
	_, subscribed := broker.subs[transport.DetectionsTopic()]
	broker.mu.Unlock()
	assert.True(t, subscribed, "detections subscription registers before the first connect")

	require.Eventually(t, func() bool {
		return transport.Connected()
	}, 5*time.Second, 50*time.Millisecond)

	transport.Stop()
	assert.False(t, transport.Connected())
}
