//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/kafka"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/adapter/strava"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/config"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/ingress"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/observability"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/pipeline"
	"github.com/couchcryptid/avalanche-forecast-enricher/internal/processor"
)

const (
	clientSecret = "integration-secret"
	athleteID    = int64(134815)
	accessToken  = "integration-token"
)

var format = domain.MarkerFormat{
	PermalinkBase: "https://api.avalanche.org/v2/public/product/",
	Attribution:   "Forecast data from avalanche.org",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func testConfig(broker, suffix string) *config.Config {
	return &config.Config{
		KafkaBrokers:  []string{broker},
		KafkaTopic:    "notifications-" + suffix,
		KafkaDLQTopic: "notifications-dlq-" + suffix,
		KafkaGroupID:  fmt.Sprintf("enricher-%s-%d", suffix, time.Now().UnixNano()),
	}
}

// staticTokens hands out a fixed token for the one connected athlete.
type staticTokens struct{}

func (staticTokens) AccessToken(_ context.Context, id int64) (string, error) {
	if id != athleteID {
		return "", domain.ErrCredentialNotFound
	}
	return accessToken, nil
}

type staticForecaster struct{}

func (staticForecaster) Lookup(context.Context, domain.Coordinate, string) (domain.Forecast, error) {
	return domain.Forecast{
		Status:    domain.ForecastAvailable,
		ZoneName:  "Stevens Pass",
		Summary:   "Considerable (3) above treeline, Moderate (2) near treeline, Low (1) below treeline",
		ProductID: "166378",
	}, nil
}

// fakeStrava serves one backcountry ski activity and applies updates to it.
type fakeStrava struct {
	mu          sync.Mutex
	description string
	updates     []map[string]any
}

func (f *fakeStrava) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /activities/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+accessToken, r.Header.Get("Authorization"))
		f.mu.Lock()
		desc, _ := json.Marshal(f.description)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%s,"athlete":{"id":%d},"name":"Dawn patrol","description":%s,
			"sport_type":"BackcountrySki","start_date":"2025-04-09T14:30:00Z",
			"start_date_local":"2025-04-09T07:30:00Z","start_latlng":[47.7448,-121.089]}`, r.PathValue("id"), athleteID, desc)
	})
	mux.HandleFunc("PUT /activities/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.updates = append(f.updates, body)
		if d, ok := body["description"].(string); ok {
			f.description = d
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func (f *fakeStrava) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func signedNotification(t *testing.T, owner int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(domain.WebhookNotification{
		ObjectType: domain.ObjectTypeActivity,
		ObjectID:   1360128428,
		AspectType: domain.AspectTypeCreate,
		OwnerID:    owner,
		EventTime:  1744209000,
	})
	require.NoError(t, err)
	return body, ingress.SignatureHeader([]byte(clientSecret), body)
}

type harness struct {
	cfg     *config.Config
	gate    *ingress.Gatekeeper
	strava  *fakeStrava
	metrics *observability.Metrics
}

func setup(ctx context.Context, t *testing.T, broker, suffix string) *harness {
	t.Helper()
	cfg := testConfig(broker, suffix)
	createTopic(t, broker, cfg.KafkaTopic)
	createTopic(t, broker, cfg.KafkaDLQTopic)

	metrics := observability.NewMetricsForTesting()
	writer := kafkaadapter.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	reader := kafkaadapter.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	gate, err := ingress.NewGatekeeper(clientSecret, "verify", writer, metrics, discardLogger())
	require.NoError(t, err)

	fs := &fakeStrava{description: "Great day."}
	api := httptest.NewServer(fs.handler(t))
	t.Cleanup(api.Close)

	proc := processor.New(staticTokens{}, strava.NewClient(api.URL, 5*time.Second, discardLogger()),
		staticForecaster{}, "#avy", format, metrics, discardLogger())
	p := pipeline.New(reader, proc, writer, discardLogger(), metrics, pipeline.Options{
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{cfg: cfg, gate: gate, strava: fs, metrics: metrics}
}

// TestWebhookToEnrichment verifies a signed notification travels through
// Kafka to the processor and produces exactly one activity update.
func TestWebhookToEnrichment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	h := setup(ctx, t, broker, "e2e")

	body, sig := signedNotification(t, athleteID)
	disp, err := h.gate.AcceptNotification(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, ingress.Queued, disp)

	require.Eventually(t, func() bool { return h.strava.count() == 1 }, 60*time.Second, 200*time.Millisecond)

	h.strava.mu.Lock()
	desc, _ := h.strava.updates[0]["description"].(string)
	_, hasName := h.strava.updates[0]["name"]
	h.strava.mu.Unlock()
	assert.True(t, strings.HasPrefix(desc, "Great day.\n\nAvalanche forecast for Stevens Pass on 2025-04-09: "))
	assert.Contains(t, desc, "\nhttps://api.avalanche.org/v2/public/product/166378\n")
	assert.False(t, hasName, "automatic enrichment must not touch the title")

	// The same notification again finds the forecast block and is skipped.
	_, err = h.gate.AcceptNotification(ctx, body, sig)
	require.NoError(t, err)
	skipped := h.metrics.NotificationsProcessed.WithLabelValues(string(domain.BranchSkip))
	require.Eventually(t, func() bool { return testutil.ToFloat64(skipped) == 1 }, 60*time.Second, 200*time.Millisecond)
	assert.Equal(t, 1, h.strava.count())
}

// TestUnknownAthleteIsDeadLettered verifies terminal failures land on the
// dead-letter topic with their reason.
func TestUnknownAthleteIsDeadLettered(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	h := setup(ctx, t, broker, "dlq")

	body, sig := signedNotification(t, 999)
	_, err := h.gate.AcceptNotification(ctx, body, sig)
	require.NoError(t, err)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     h.cfg.KafkaBrokers,
		Topic:       h.cfg.KafkaDLQTopic,
		GroupID:     fmt.Sprintf("dlq-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 60*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from dead-letter topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, hdr := range msg.Headers {
		headers[hdr.Key] = string(hdr.Value)
	}
	assert.JSONEq(t, string(body), string(msg.Value))
	assert.Equal(t, "1360128428", string(msg.Key))
	assert.Contains(t, headers[kafkaadapter.HeaderDLQReason], "credential_not_found")
	assert.Equal(t, "1", headers[kafkaadapter.HeaderDLQAttempts])
	assert.Equal(t, h.cfg.KafkaTopic, headers[kafkaadapter.HeaderDLQSourceTopic])
	assert.NotEmpty(t, headers[kafkaadapter.HeaderNotificationID])
	assert.Zero(t, h.strava.count())
}
