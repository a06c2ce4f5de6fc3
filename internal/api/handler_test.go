package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fastpubsub/fastpubsub/internal/auth"
	"github.com/fastpubsub/fastpubsub/internal/broker"
	"github.com/fastpubsub/fastpubsub/internal/metrics"
)

// fakeEngine implements TopicService, SubscriptionService, and HealthService
// with overridable functions. Unset functions fail the test when called.
type fakeEngine struct {
	t *testing.T

	createTopic func(ctx context.Context, id string) (*broker.Topic, error)
	getTopic    func(ctx context.Context, id string) (*broker.Topic, error)
	listTopics  func(ctx context.Context, offset, limit int) ([]broker.Topic, error)
	deleteTopic func(ctx context.Context, id string) error
	publish     func(ctx context.Context, topicID string, payloads []map[string]any) (int64, error)

	createSubscription func(ctx context.Context, params broker.CreateSubscriptionParams) (*broker.Subscription, error)
	getSubscription    func(ctx context.Context, id string) (*broker.Subscription, error)
	listSubscriptions  func(ctx context.Context, offset, limit int) ([]broker.Subscription, error)
	deleteSubscription func(ctx context.Context, id string) error
	consume            func(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]broker.Message, error)
	ack                func(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error)
	nack               func(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error)
	listDLQ            func(ctx context.Context, subscriptionID string, offset, limit int) ([]broker.Message, error)
	reprocessDLQ       func(ctx context.Context, subscriptionID string, messageIDs []string) (int64, error)
	metrics            func(ctx context.Context, subscriptionID string) (*broker.SubscriptionMetrics, error)

	ping func(ctx context.Context) error
}

func (f *fakeEngine) fail(name string) {
	f.t.Helper()
	f.t.Fatalf("unexpected call to %s", name)
}

func (f *fakeEngine) CreateTopic(ctx context.Context, id string) (*broker.Topic, error) {
	if f.createTopic == nil {
		f.fail("CreateTopic")
	}
	return f.createTopic(ctx, id)
}

func (f *fakeEngine) GetTopic(ctx context.Context, id string) (*broker.Topic, error) {
	if f.getTopic == nil {
		f.fail("GetTopic")
	}
	return f.getTopic(ctx, id)
}

func (f *fakeEngine) ListTopics(ctx context.Context, offset, limit int) ([]broker.Topic, error) {
	if f.listTopics == nil {
		f.fail("ListTopics")
	}
	return f.listTopics(ctx, offset, limit)
}

func (f *fakeEngine) DeleteTopic(ctx context.Context, id string) error {
	if f.deleteTopic == nil {
		f.fail("DeleteTopic")
	}
	return f.deleteTopic(ctx, id)
}

func (f *fakeEngine) Publish(ctx context.Context, topicID string, payloads []map[string]any) (int64, error) {
	if f.publish == nil {
		f.fail("Publish")
	}
	return f.publish(ctx, topicID, payloads)
}

func (f *fakeEngine) CreateSubscription(ctx context.Context, params broker.CreateSubscriptionParams) (*broker.Subscription, error) {
	if f.createSubscription == nil {
		f.fail("CreateSubscription")
	}
	return f.createSubscription(ctx, params)
}

func (f *fakeEngine) GetSubscription(ctx context.Context, id string) (*broker.Subscription, error) {
	if f.getSubscription == nil {
		f.fail("GetSubscription")
	}
	return f.getSubscription(ctx, id)
}

func (f *fakeEngine) ListSubscriptions(ctx context.Context, offset, limit int) ([]broker.Subscription, error) {
	if f.listSubscriptions == nil {
		f.fail("ListSubscriptions")
	}
	return f.listSubscriptions(ctx, offset, limit)
}

func (f *fakeEngine) DeleteSubscription(ctx context.Context, id string) error {
	if f.deleteSubscription == nil {
		f.fail("DeleteSubscription")
	}
	return f.deleteSubscription(ctx, id)
}

func (f *fakeEngine) Consume(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]broker.Message, error) {
	if f.consume == nil {
		f.fail("Consume")
	}
	return f.consume(ctx, subscriptionID, consumerID, batchSize)
}

func (f *fakeEngine) Ack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error) {
	if f.ack == nil {
		f.fail("Ack")
	}
	return f.ack(ctx, subscriptionID, consumerID, messageIDs)
}

func (f *fakeEngine) Nack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error) {
	if f.nack == nil {
		f.fail("Nack")
	}
	return f.nack(ctx, subscriptionID, consumerID, messageIDs)
}

func (f *fakeEngine) ListDLQ(ctx context.Context, subscriptionID string, offset, limit int) ([]broker.Message, error) {
	if f.listDLQ == nil {
		f.fail("ListDLQ")
	}
	return f.listDLQ(ctx, subscriptionID, offset, limit)
}

func (f *fakeEngine) ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) (int64, error) {
	if f.reprocessDLQ == nil {
		f.fail("ReprocessDLQ")
	}
	return f.reprocessDLQ(ctx, subscriptionID, messageIDs)
}

func (f *fakeEngine) Metrics(ctx context.Context, subscriptionID string) (*broker.SubscriptionMetrics, error) {
	if f.metrics == nil {
		f.fail("Metrics")
	}
	return f.metrics(ctx, subscriptionID)
}

func (f *fakeEngine) Ping(ctx context.Context) error {
	if f.ping == nil {
		f.fail("Ping")
	}
	return f.ping(ctx)
}

func newTestServer(t *testing.T, engine *fakeEngine) *Server {
	t.Helper()
	engine.t = t
	return NewServer("127.0.0.1", 0, Deps{
		Topics:        engine,
		Subscriptions: engine,
		Health:        engine,
		Metrics:       metrics.New(),
	})
}

func doRequest(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v (body %q)", err, rec.Body.String())
	}
	return body.Error
}

// --- probes ---

func TestLiveness(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	rec := doRequest(t, srv, http.MethodGet, "/liveness", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{ping: func(context.Context) error { return nil }})
		rec := doRequest(t, srv, http.MethodGet, "/readiness", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", rec.Code)
		}
	})
	t.Run("database down", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{ping: func(context.Context) error { return errors.New("down") }})
		rec := doRequest(t, srv, http.MethodGet, "/readiness", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status: got %d, want 503", rec.Code)
		}
		if detail := decodeError(t, rec); detail.Code != "UNAVAILABLE" {
			t.Errorf("code: got %q, want UNAVAILABLE", detail.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	rec := doRequest(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fastpubsub_messages_published_total") {
		t.Error("scrape output missing broker counters")
	}
}

// --- topics ---

func TestCreateTopic(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			createTopic: func(_ context.Context, id string) (*broker.Topic, error) {
				if id != "orders" {
					t.Errorf("id: got %q, want orders", id)
				}
				return &broker.Topic{ID: id, CreatedAt: time.Now().UTC()}, nil
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/topics", `{"id":"orders"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
	})
	t.Run("duplicate", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			createTopic: func(context.Context, string) (*broker.Topic, error) {
				return nil, broker.AlreadyExists("This topic already exists")
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/topics", `{"id":"orders"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status: got %d, want 409", rec.Code)
		}
		if detail := decodeError(t, rec); detail.Code != "ALREADY_EXISTS" {
			t.Errorf("code: got %q", detail.Code)
		}
	})
	t.Run("invalid id", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			createTopic: func(_ context.Context, id string) (*broker.Topic, error) {
				return nil, broker.InvalidArgument("topic_id may only contain letters, digits, and '-', '.', '_'")
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/topics", `{"id":"bad topic"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
	t.Run("unknown field rejected", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{})
		rec := doRequest(t, srv, http.MethodPost, "/topics", `{"id":"orders","bogus":1}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
}

func TestGetTopic_NotFound(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{
		getTopic: func(context.Context, string) (*broker.Topic, error) {
			return nil, broker.NotFound("Topic not found")
		},
	})
	rec := doRequest(t, srv, http.MethodGet, "/topics/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "NOT_FOUND" {
		t.Errorf("code: got %q", detail.Code)
	}
}

func TestListTopics(t *testing.T) {
	t.Run("envelope and defaults", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			listTopics: func(_ context.Context, offset, limit int) ([]broker.Topic, error) {
				if offset != 0 || limit != 10 {
					t.Errorf("pagination: got %d/%d, want 0/10", offset, limit)
				}
				return []broker.Topic{{ID: "a"}, {ID: "b"}}, nil
			},
		})
		rec := doRequest(t, srv, http.MethodGet, "/topics", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", rec.Code)
		}
		var body DataResponse[broker.Topic]
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(body.Data) != 2 {
			t.Errorf("data: got %d items, want 2", len(body.Data))
		}
	})
	t.Run("explicit pagination", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			listTopics: func(_ context.Context, offset, limit int) ([]broker.Topic, error) {
				if offset != 20 || limit != 50 {
					t.Errorf("pagination: got %d/%d, want 20/50", offset, limit)
				}
				return nil, nil
			},
		})
		rec := doRequest(t, srv, http.MethodGet, "/topics?offset=20&limit=50", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"data":[]`) {
			t.Errorf("empty list must serialize as []: %s", rec.Body.String())
		}
	})
	t.Run("limit out of range", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{})
		for _, q := range []string{"limit=0", "limit=101", "limit=x", "offset=-1"} {
			rec := doRequest(t, srv, http.MethodGet, "/topics?"+q, "")
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("%s: status got %d, want 422", q, rec.Code)
			}
		}
	})
}

func TestDeleteTopic(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{
		deleteTopic: func(_ context.Context, id string) error {
			if id != "orders" {
				t.Errorf("id: got %q", id)
			}
			return nil
		},
	})
	rec := doRequest(t, srv, http.MethodDelete, "/topics/orders", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rec.Code)
	}
}

func TestPublish(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			publish: func(_ context.Context, topicID string, payloads []map[string]any) (int64, error) {
				if topicID != "orders" {
					t.Errorf("topic: got %q", topicID)
				}
				if len(payloads) != 2 {
					t.Errorf("payloads: got %d, want 2", len(payloads))
				}
				return 4, nil
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/topics/orders/messages", `[{"a":1},{"a":2}]`)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status: got %d, want 204 (body %s)", rec.Code, rec.Body.String())
		}
	})
	t.Run("topic missing", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			publish: func(context.Context, string, []map[string]any) (int64, error) {
				return 0, broker.NotFound("Topic not found")
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/topics/missing/messages", `[{"a":1}]`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status: got %d, want 404", rec.Code)
		}
	})
	t.Run("non-array body", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{})
		rec := doRequest(t, srv, http.MethodPost, "/topics/orders/messages", `{"a":1}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
	t.Run("empty batch", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			publish: func(context.Context, string, []map[string]any) (int64, error) {
				return 0, broker.InvalidArgument("payload batch must not be empty")
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/topics/orders/messages", `[]`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
}

// --- subscriptions ---

func TestCreateSubscription(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{
		createSubscription: func(_ context.Context, params broker.CreateSubscriptionParams) (*broker.Subscription, error) {
			if params.ID != "orders-sub" || params.TopicID != "orders" {
				t.Errorf("params: got %s/%s", params.ID, params.TopicID)
			}
			if params.MaxDeliveryAttempts == nil || *params.MaxDeliveryAttempts != 3 {
				t.Errorf("max attempts not carried: %v", params.MaxDeliveryAttempts)
			}
			if params.BackoffMinSeconds != nil {
				t.Errorf("backoff min should stay nil when omitted")
			}
			return &broker.Subscription{ID: params.ID, TopicID: params.TopicID}, nil
		},
	})
	body := `{"id":"orders-sub","topic_id":"orders","filter":{"country":["BR"]},"max_delivery_attempts":3}`
	rec := doRequest(t, srv, http.MethodPost, "/subscriptions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestConsume(t *testing.T) {
	t.Run("leases batch", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			consume: func(_ context.Context, subscriptionID, consumerID string, batchSize int) ([]broker.Message, error) {
				if subscriptionID != "orders-sub" || consumerID != "worker-1" || batchSize != 25 {
					t.Errorf("args: got %s/%s/%d", subscriptionID, consumerID, batchSize)
				}
				return []broker.Message{{ID: uuid.NewString(), SubscriptionID: subscriptionID, Payload: []byte(`{"a":1}`), DeliveryAttempts: 1}}, nil
			},
		})
		rec := doRequest(t, srv, http.MethodGet, "/subscriptions/orders-sub/messages?consumer_id=worker-1&batch_size=25", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
		var body DataResponse[broker.Message]
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(body.Data) != 1 {
			t.Errorf("data: got %d messages, want 1", len(body.Data))
		}
	})
	t.Run("defaults batch size", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			consume: func(_ context.Context, _, _ string, batchSize int) ([]broker.Message, error) {
				if batchSize != defaultConsumeBatchSize {
					t.Errorf("batch size: got %d, want %d", batchSize, defaultConsumeBatchSize)
				}
				return nil, nil
			},
		})
		rec := doRequest(t, srv, http.MethodGet, "/subscriptions/orders-sub/messages?consumer_id=worker-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", rec.Code)
		}
	})
	t.Run("missing consumer_id", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{})
		rec := doRequest(t, srv, http.MethodGet, "/subscriptions/orders-sub/messages", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
	t.Run("batch size out of range", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			consume: func(_ context.Context, _, _ string, batchSize int) ([]broker.Message, error) {
				return nil, broker.InvalidArgument("batch_size must be between 1 and 100")
			},
		})
		rec := doRequest(t, srv, http.MethodGet, "/subscriptions/orders-sub/messages?consumer_id=w&batch_size=500", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
}

func TestAck(t *testing.T) {
	id := uuid.NewString()
	t.Run("no content", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			ack: func(_ context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error) {
				if consumerID != "worker-1" {
					t.Errorf("consumer: got %q", consumerID)
				}
				if len(messageIDs) != 1 || messageIDs[0] != id {
					t.Errorf("ids: got %v", messageIDs)
				}
				return 1, nil
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/subscriptions/orders-sub/acks?consumer_id=worker-1", `["`+id+`"]`)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status: got %d, want 204 (body %s)", rec.Code, rec.Body.String())
		}
	})
	t.Run("invalid uuid", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{})
		rec := doRequest(t, srv, http.MethodPost, "/subscriptions/orders-sub/acks?consumer_id=worker-1", `["not-a-uuid"]`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
	t.Run("missing consumer_id", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{})
		rec := doRequest(t, srv, http.MethodPost, "/subscriptions/orders-sub/acks", `["`+id+`"]`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
}

func TestNack(t *testing.T) {
	id := uuid.NewString()
	srv := newTestServer(t, &fakeEngine{
		nack: func(_ context.Context, _, _ string, messageIDs []string) (int64, error) {
			return int64(len(messageIDs)), nil
		},
	})
	rec := doRequest(t, srv, http.MethodPost, "/subscriptions/orders-sub/nacks?consumer_id=worker-1", `["`+id+`"]`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rec.Code)
	}
}

func TestReprocessDLQ(t *testing.T) {
	t.Run("whole dlq without body", func(t *testing.T) {
		srv := newTestServer(t, &fakeEngine{
			reprocessDLQ: func(_ context.Context, subscriptionID string, messageIDs []string) (int64, error) {
				if len(messageIDs) != 0 {
					t.Errorf("ids: got %v, want none", messageIDs)
				}
				return 7, nil
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/subscriptions/orders-sub/dlq/reprocess", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status: got %d, want 204", rec.Code)
		}
	})
	t.Run("selected ids", func(t *testing.T) {
		id := uuid.NewString()
		srv := newTestServer(t, &fakeEngine{
			reprocessDLQ: func(_ context.Context, _ string, messageIDs []string) (int64, error) {
				if len(messageIDs) != 1 || messageIDs[0] != id {
					t.Errorf("ids: got %v", messageIDs)
				}
				return 1, nil
			},
		})
		rec := doRequest(t, srv, http.MethodPost, "/subscriptions/orders-sub/dlq/reprocess", `["`+id+`"]`)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status: got %d, want 204", rec.Code)
		}
	})
}

func TestSubscriptionMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{
		metrics: func(_ context.Context, subscriptionID string) (*broker.SubscriptionMetrics, error) {
			return &broker.SubscriptionMetrics{SubscriptionID: subscriptionID, Available: 3, DLQ: 1}, nil
		},
	})
	rec := doRequest(t, srv, http.MethodGet, "/subscriptions/orders-sub/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body broker.SubscriptionMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Available != 3 || body.DLQ != 1 {
		t.Errorf("counts: got %+v", body)
	}
}

func TestClientRoutesAbsentWithoutAuth(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	rec := doRequest(t, srv, http.MethodPost, "/oauth/token", "client_id=x&client_secret=y")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodGet, "/clients", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

// fakeClientService implements ClientService and TokenValidator.
type fakeClientService struct {
	t *testing.T

	createClient  func(ctx context.Context, name, scopes string, isActive bool) (*auth.CreateClientResult, error)
	getClient     func(ctx context.Context, id uuid.UUID) (*auth.Client, error)
	listClients   func(ctx context.Context, offset, limit int) ([]auth.Client, error)
	updateClient  func(ctx context.Context, id uuid.UUID, name, scopes string, isActive bool) (*auth.Client, error)
	deleteClient  func(ctx context.Context, id uuid.UUID) error
	issueToken    func(ctx context.Context, clientID uuid.UUID, clientSecret string) (*auth.Token, error)
	validateToken func(ctx context.Context, tokenString string) (*auth.Principal, error)
}

func (f *fakeClientService) fail(name string) {
	f.t.Helper()
	f.t.Fatalf("unexpected call to %s", name)
}

func (f *fakeClientService) CreateClient(ctx context.Context, name, scopes string, isActive bool) (*auth.CreateClientResult, error) {
	if f.createClient == nil {
		f.fail("CreateClient")
	}
	return f.createClient(ctx, name, scopes, isActive)
}

func (f *fakeClientService) GetClient(ctx context.Context, id uuid.UUID) (*auth.Client, error) {
	if f.getClient == nil {
		f.fail("GetClient")
	}
	return f.getClient(ctx, id)
}

func (f *fakeClientService) ListClients(ctx context.Context, offset, limit int) ([]auth.Client, error) {
	if f.listClients == nil {
		f.fail("ListClients")
	}
	return f.listClients(ctx, offset, limit)
}

func (f *fakeClientService) UpdateClient(ctx context.Context, id uuid.UUID, name, scopes string, isActive bool) (*auth.Client, error) {
	if f.updateClient == nil {
		f.fail("UpdateClient")
	}
	return f.updateClient(ctx, id, name, scopes, isActive)
}

func (f *fakeClientService) DeleteClient(ctx context.Context, id uuid.UUID) error {
	if f.deleteClient == nil {
		f.fail("DeleteClient")
	}
	return f.deleteClient(ctx, id)
}

func (f *fakeClientService) IssueToken(ctx context.Context, clientID uuid.UUID, clientSecret string) (*auth.Token, error) {
	if f.issueToken == nil {
		f.fail("IssueToken")
	}
	return f.issueToken(ctx, clientID, clientSecret)
}

func (f *fakeClientService) ValidateToken(ctx context.Context, tokenString string) (*auth.Principal, error) {
	if f.validateToken == nil {
		f.fail("ValidateToken")
	}
	return f.validateToken(ctx, tokenString)
}

func newAuthedTestServer(t *testing.T, engine *fakeEngine, clients *fakeClientService) *Server {
	t.Helper()
	engine.t = t
	clients.t = t
	return NewServer("127.0.0.1", 0, Deps{
		Topics:        engine,
		Subscriptions: engine,
		Health:        engine,
		Clients:       clients,
		Tokens:        clients,
		Metrics:       metrics.New(),
		AuthEnabled:   true,
	})
}

func authedRequest(t *testing.T, srv *Server, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuth_MissingToken(t *testing.T) {
	srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{})
	rec := doRequest(t, srv, http.MethodGet, "/topics", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "UNAUTHENTICATED" {
		t.Errorf("code: got %q", detail.Code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
		validateToken: func(context.Context, string) (*auth.Principal, error) {
			return nil, broker.Unauthenticated("Invalid access token")
		},
	})
	rec := authedRequest(t, srv, http.MethodGet, "/topics", "garbage", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestAuth_InsufficientScope(t *testing.T) {
	srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
		validateToken: func(context.Context, string) (*auth.Principal, error) {
			return &auth.Principal{ClientID: uuid.New(), Scopes: auth.ParseScopes("topics:read")}, nil
		},
	})
	rec := authedRequest(t, srv, http.MethodDelete, "/topics/orders", "tok", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != "PERMISSION_DENIED" {
		t.Errorf("code: got %q", detail.Code)
	}
}

func TestAuth_ObjectScopedGrant(t *testing.T) {
	clients := &fakeClientService{
		validateToken: func(context.Context, string) (*auth.Principal, error) {
			return &auth.Principal{ClientID: uuid.New(), Scopes: auth.ParseScopes("subscriptions:consume:orders-sub")}, nil
		},
	}
	engine := &fakeEngine{
		consume: func(context.Context, string, string, int) ([]broker.Message, error) { return nil, nil },
	}
	srv := newAuthedTestServer(t, engine, clients)

	rec := authedRequest(t, srv, http.MethodGet, "/subscriptions/orders-sub/messages?consumer_id=w", "tok", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("granted object: status got %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, srv, http.MethodGet, "/subscriptions/other-sub/messages?consumer_id=w", "tok", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("other object: status got %d, want 403", rec.Code)
	}
}

func TestAuth_WildcardGrant(t *testing.T) {
	clients := &fakeClientService{
		validateToken: func(context.Context, string) (*auth.Principal, error) {
			return &auth.Principal{ClientID: uuid.New(), Scopes: auth.ParseScopes("*")}, nil
		},
	}
	engine := &fakeEngine{
		deleteTopic: func(context.Context, string) error { return nil },
	}
	srv := newAuthedTestServer(t, engine, clients)
	rec := authedRequest(t, srv, http.MethodDelete, "/topics/orders", "tok", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", rec.Code)
	}
}

func TestAuth_ProbesStayOpen(t *testing.T) {
	srv := newAuthedTestServer(t, &fakeEngine{ping: func(context.Context) error { return nil }}, &fakeClientService{})
	for _, target := range []string{"/liveness", "/readiness", "/metrics"} {
		rec := doRequest(t, srv, http.MethodGet, target, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status got %d, want 200", target, rec.Code)
		}
	}
}

func TestIssueToken(t *testing.T) {
	clientID := uuid.New()
	t.Run("issued", func(t *testing.T) {
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
			issueToken: func(_ context.Context, id uuid.UUID, secret string) (*auth.Token, error) {
				if id != clientID || secret != "s3cret" {
					t.Errorf("credentials: got %s/%s", id, secret)
				}
				return &auth.Token{AccessToken: "tok", TokenType: "Bearer", ExpiresIn: 1800, Scope: "*"}, nil
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/oauth/token",
			strings.NewReader("grant_type=client_credentials&client_id="+clientID.String()+"&client_secret=s3cret"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		var token auth.Token
		if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if token.AccessToken != "tok" || token.TokenType != "Bearer" {
			t.Errorf("token: got %+v", token)
		}
	})
	t.Run("bad credentials", func(t *testing.T) {
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
			issueToken: func(context.Context, uuid.UUID, string) (*auth.Token, error) {
				return nil, broker.Unauthenticated("Invalid client credentials")
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/oauth/token",
			strings.NewReader("client_id="+clientID.String()+"&client_secret=wrong"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d, want 401", rec.Code)
		}
	})
	t.Run("malformed client id", func(t *testing.T) {
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{})
		req := httptest.NewRequest(http.MethodPost, "/oauth/token",
			strings.NewReader("client_id=nope&client_secret=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d, want 401", rec.Code)
		}
	})
}

func TestClientCRUD(t *testing.T) {
	superuser := func(context.Context, string) (*auth.Principal, error) {
		return &auth.Principal{ClientID: uuid.New(), Scopes: auth.ParseScopes("*")}, nil
	}

	t.Run("create defaults active", func(t *testing.T) {
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
			validateToken: superuser,
			createClient: func(_ context.Context, name, scopes string, isActive bool) (*auth.CreateClientResult, error) {
				if name != "ingest" || scopes != "topics:publish" || !isActive {
					t.Errorf("args: got %s/%s/%v", name, scopes, isActive)
				}
				return &auth.CreateClientResult{ID: uuid.New(), Secret: "once"}, nil
			},
		})
		rec := authedRequest(t, srv, http.MethodPost, "/clients", "tok", `{"name":"ingest","scopes":"topics:publish"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status: got %d, want 201 (body %s)", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"secret":"once"`) {
			t.Errorf("secret missing from response: %s", rec.Body.String())
		}
	})
	t.Run("update", func(t *testing.T) {
		id := uuid.New()
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
			validateToken: superuser,
			updateClient: func(_ context.Context, gotID uuid.UUID, name, scopes string, isActive bool) (*auth.Client, error) {
				if gotID != id || isActive {
					t.Errorf("args: got %s/%v", gotID, isActive)
				}
				return &auth.Client{ID: id, Name: name, Scopes: scopes, IsActive: isActive, TokenVersion: 2}, nil
			},
		})
		body := `{"name":"ingest","scopes":"topics:publish","is_active":false}`
		rec := authedRequest(t, srv, http.MethodPut, "/clients/"+id.String(), "tok", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body.String())
		}
	})
	t.Run("invalid uuid", func(t *testing.T) {
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{validateToken: superuser})
		rec := authedRequest(t, srv, http.MethodGet, "/clients/not-a-uuid", "tok", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: got %d, want 422", rec.Code)
		}
	})
	t.Run("delete", func(t *testing.T) {
		id := uuid.New()
		srv := newAuthedTestServer(t, &fakeEngine{}, &fakeClientService{
			validateToken: superuser,
			deleteClient: func(_ context.Context, gotID uuid.UUID) error {
				if gotID != id {
					t.Errorf("id: got %s", gotID)
				}
				return nil
			},
		})
		rec := authedRequest(t, srv, http.MethodDelete, "/clients/"+id.String(), "tok", "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status: got %d, want 204", rec.Code)
		}
	})
}
