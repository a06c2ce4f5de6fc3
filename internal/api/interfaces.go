package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/fastpubsub/fastpubsub/internal/auth"
	"github.com/fastpubsub/fastpubsub/internal/broker"
)

// The handlers depend on these narrow interfaces rather than the concrete
// engine so tests can exercise the HTTP surface with fakes.

// TopicService covers topic CRUD and publishing.
type TopicService interface {
	CreateTopic(ctx context.Context, id string) (*broker.Topic, error)
	GetTopic(ctx context.Context, id string) (*broker.Topic, error)
	ListTopics(ctx context.Context, offset, limit int) ([]broker.Topic, error)
	DeleteTopic(ctx context.Context, id string) error
	Publish(ctx context.Context, topicID string, payloads []map[string]any) (int64, error)
}

// SubscriptionService covers subscription CRUD and the consume-side operations.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, params broker.CreateSubscriptionParams) (*broker.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*broker.Subscription, error)
	ListSubscriptions(ctx context.Context, offset, limit int) ([]broker.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	Consume(ctx context.Context, subscriptionID, consumerID string, batchSize int) ([]broker.Message, error)
	Ack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error)
	Nack(ctx context.Context, subscriptionID, consumerID string, messageIDs []string) (int64, error)
	ListDLQ(ctx context.Context, subscriptionID string, offset, limit int) ([]broker.Message, error)
	ReprocessDLQ(ctx context.Context, subscriptionID string, messageIDs []string) (int64, error)
	Metrics(ctx context.Context, subscriptionID string) (*broker.SubscriptionMetrics, error)
}

// ClientService covers client management and the token endpoint.
type ClientService interface {
	CreateClient(ctx context.Context, name, scopes string, isActive bool) (*auth.CreateClientResult, error)
	GetClient(ctx context.Context, id uuid.UUID) (*auth.Client, error)
	ListClients(ctx context.Context, offset, limit int) ([]auth.Client, error)
	UpdateClient(ctx context.Context, id uuid.UUID, name, scopes string, isActive bool) (*auth.Client, error)
	DeleteClient(ctx context.Context, id uuid.UUID) error
	IssueToken(ctx context.Context, clientID uuid.UUID, clientSecret string) (*auth.Token, error)
}

// TokenValidator authenticates bearer tokens for protected routes.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*auth.Principal, error)
}

// HealthService backs the readiness probe.
type HealthService interface {
	Ping(ctx context.Context) error
}
