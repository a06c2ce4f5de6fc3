package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/fastpubsub/fastpubsub/internal/metrics"
)

// Request bodies above this size are rejected with 413. Publish batches are
// the largest legitimate payloads and stay well under this.
const maxBodyBytes = 10 << 20

// Deps carries everything the route table needs. Clients may be nil when
// authentication is disabled; the client and token routes are then not
// registered.
type Deps struct {
	Topics        TopicService
	Subscriptions SubscriptionService
	Clients       ClientService
	Tokens        TokenValidator
	Health        HealthService
	Metrics       *metrics.Metrics
	AuthEnabled   bool
}

// Server wraps the HTTP server and mux for the broker API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// NewServer creates an API server wired with all routes.
func NewServer(listenAddress string, port int, deps Deps) *Server {
	mux := http.NewServeMux()
	a := &authenticator{enabled: deps.AuthEnabled, tokens: deps.Tokens}

	// Probes and the scrape endpoint stay open even with auth enabled.
	mux.Handle("GET /liveness", HandleLiveness())
	mux.Handle("GET /readiness", HandleReadiness(deps.Health))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", HandleMetrics(deps.Metrics))
	}

	// Topics.
	mux.Handle("POST /topics", a.require("topics", "create", "", HandleCreateTopic(deps.Topics)))
	mux.Handle("GET /topics", a.require("topics", "read", "", HandleListTopics(deps.Topics)))
	mux.Handle("GET /topics/{id}", a.require("topics", "read", "id", HandleGetTopic(deps.Topics)))
	mux.Handle("DELETE /topics/{id}", a.require("topics", "delete", "id", HandleDeleteTopic(deps.Topics)))
	mux.Handle("POST /topics/{id}/messages", a.require("topics", "publish", "id", HandlePublish(deps.Topics, deps.Metrics)))

	// Subscriptions and their message operations.
	mux.Handle("POST /subscriptions", a.require("subscriptions", "create", "", HandleCreateSubscription(deps.Subscriptions)))
	mux.Handle("GET /subscriptions", a.require("subscriptions", "read", "", HandleListSubscriptions(deps.Subscriptions)))
	mux.Handle("GET /subscriptions/{id}", a.require("subscriptions", "read", "id", HandleGetSubscription(deps.Subscriptions)))
	mux.Handle("DELETE /subscriptions/{id}", a.require("subscriptions", "delete", "id", HandleDeleteSubscription(deps.Subscriptions)))
	mux.Handle("GET /subscriptions/{id}/messages", a.require("subscriptions", "consume", "id", HandleConsume(deps.Subscriptions, deps.Metrics)))
	mux.Handle("POST /subscriptions/{id}/acks", a.require("subscriptions", "consume", "id", HandleAck(deps.Subscriptions, deps.Metrics)))
	mux.Handle("POST /subscriptions/{id}/nacks", a.require("subscriptions", "consume", "id", HandleNack(deps.Subscriptions, deps.Metrics)))
	mux.Handle("GET /subscriptions/{id}/dlq", a.require("subscriptions", "read", "id", HandleListDLQ(deps.Subscriptions)))
	mux.Handle("POST /subscriptions/{id}/dlq/reprocess", a.require("subscriptions", "consume", "id", HandleReprocessDLQ(deps.Subscriptions)))
	mux.Handle("GET /subscriptions/{id}/metrics", a.require("subscriptions", "read", "id", HandleSubscriptionMetrics(deps.Subscriptions)))

	// Client management and the token endpoint exist only with auth on.
	if deps.Clients != nil {
		mux.Handle("POST /oauth/token", HandleIssueToken(deps.Clients))
		mux.Handle("POST /clients", a.require("clients", "create", "", HandleCreateClient(deps.Clients)))
		mux.Handle("GET /clients", a.require("clients", "read", "", HandleListClients(deps.Clients)))
		mux.Handle("GET /clients/{id}", a.require("clients", "read", "id", HandleGetClient(deps.Clients)))
		mux.Handle("PUT /clients/{id}", a.require("clients", "update", "id", HandleUpdateClient(deps.Clients)))
		mux.Handle("DELETE /clients/{id}", a.require("clients", "delete", "id", HandleDeleteClient(deps.Clients)))
	}

	handler := InstrumentMiddleware(deps.Metrics, RequestBodyLimitMiddleware(maxBodyBytes, mux))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: handler,
	}

	return &Server{
		httpServer: srv,
		handler:    handler,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
