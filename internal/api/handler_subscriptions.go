package api

import (
	"net/http"
	"strconv"

	"github.com/fastpubsub/fastpubsub/internal/broker"
	"github.com/fastpubsub/fastpubsub/internal/metrics"
)

const defaultConsumeBatchSize = 10

// CreateSubscriptionRequest is the body of POST /subscriptions. Omitted retry
// fields fall back to the configured defaults.
type CreateSubscriptionRequest struct {
	ID                  string        `json:"id"`
	TopicID             string        `json:"topic_id"`
	Filter              broker.Filter `json:"filter"`
	MaxDeliveryAttempts *int          `json:"max_delivery_attempts"`
	BackoffMinSeconds   *int          `json:"backoff_min_seconds"`
	BackoffMaxSeconds   *int          `json:"backoff_max_seconds"`
}

// HandleCreateSubscription returns a handler for POST /subscriptions.
func HandleCreateSubscription(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSubscriptionRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		sub, err := subs.CreateSubscription(r.Context(), broker.CreateSubscriptionParams{
			ID:                  req.ID,
			TopicID:             req.TopicID,
			Filter:              req.Filter,
			MaxDeliveryAttempts: req.MaxDeliveryAttempts,
			BackoffMinSeconds:   req.BackoffMinSeconds,
			BackoffMaxSeconds:   req.BackoffMaxSeconds,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, sub)
	}
}

// HandleGetSubscription returns a handler for GET /subscriptions/{id}.
func HandleGetSubscription(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := subs.GetSubscription(r.Context(), PathParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sub)
	}
}

// HandleListSubscriptions returns a handler for GET /subscriptions.
func HandleListSubscriptions(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		page, err := subs.ListSubscriptions(r.Context(), pg.Offset, pg.Limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteData(w, http.StatusOK, page)
	}
}

// HandleDeleteSubscription returns a handler for DELETE /subscriptions/{id}.
func HandleDeleteSubscription(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := subs.DeleteSubscription(r.Context(), PathParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleConsume returns a handler for GET /subscriptions/{id}/messages.
// Leased messages come back in the data envelope; an empty batch is a 200
// with an empty array, never a 204.
func HandleConsume(subs SubscriptionService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consumerID, ok := requireConsumerID(w, r)
		if !ok {
			return
		}
		batchSize := defaultConsumeBatchSize
		if v := r.URL.Query().Get("batch_size"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeInvalidArgument(w, "batch_size: must be an integer")
				return
			}
			batchSize = n
		}

		messages, err := subs.Consume(r.Context(), PathParam(r, "id"), consumerID, batchSize)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if m != nil {
			m.MessagesConsumed.Add(float64(len(messages)))
		}
		WriteData(w, http.StatusOK, messages)
	}
}

// HandleAck returns a handler for POST /subscriptions/{id}/acks. The body is
// a JSON array of message UUIDs; IDs the caller does not hold a lease on are
// ignored.
func HandleAck(subs SubscriptionService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consumerID, ok := requireConsumerID(w, r)
		if !ok {
			return
		}
		ids, ok := decodeMessageIDsOrWriteInvalid(w, r)
		if !ok {
			return
		}
		acked, err := subs.Ack(r.Context(), PathParam(r, "id"), consumerID, ids)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if m != nil {
			m.MessagesAcked.Add(float64(acked))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleNack returns a handler for POST /subscriptions/{id}/nacks.
func HandleNack(subs SubscriptionService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consumerID, ok := requireConsumerID(w, r)
		if !ok {
			return
		}
		ids, ok := decodeMessageIDsOrWriteInvalid(w, r)
		if !ok {
			return
		}
		nacked, err := subs.Nack(r.Context(), PathParam(r, "id"), consumerID, ids)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if m != nil {
			m.MessagesNacked.Add(float64(nacked))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleListDLQ returns a handler for GET /subscriptions/{id}/dlq.
func HandleListDLQ(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		messages, err := subs.ListDLQ(r.Context(), PathParam(r, "id"), pg.Offset, pg.Limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteData(w, http.StatusOK, messages)
	}
}

// HandleReprocessDLQ returns a handler for POST /subscriptions/{id}/dlq/reprocess.
// Without a body every dead-lettered message is requeued; with a JSON array of
// message UUIDs only those are.
func HandleReprocessDLQ(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		if r.ContentLength != 0 {
			var ok bool
			if ids, ok = decodeMessageIDsOrWriteInvalid(w, r); !ok {
				return
			}
		}
		if _, err := subs.ReprocessDLQ(r.Context(), PathParam(r, "id"), ids); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSubscriptionMetrics returns a handler for GET /subscriptions/{id}/metrics.
func HandleSubscriptionMetrics(subs SubscriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := subs.Metrics(r.Context(), PathParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, counts)
	}
}
