package api

import (
	"net/http"

	"github.com/fastpubsub/fastpubsub/internal/metrics"
)

// CreateTopicRequest is the body of POST /topics.
type CreateTopicRequest struct {
	ID string `json:"id"`
}

// HandleCreateTopic returns a handler for POST /topics.
func HandleCreateTopic(topics TopicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTopicRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		topic, err := topics.CreateTopic(r.Context(), req.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, topic)
	}
}

// HandleGetTopic returns a handler for GET /topics/{id}.
func HandleGetTopic(topics TopicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic, err := topics.GetTopic(r.Context(), PathParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, topic)
	}
}

// HandleListTopics returns a handler for GET /topics.
func HandleListTopics(topics TopicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		page, err := topics.ListTopics(r.Context(), pg.Offset, pg.Limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteData(w, http.StatusOK, page)
	}
}

// HandleDeleteTopic returns a handler for DELETE /topics/{id}.
func HandleDeleteTopic(topics TopicService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := topics.DeleteTopic(r.Context(), PathParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandlePublish returns a handler for POST /topics/{id}/messages. The body is
// a JSON array of message payload objects.
func HandlePublish(topics TopicService, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payloads []map[string]any
		if err := DecodeBody(r, &payloads); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		created, err := topics.Publish(r.Context(), PathParam(r, "id"), payloads)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if m != nil {
			m.MessagesPublished.Add(float64(created))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
