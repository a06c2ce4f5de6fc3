package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// --- Pagination ---

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Pagination holds parsed limit/offset values.
type Pagination struct {
	Offset int
	Limit  int
}

type requestBodyTooLargeError struct {
	Limit int64
}

func (e *requestBodyTooLargeError) Error() string {
	return fmt.Sprintf("request body too large (max %d bytes)", e.Limit)
}

// ParsePagination reads offset and limit from query parameters.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Offset: 0, Limit: defaultPageLimit}

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("offset: must be a non-negative integer")
		}
		p.Offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			return p, fmt.Errorf("limit: must be an integer between 1 and %d", maxPageLimit)
		}
		p.Limit = n
	}
	return p, nil
}

func parsePaginationOrWriteInvalid(w http.ResponseWriter, r *http.Request) (Pagination, bool) {
	pg, err := ParsePagination(r)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return Pagination{}, false
	}
	return pg, true
}

// --- Body Decoding ---

// DecodeBody decodes the JSON request body into v, rejecting unknown fields.
func DecodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return fmt.Errorf("invalid request body: must contain a single JSON value")
	}
	return nil
}

// --- Path Parameters ---

// PathParam extracts a named path parameter from the request URL.
// Works with Go 1.22+ ServeMux pattern matching (e.g. /topics/{id}).
func PathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// --- Validators ---

// ValidateUUID checks that s is a valid lowercase canonical UUID string.
func ValidateUUID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return s == id.String()
}

func requireUUIDPathParam(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
	fieldName string,
) (uuid.UUID, bool) {
	value := PathParam(r, paramName)
	id, err := uuid.Parse(value)
	if err != nil {
		writeInvalidArgument(w, fmt.Sprintf("%s: must be a valid UUID", fieldName))
		return uuid.UUID{}, false
	}
	return id, true
}

// decodeMessageIDsOrWriteInvalid reads a JSON array of message UUIDs from the
// request body.
func decodeMessageIDsOrWriteInvalid(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var ids []string
	if err := DecodeBody(r, &ids); err != nil {
		writeDecodeBodyError(w, err)
		return nil, false
	}
	for _, id := range ids {
		if !ValidateUUID(id) {
			writeInvalidArgument(w, fmt.Sprintf("message_ids: %q is not a valid UUID", id))
			return nil, false
		}
	}
	return ids, true
}

// requireConsumerID reads the mandatory consumer_id query parameter.
func requireConsumerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	consumerID := r.URL.Query().Get("consumer_id")
	if consumerID == "" {
		writeInvalidArgument(w, "consumer_id: query parameter is required")
		return "", false
	}
	return consumerID, true
}
