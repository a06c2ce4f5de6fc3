package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fastpubsub/fastpubsub/internal/broker"
)

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, string(broker.KindInvalidArgument), message)
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = "request body too large (max " + strconv.FormatInt(limit, 10) + " bytes)"
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

func writeDecodeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		writePayloadTooLarge(w, tooLarge.Limit)
		return
	}
	writeInvalidArgument(w, err.Error())
}

// writeServiceError maps engine errors to HTTP response codes.
func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		WriteError(w, http.StatusInternalServerError, string(broker.KindInternal), "internal server error")
		return
	}

	kind := broker.KindOf(err)
	var status int
	switch kind {
	case broker.KindNotFound:
		status = http.StatusNotFound
	case broker.KindAlreadyExists:
		status = http.StatusConflict
	case broker.KindInvalidArgument:
		status = http.StatusUnprocessableEntity
	case broker.KindUnauthenticated:
		status = http.StatusUnauthorized
	case broker.KindPermissionDenied:
		status = http.StatusForbidden
	case broker.KindUnavailable:
		status = http.StatusServiceUnavailable
	default:
		WriteError(w, http.StatusInternalServerError, string(broker.KindInternal), "internal server error")
		return
	}
	WriteError(w, status, string(kind), err.Error())
}
