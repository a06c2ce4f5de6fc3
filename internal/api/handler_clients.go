package api

import (
	"net/http"
)

// CreateClientRequest is the body of POST /clients. IsActive defaults to true.
type CreateClientRequest struct {
	Name     string `json:"name"`
	Scopes   string `json:"scopes"`
	IsActive *bool  `json:"is_active"`
}

// UpdateClientRequest is the body of PUT /clients/{id}. The update is a full
// replacement and revokes every outstanding token for the client.
type UpdateClientRequest struct {
	Name     string `json:"name"`
	Scopes   string `json:"scopes"`
	IsActive bool   `json:"is_active"`
}

// HandleCreateClient returns a handler for POST /clients. The response carries
// the generated secret; it is never retrievable again.
func HandleCreateClient(clients ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateClientRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		isActive := true
		if req.IsActive != nil {
			isActive = *req.IsActive
		}
		result, err := clients.CreateClient(r.Context(), req.Name, req.Scopes, isActive)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, result)
	}
}

// HandleGetClient returns a handler for GET /clients/{id}.
func HandleGetClient(clients ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "client_id")
		if !ok {
			return
		}
		client, err := clients.GetClient(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, client)
	}
}

// HandleListClients returns a handler for GET /clients.
func HandleListClients(clients ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		page, err := clients.ListClients(r.Context(), pg.Offset, pg.Limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteData(w, http.StatusOK, page)
	}
}

// HandleUpdateClient returns a handler for PUT /clients/{id}.
func HandleUpdateClient(clients ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "client_id")
		if !ok {
			return
		}
		var req UpdateClientRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		client, err := clients.UpdateClient(r.Context(), id, req.Name, req.Scopes, req.IsActive)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, client)
	}
}

// HandleDeleteClient returns a handler for DELETE /clients/{id}.
func HandleDeleteClient(clients ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireUUIDPathParam(w, r, "id", "client_id")
		if !ok {
			return
		}
		if err := clients.DeleteClient(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
