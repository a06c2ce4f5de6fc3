package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fastpubsub/fastpubsub/internal/broker"
)

// HandleIssueToken returns a handler for POST /oauth/token. Credentials come
// in as a client-credentials form post. Every failure mode reads the same to
// the caller so credentials cannot be probed.
func HandleIssueToken(clients ClientService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeInvalidArgument(w, "invalid form body")
			return
		}
		if grant := r.PostFormValue("grant_type"); grant != "" && grant != "client_credentials" {
			writeInvalidArgument(w, "grant_type: only client_credentials is supported")
			return
		}

		clientID, err := uuid.Parse(r.PostFormValue("client_id"))
		if err != nil {
			writeServiceError(w, broker.Unauthenticated("Invalid client credentials"))
			return
		}
		token, err := clients.IssueToken(r.Context(), clientID, r.PostFormValue("client_secret"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, token)
	}
}
