package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/roach88/cfgsync/internal/ir"
)

// Response messages.
const (
	msgSaved          = "Config saved successfully"
	msgNoChange       = "Config saved successfully (no changes)"
	msgConflict       = "revision_conflict"
	msgBusy           = "Server busy, please retry"
	msgUnauthorized   = "Unauthorized"
	msgBadBody        = "invalid request body"
	msgMissingRev     = "revision required"
	msgInvalidInitial = "invalid initial revision"
	msgInternal       = "Internal server error"
)

// saveRequest is the POST /sync/config body. A null field is stored as "".
type saveRequest struct {
	Revision   *int64  `json:"revision"`
	DataHash   string  `json:"data_hash"`
	LastClient *string `json:"last_client"`
	ir.ConfigFields
}

type configResponse struct {
	AccountID string           `json:"account_id"`
	Config    *ir.ConfigRecord `json:"config"`
	Revision  int64            `json:"revision"`
}

type saveResponse struct {
	Message  string          `json:"message"`
	Revision int64           `json:"revision"`
	Merged   bool            `json:"merged,omitempty"`
	Config   ir.ConfigRecord `json:"config"`
}

type conflictResponse struct {
	Message        string          `json:"message"`
	Latest         ir.ConfigRecord `json:"latest"`
	ServerRevision int64           `json:"server_revision"`
	ClientRevision *int64          `json:"client_revision"`
}

type busyResponse struct {
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}
