package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/archestra-ai/gateway/pkg/errors"
)

// writeError projects err into a ChatErrorResponse and writes it with the
// status code its Type maps to. Non-*errors.Error values are treated as
// Unknown by ToChatErrorResponse/HTTPStatus.
func writeError(w http.ResponseWriter, err error) {
	resp := errors.ToChatErrorResponse(err)

	status := http.StatusInternalServerError
	if gwErr, ok := err.(*errors.Error); ok {
		status = errors.HTTPStatus(gwErr.Type)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
