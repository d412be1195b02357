package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/lendcore/application_layer/internal/errors"
)

func writeServiceError(w http.ResponseWriter, se *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.HTTPStatus)
	body := map[string]interface{}{"error": se.Message, "code": se.Code}
	if len(se.Details) > 0 {
		body["details"] = se.Details
	}
	_ = json.NewEncoder(w).Encode(body)
}
