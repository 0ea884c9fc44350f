package handlers

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes a JSON response for the debug handlers which live
// outside the web framework.
func respondJSON(w http.ResponseWriter, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonData)
}
