package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err *core.Error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	mw.WriteJSONError(w, status, reqID, err)
}
