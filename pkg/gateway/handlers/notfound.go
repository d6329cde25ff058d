package handlers

import (
	"net/http"

	"github.com/vango-go/vai-reception/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, core.NewNotFoundError("not found"))
}

type MethodNotAllowedHandler struct{}

func (h MethodNotAllowedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, &core.Error{
		Type:    core.ErrValidation,
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}
