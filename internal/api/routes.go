package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds operation request bodies.
const maxBodyBytes = 8 << 20

// RegisterRoutes mounts the operation endpoints under /api/operations.
func RegisterRoutes(r chi.Router, exec Executor) {
	r.Route("/api/operations", func(r chi.Router) {
		r.Get("/", handleList(exec))
		r.Post("/{name}", handleExecute(exec))
	})
}

func handleList(exec Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"operations": exec.Operations()})
	}
}

func handleExecute(exec Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		params := map[string]any{}
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"status":  "error",
				"message": "invalid request body: " + err.Error(),
			})
			return
		}

		res := exec.Execute(r.Context(), name, params)
		writeJSON(w, statusFor(exec, name, res), res)
	}
}

// statusFor maps an operation result onto an HTTP status. The body always
// carries the result map, so clients may branch on either.
func statusFor(exec Executor, name string, res map[string]any) int {
	if res["status"] == "success" {
		return http.StatusOK
	}
	if !slices.Contains(exec.Operations(), name) {
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
