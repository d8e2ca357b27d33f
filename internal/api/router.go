package api

import (
	"net/http"

	"scene-sync/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Room scenes
	api.HandleFunc("/rooms/{roomId}/scene", h.SaveScene).Methods("POST")
	api.HandleFunc("/rooms/{roomId}/scene", h.LoadScene).Methods("GET")

	// Scene files
	api.HandleFunc("/files/save", h.SaveFiles).Methods("POST")
	api.HandleFunc("/files/load", h.LoadFiles).Methods("POST")

	// Drawings
	api.HandleFunc("/users/{userId}/drawings", h.CreateDrawing).Methods("POST")
	api.HandleFunc("/users/{userId}/drawings", h.ListDrawings).Methods("GET")
	api.HandleFunc("/users/{userId}/drawings/{id}", h.GetDrawing).Methods("GET")
	api.HandleFunc("/users/{userId}/drawings/{id}", h.UpdateDrawing).Methods("PATCH")
	api.HandleFunc("/users/{userId}/drawings/{id}", h.SaveDrawing).Methods("PUT")
	api.HandleFunc("/users/{userId}/drawings/{id}", h.DeleteDrawing).Methods("DELETE")

	// Image search
	api.HandleFunc("/images/search", h.SearchImages).Methods("GET")

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Object downloads for the database bucket. The object name is an
	// escaped path, so it may contain slashes once decoded.
	r.HandleFunc("/v0/b/{bucket}/o/{object:.+}", h.GetObject).Methods("GET")

	// WebSocket rooms
	r.HandleFunc("/ws/rooms/{roomId}", h.HandleRoomWebSocket)

	// Preflight requests only need the CORS middleware to run
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return r
}
