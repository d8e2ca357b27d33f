package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"
	"scene-sync/internal/services"
	"scene-sync/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Room credentials travel in headers so they stay out of access logs
const (
	HeaderRoomKey      = "X-Room-Key"
	HeaderConnectionID = "X-Connection-ID"
)

// Handler handles HTTP requests
type Handler struct {
	scenes    SceneSyncer
	files     FileStore
	drawings  DrawingStore
	images    ImageSearcher
	objects   ObjectSource // nil when files live in a remote bucket
	wsHandler *collaboration.WebSocketHandler

	maxBodyBytes int64
}

// DefaultMaxBodyBytes caps request bodies when no limit is configured
const DefaultMaxBodyBytes = 32 << 20

func NewHandler(
	scenes SceneSyncer,
	files FileStore,
	drawings DrawingStore,
	images ImageSearcher,
	objects ObjectSource,
	wsHandler *collaboration.WebSocketHandler,
	maxBodyBytes int64,
) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		scenes:       scenes,
		files:        files,
		drawings:     drawings,
		images:       images,
		objects:      objects,
		wsHandler:    wsHandler,
		maxBodyBytes: maxBodyBytes,
	}
}

type sceneResponse struct {
	Elements models.ElementSet `json:"elements"`
}

type saveSceneBody struct {
	Elements models.ElementSet `json:"elements"`
}

// Scene handlers

func (h *Handler) SaveScene(w http.ResponseWriter, r *http.Request) {
	var body saveSceneBody
	if err := h.decodeBody(w, r, &body); err != nil {
		writeBodyError(w, err)
		return
	}

	elements, err := h.scenes.Save(r.Context(), services.SaveRequest{
		ConnectionID: r.Header.Get(HeaderConnectionID),
		RoomID:       mux.Vars(r)["roomId"],
		RoomKey:      r.Header.Get(HeaderRoomKey),
		Elements:     body.Elements,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if elements == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, sceneResponse{Elements: elements})
}

func (h *Handler) LoadScene(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	elements, err := h.scenes.Load(r.Context(), services.LoadRequest{
		ConnectionID:            r.Header.Get(HeaderConnectionID),
		RoomID:                  mux.Vars(r)["roomId"],
		RoomKey:                 r.Header.Get(HeaderRoomKey),
		DeleteInvisibleElements: q.Get("deleteInvisible") == "true",
		OmitDeleted:             q.Get("omitDeleted") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if elements == nil {
		http.Error(w, "scene not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sceneResponse{Elements: elements})
}

// File handlers

type saveFilesBody struct {
	Prefix string              `json:"prefix"`
	Files  []models.FileUpload `json:"files"`
}

type loadFilesBody struct {
	Prefix  string   `json:"prefix"`
	Key     string   `json:"key"`
	FileIDs []string `json:"fileIds"`
}

func (h *Handler) SaveFiles(w http.ResponseWriter, r *http.Request) {
	var body saveFilesBody
	if err := h.decodeBody(w, r, &body); err != nil {
		writeBodyError(w, err)
		return
	}
	if body.Prefix == "" {
		http.Error(w, "prefix is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, h.files.SaveFiles(r.Context(), body.Prefix, body.Files))
}

func (h *Handler) LoadFiles(w http.ResponseWriter, r *http.Request) {
	var body loadFilesBody
	if err := h.decodeBody(w, r, &body); err != nil {
		writeBodyError(w, err)
		return
	}
	if body.Prefix == "" || body.Key == "" {
		http.Error(w, "prefix and key are required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, h.files.LoadFiles(r.Context(), body.Prefix, body.Key, body.FileIDs))
}

// GetObject serves the database bucket the way the storage download API does
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if h.objects == nil || vars["bucket"] != h.objects.Name() {
		http.Error(w, "bucket not found", http.StatusNotFound)
		return
	}

	blob, err := h.objects.Object(r.Context(), vars["object"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if blob == nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if blob.CacheControl != "" {
		w.Header().Set("Cache-Control", blob.CacheControl)
	}
	w.Write(blob.Data)
}

// Drawing handlers

type createDrawingBody struct {
	Name string `json:"name"`
}

func (h *Handler) CreateDrawing(w http.ResponseWriter, r *http.Request) {
	// the body is optional
	var body createDrawingBody
	if err := h.decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeBodyError(w, err)
		return
	}

	created, err := h.drawings.Create(r.Context(), mux.Vars(r)["userId"], body.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListDrawings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil {
			limit = parsed
		}
	}

	drawings, err := h.drawings.List(r.Context(), mux.Vars(r)["userId"], limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"drawings": drawings,
	})
}

func (h *Handler) GetDrawing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	drawing, err := h.drawings.Get(r.Context(), vars["userId"], vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, drawing)
}

func (h *Handler) UpdateDrawing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var update models.DrawingUpdate
	if err := h.decodeBody(w, r, &update); err != nil {
		writeBodyError(w, err)
		return
	}

	updated, err := h.drawings.Update(r.Context(), vars["userId"], vars["id"], &update)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) SaveDrawing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var save models.DrawingSave
	if err := h.decodeBody(w, r, &save); err != nil {
		writeBodyError(w, err)
		return
	}

	saved, err := h.drawings.Save(r.Context(), vars["userId"], vars["id"], &save)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) DeleteDrawing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.drawings.Delete(r.Context(), vars["userId"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Image search

func (h *Handler) SearchImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil && parsed > 0 {
			page = parsed
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": h.images.Search(r.Context(), query, page),
		"page":    page,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body of at most maxBodyBytes
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(v)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// writeError maps error classes to status codes
func writeError(w http.ResponseWriter, err error) {
	var (
		invalid   fault.InvalidError
		notFound  fault.NotFoundError
		retryable fault.RetryableError
	)

	switch {
	case errors.Is(err, fault.ErrDecryption):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &retryable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &invalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
