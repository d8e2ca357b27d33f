package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"
	"scene-sync/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScenes struct {
	lastSave services.SaveRequest
	lastLoad services.LoadRequest
	elements models.ElementSet
	err      error
}

func (f *fakeScenes) Save(_ context.Context, req services.SaveRequest) (models.ElementSet, error) {
	f.lastSave = req
	return f.elements, f.err
}

func (f *fakeScenes) Load(_ context.Context, req services.LoadRequest) (models.ElementSet, error) {
	f.lastLoad = req
	return f.elements, f.err
}

type fakeFiles struct {
	lastPrefix string
	lastIDs    []string
}

func (f *fakeFiles) SaveFiles(_ context.Context, prefix string, files []models.FileUpload) *services.SaveFilesResult {
	f.lastPrefix = prefix
	result := &services.SaveFilesResult{}
	for _, file := range files {
		result.Saved = append(result.Saved, file.ID)
	}
	return result
}

func (f *fakeFiles) LoadFiles(_ context.Context, prefix, _ string, ids []string) *services.LoadFilesResult {
	f.lastPrefix = prefix
	f.lastIDs = ids
	return &services.LoadFilesResult{Errored: ids}
}

type fakeDrawings struct {
	DrawingStore
	err error
}

func (f *fakeDrawings) Create(_ context.Context, userID, name string) (*models.DrawingView, error) {
	if userID == "" {
		return nil, fault.ErrMissingUserID
	}
	return &models.DrawingView{ID: "d1", UserID: userID, Name: name}, f.err
}

func (f *fakeDrawings) Get(_ context.Context, _, id string) (*models.DrawingView, error) {
	return nil, fmt.Errorf("failed to get drawing %s: %w", id, fault.ErrNotFound)
}

func (f *fakeDrawings) Delete(context.Context, string, string) error {
	return f.err
}

type fakeImages struct{ lastPage int }

func (f *fakeImages) Search(_ context.Context, query string, page int) []models.ImageResult {
	f.lastPage = page
	return []models.ImageResult{{ID: "p1", Alt: query}}
}

type fakeObjects map[string]*models.FileBlob

func (fakeObjects) Name() string { return "scenes" }

func (f fakeObjects) Object(_ context.Context, key string) (*models.FileBlob, error) {
	return f[key], nil
}

type testAPI struct {
	scenes   *fakeScenes
	files    *fakeFiles
	drawings *fakeDrawings
	images   *fakeImages
	router   http.Handler
}

func newTestAPI(objects ObjectSource) *testAPI {
	return newTestAPIWithLimit(objects, 0)
}

func newTestAPIWithLimit(objects ObjectSource, maxBodyBytes int64) *testAPI {
	ta := &testAPI{
		scenes:   &fakeScenes{},
		files:    &fakeFiles{},
		drawings: &fakeDrawings{},
		images:   &fakeImages{},
	}
	ta.router = SetupRoutes(NewHandler(ta.scenes, ta.files, ta.drawings, ta.images, objects, nil, maxBodyBytes))
	return ta
}

func (ta *testAPI) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}

func TestSaveScene(t *testing.T) {
	ta := newTestAPI(nil)
	ta.scenes.elements = models.ElementSet{{ID: "A", Type: "rectangle", Version: 2, Width: 10, Height: 10}}

	rec := ta.do("POST", "/api/rooms/room-1/scene", `{"elements":[{"id":"A","type":"rectangle","version":2}]}`,
		map[string]string{HeaderRoomKey: "key", HeaderConnectionID: "conn-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "room-1", ta.scenes.lastSave.RoomID)
	assert.Equal(t, "key", ta.scenes.lastSave.RoomKey)
	assert.Equal(t, "conn-1", ta.scenes.lastSave.ConnectionID)
	require.Len(t, ta.scenes.lastSave.Elements, 1)
	assert.Equal(t, int64(2), ta.scenes.lastSave.Elements[0].Version)

	var resp sceneResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Elements, 1)
	assert.Equal(t, "A", resp.Elements[0].ID)
}

func TestSaveScene_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no-op", nil, http.StatusNoContent},
		{"aborted", fmt.Errorf("failed to save scene: %w", fault.ErrTransactionAborted), http.StatusConflict},
		{"wrong key", fmt.Errorf("failed to save scene: %w", fault.ErrDecryption), http.StatusUnprocessableEntity},
		{"malformed key", fmt.Errorf("failed to save scene: %w", fault.ErrInvalidKey), http.StatusBadRequest},
		{"store down", fmt.Errorf("failed to save scene: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(nil)
			ta.scenes.err = tt.err

			rec := ta.do("POST", "/api/rooms/room-1/scene", `{"elements":[]}`, nil)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusConflict {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSaveScene_BadBody(t *testing.T) {
	ta := newTestAPI(nil)
	rec := ta.do("POST", "/api/rooms/room-1/scene", `{"elements":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyTooLarge(t *testing.T) {
	big := `{"elements":[{"id":"` + strings.Repeat("x", 256) + `"}]}`

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/api/rooms/room-1/scene"},
		{"POST", "/api/files/save"},
		{"POST", "/api/files/load"},
		{"POST", "/api/users/u1/drawings"},
		{"PATCH", "/api/users/u1/drawings/d1"},
		{"PUT", "/api/users/u1/drawings/d1"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			ta := newTestAPIWithLimit(nil, 64)
			rec := ta.do(tt.method, tt.path, big, nil)
			assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		})
	}

	ta := newTestAPIWithLimit(nil, 64)
	rec := ta.do("POST", "/api/rooms/room-1/scene", `{"elements":[]}`, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "bodies under the cap still go through")
}

func TestLoadScene(t *testing.T) {
	ta := newTestAPI(nil)

	rec := ta.do("GET", "/api/rooms/room-1/scene?omitDeleted=true&deleteInvisible=true", "",
		map[string]string{HeaderRoomKey: "key"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, ta.scenes.lastLoad.OmitDeleted)
	assert.True(t, ta.scenes.lastLoad.DeleteInvisibleElements)

	ta.scenes.elements = models.ElementSet{{ID: "A", Type: "rectangle"}}
	rec = ta.do("GET", "/api/rooms/room-1/scene", "", map[string]string{HeaderRoomKey: "key"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ta.scenes.lastLoad.OmitDeleted)
}

func TestFiles(t *testing.T) {
	ta := newTestAPI(nil)

	rec := ta.do("POST", "/api/files/save", `{"prefix":"/files/rooms/r1","files":[{"id":"f1","buffer":"AAEC"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"savedFiles":["f1"],"erroredFiles":null}`, rec.Body.String())
	assert.Equal(t, "/files/rooms/r1", ta.files.lastPrefix)

	rec = ta.do("POST", "/api/files/load", `{"prefix":"/files/rooms/r1","key":"k","fileIds":["f1","f2"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"f1", "f2"}, ta.files.lastIDs)

	rec = ta.do("POST", "/api/files/load", `{"prefix":"/files/rooms/r1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetObject(t *testing.T) {
	ta := newTestAPI(fakeObjects{
		"files/rooms/r1/f1": {Key: "files/rooms/r1/f1", Data: []byte{1, 2, 3}, CacheControl: "public, max-age=60"},
	})

	rec := ta.do("GET", "/v0/b/scenes/o/files%2Frooms%2Fr1%2Ff1?alt=media", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte{1, 2, 3}, rec.Body.Bytes())
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))

	rec = ta.do("GET", "/v0/b/scenes/o/files%2Frooms%2Fr1%2Fmissing?alt=media", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do("GET", "/v0/b/other/o/files%2Frooms%2Fr1%2Ff1?alt=media", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetObject_RemoteBucket(t *testing.T) {
	ta := newTestAPI(nil)
	rec := ta.do("GET", "/v0/b/scenes/o/files%2Ff1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrawings(t *testing.T) {
	ta := newTestAPI(nil)

	rec := ta.do("POST", "/api/users/u1/drawings", `{"name":"Board"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var view models.DrawingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Board", view.Name)
	assert.Equal(t, "u1", view.UserID)

	rec = ta.do("POST", "/api/users/u1/drawings", "", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do("GET", "/api/users/u1/drawings/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do("DELETE", "/api/users/u1/drawings/d1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ta.do("PATCH", "/api/users/u1/drawings/d1", `{"name":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchImages(t *testing.T) {
	ta := newTestAPI(nil)

	rec := ta.do("GET", "/api/images/search", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do("GET", "/api/images/search?q=cats&page=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, ta.images.lastPage)
	assert.JSONEq(t, `{"page":3,"results":[{"id":"p1","url":"","thumb":"","alt":"cats","user":"","link":""}]}`, rec.Body.String())

	ta.do("GET", "/api/images/search?q=cats&page=zero", "", nil)
	assert.Equal(t, 1, ta.images.lastPage)
}

func TestHealthAndPreflight(t *testing.T) {
	ta := newTestAPI(nil)

	rec := ta.do("GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ta.do("OPTIONS", "/api/rooms/room-1/scene", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderRoomKey)
}
