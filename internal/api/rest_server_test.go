package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

type testEnv struct {
	server *RestServer
	store  *storage.LevelStore
}

func newTestEnv(t *testing.T, capacity int64) *testEnv {
	t.Helper()
	var backend storage.Backend = storage.NewMemoryBackend()
	if capacity > 0 {
		q, err := storage.NewQuotaBackend(context.Background(), backend, capacity)
		require.NoError(t, err)
		backend = q
	}
	reg := prometheus.NewRegistry()
	store := storage.NewLevelStore(backend, storage.StoreOptions{Registerer: reg})
	t.Cleanup(func() { _ = store.Close() })

	srv := NewRestServer(Config{Store: store, Registerer: reg, Gatherer: reg})
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return &testEnv{server: srv, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func sampleLevel(t *testing.T) []byte {
	t.Helper()
	l := storage.NewLevel("Остров", "tester")
	l.Blocks = []world.Block{
		world.NewBlock(vec.Vec3{X: 0, Y: 0, Z: 0}, world.BlockCube, world.PaletteGrass),
		world.NewBlock(vec.Vec3{X: 1, Y: 0, Z: 0}, world.BlockCube, world.PaletteStone),
	}
	data, err := json.Marshal(l)
	require.NoError(t, err)
	return data
}

func decode(t *testing.T, w *httptest.ResponseRecorder) GenericResponse {
	t.Helper()
	var resp GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime")
}

func TestImportExportDelete(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(t, http.MethodPost, "/api/levels", sampleLevel(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.True(t, resp.Success)
	id := resp.Data.(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	w = env.do(t, http.MethodGet, "/api/levels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.EqualValues(t, 1, data["total"])

	w = env.do(t, http.MethodGet, "/api/levels/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var exported storage.Level
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exported))
	assert.Equal(t, "Остров", exported.Name)
	assert.Len(t, exported.Blocks, 2)

	w = env.do(t, http.MethodDelete, "/api/levels/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/levels/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/levels/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(t, http.MethodPost, "/api/levels", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decode(t, w).Success)

	w = env.do(t, http.MethodPost, "/api/levels", []byte(`{"id":"x","name":""}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	list, err := env.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestImportQuotaExceeded(t *testing.T) {
	env := newTestEnv(t, 64)

	w := env.do(t, http.MethodPost, "/api/levels", sampleLevel(t))
	assert.Equal(t, http.StatusInsufficientStorage, w.Code)
}

func TestGenerateAndRender(t *testing.T) {
	env := newTestEnv(t, 0)

	body := []byte(`{"name":"Генерация","heightMap":{"width":12,"height":12,"seed":42,"octaves":3,"frequency":0.1,"amplitude":1,"persistence":0.5,"lacunarity":2,"minHeight":0,"maxHeight":100,"smoothing":1},"map":{"maxElevation":6}}`)
	w := env.do(t, http.MethodPost, "/api/generate", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := decode(t, w).Data.(map[string]any)
	assert.EqualValues(t, 42, data["seed"])
	assert.Greater(t, data["blocks"].(float64), float64(0))
	id := data["level"].(map[string]any)["id"].(string)

	w = env.do(t, http.MethodGet, "/api/levels/"+id+"/render.png?width=160&height=120&fit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEqual(t, "0", w.Header().Get("X-Blocks-Drawn"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())
	assert.Equal(t, 120, img.Bounds().Dy())
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(t, http.MethodPost, "/api/generate", []byte(`{"heightMap":{"width":0,"height":4}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenderValidatesSize(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(t, http.MethodGet, "/api/levels/any/render.png?width=99999", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/levels/missing/render.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	env.do(t, http.MethodGet, "/health", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sandbox_api")
}
