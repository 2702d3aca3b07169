package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contalink/bandeja/internal/config"
	"github.com/contalink/bandeja/internal/domain"
	"github.com/contalink/bandeja/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bandeja.db"), zerolog.Nop(), store.RetryPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		ListenAddr:     ":0",
		AllowedOrigins: []string{"*"},
	}
	return New(cfg, st, zerolog.Nop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data   json.RawMessage `json:"data"`
		Status int             `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, rec.Code, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndListNotifications(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/notificacoes/", map[string]any{
		"tipo":      "agendada",
		"titulo":    "Fechamento",
		"mensagem":  "Entrega do fechamento mensal",
		"setores":   []string{"FISCAL"},
		"horario":   time.Date(2026, 3, 10, 9, 0, 0, 0, time.Local).Format(time.RFC3339),
		"repete":    3,
		"intervalo": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Notification
	decodeData(t, rec, &created)
	assert.NotZero(t, created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, domain.KindScheduled, created.Kind)
	require.NotNil(t, created.ScheduledAt)

	rec = doJSON(t, s, http.MethodGet, "/api/notificacoes/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Notification
	decodeData(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestCreateValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing mensagem", map[string]any{"tipo": "agendada"}},
		{"unknown tipo", map[string]any{"tipo": "mensal", "mensagem": "x"}},
		{"bad horario", map[string]any{"tipo": "agendada", "mensagem": "x", "horario": "amanhã"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/notificacoes/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateImmediateHasNoScheduledInstant(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/notificacoes/", map[string]any{
		"tipo":     "imediata",
		"mensagem": "Reunião agora",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Notification
	decodeData(t, rec, &created)
	assert.Nil(t, created.ScheduledAt)
}

func TestUpdateNotification(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/notificacoes/", map[string]any{
		"tipo":     "agendada",
		"mensagem": "Entrega do fechamento",
		"repete":   3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Notification
	decodeData(t, rec, &created)

	rec = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/notificacoes/%d", created.ID), map[string]any{
		"titulo": "Fechamento trimestral",
		"ativo":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated domain.Notification
	decodeData(t, rec, &updated)
	assert.Equal(t, "Fechamento trimestral", updated.Title)
	assert.False(t, updated.Active)
	// Untouched fields survive the partial edit.
	assert.Equal(t, "Entrega do fechamento", updated.Body)
	require.NotNil(t, updated.MaxRepeats)
	assert.Equal(t, 3, *updated.MaxRepeats)
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPut, "/api/notificacoes/999", map[string]any{"titulo": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteNotification(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/notificacoes/", map[string]any{
		"tipo": "imediata", "mensagem": "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Notification
	decodeData(t, rec, &created)

	rec = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/notificacoes/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/notificacoes/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsDashboard(t *testing.T) {
	s := newTestServer(t)

	for _, kind := range []string{"imediata", "agendada", "agendada"} {
		rec := doJSON(t, s, http.MethodPost, "/api/notificacoes/", map[string]any{
			"tipo": kind, "mensagem": "x", "setores": []string{"TI"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/notificacoes/stats/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats store.Stats
	decodeData(t, rec, &stats)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 2, stats.ByKind["agendada"])
	assert.Equal(t, 3, stats.BySector["TI"])
}

func TestActiveUsers(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/notificacoes/usuarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	require.NoError(t, s.st.UpsertConnection(context.Background(), "Maria", "FISCAL-01"))

	rec = doJSON(t, s, http.MethodGet, "/api/notificacoes/usuarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var conns []store.Connection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conns))
	require.Len(t, conns, 1)
	assert.Equal(t, "Maria", conns[0].User)
}
