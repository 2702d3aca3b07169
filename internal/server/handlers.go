package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contalink/bandeja/internal/domain"
	"github.com/contalink/bandeja/internal/pkg/validate"
	"github.com/contalink/bandeja/internal/store"
)

// envelope is the response wrapper the dashboard expects.
type envelope struct {
	Data   any `json:"data"`
	Status int `json:"status"`
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data, Status: status})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, map[string]string{"message": msg})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleList returns every notification record, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.st.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list notifications")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}
	if records == nil {
		records = []domain.Notification{}
	}
	writeEnvelope(w, http.StatusOK, records)
}

// createRequest is the CRUD create body. Unlike the websocket path, only
// tipo and mensagem are required.
type createRequest struct {
	Kind     string   `json:"tipo" validate:"required,oneof=imediata agendada fixa"`
	Title    string   `json:"titulo"`
	Body     string   `json:"mensagem" validate:"required"`
	Link     string   `json:"link"`
	Icon     string   `json:"icone"`
	User     string   `json:"usuario"`
	Sectors  []string `json:"setores"`
	At       string   `json:"horario"`
	Repeats  *int     `json:"repete"`
	Interval *int     `json:"intervalo"`
}

// handleCreate persists a new record: active, zero repeats sent. Immediate
// records get no scheduled instant from this path; the operator dashboard
// sends those through the websocket when it wants same-tick delivery.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corpo inválido")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind := domain.Kind(req.Kind)

	var scheduledAt *time.Time
	if kind != domain.KindImmediate {
		at := time.Now()
		if req.At != "" {
			parsed, err := time.Parse(time.RFC3339, req.At)
			if err != nil {
				writeError(w, http.StatusBadRequest, "horário inválido")
				return
			}
			at = parsed
		}
		scheduledAt = &at
	}

	record := domain.Notification{
		Kind:            kind,
		Title:           req.Title,
		Body:            req.Body,
		Link:            req.Link,
		Icon:            req.Icon,
		User:            req.User,
		Sectors:         req.Sectors,
		ScheduledAt:     scheduledAt,
		Active:          true,
		MaxRepeats:      clampNonNegative(req.Repeats),
		IntervalMinutes: clampNonNegative(req.Interval),
	}

	created, err := s.st.Create(r.Context(), record)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create notification")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}

	s.log.Info().Int64("id", created.ID).Str("tipo", string(created.Kind)).Msg("notification created")
	writeEnvelope(w, http.StatusCreated, created)
}

// updateRequest carries a partial edit; nil fields are left untouched.
type updateRequest struct {
	Kind        *string   `json:"tipo"`
	Title       *string   `json:"titulo"`
	Body        *string   `json:"mensagem"`
	Link        *string   `json:"link"`
	Icon        *string   `json:"icone"`
	User        *string   `json:"usuario"`
	Sectors     *[]string `json:"setores"`
	At          *string   `json:"agendadaPara"`
	Active      *bool     `json:"ativo"`
	Repeats     *int      `json:"repete"`
	Interval    *int      `json:"intervalo"`
	RepeatsSent *int      `json:"repeticoes_enviadas"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id inválido")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corpo inválido")
		return
	}

	record, err := s.st.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notificação não encontrada")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Int64("id", id).Msg("failed to load notification")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}

	if req.Kind != nil {
		kind := domain.Kind(*req.Kind)
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "tipo inválido")
			return
		}
		record.Kind = kind
	}
	if req.Title != nil {
		record.Title = *req.Title
	}
	if req.Body != nil {
		record.Body = *req.Body
	}
	if req.Link != nil {
		record.Link = *req.Link
	}
	if req.Icon != nil {
		record.Icon = *req.Icon
	}
	if req.User != nil {
		record.User = *req.User
	}
	if req.Sectors != nil {
		record.Sectors = *req.Sectors
	}
	if req.At != nil {
		if *req.At == "" {
			record.ScheduledAt = nil
		} else {
			parsed, err := time.Parse(time.RFC3339, *req.At)
			if err != nil {
				writeError(w, http.StatusBadRequest, "horário inválido")
				return
			}
			record.ScheduledAt = &parsed
		}
	}
	if req.Active != nil {
		record.Active = *req.Active
	}
	if req.Repeats != nil {
		record.MaxRepeats = clampNonNegative(req.Repeats)
	}
	if req.Interval != nil {
		record.IntervalMinutes = clampNonNegative(req.Interval)
	}
	if req.RepeatsSent != nil && *req.RepeatsSent >= 0 {
		record.RepeatsSent = *req.RepeatsSent
	}

	if err := s.st.Update(r.Context(), record); err != nil {
		s.log.Error().Err(err).Int64("id", id).Msg("failed to update notification")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}

	updated, err := s.st.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}
	writeEnvelope(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id inválido")
		return
	}

	record, err := s.st.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notificação não encontrada")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}

	if err := s.st.Delete(r.Context(), id); err != nil {
		s.log.Error().Err(err).Int64("id", id).Msg("failed to delete notification")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}

	writeEnvelope(w, http.StatusOK, map[string]any{
		"message":     "notificação excluída com sucesso",
		"notificacao": record,
	})
}

// handleStats returns dashboard statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.GetStats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to compute stats")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}
	writeEnvelope(w, http.StatusOK, stats)
}

// handleActiveUsers lists the open connection-history rows.
func (s *Server) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	conns, err := s.st.ActiveConnections(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list active connections")
		writeError(w, http.StatusInternalServerError, "erro interno do servidor")
		return
	}
	if conns == nil {
		conns = []store.Connection{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(conns)
}

func clampNonNegative(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	if n < 0 {
		n = 0
	}
	return &n
}
