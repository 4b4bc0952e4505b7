package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"registro/internal/backup"
	"registro/internal/core"
	"registro/internal/report"
	"registro/internal/services"
	"registro/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusForSaveError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidStatus),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrNegativeAmount),
		errors.Is(err, core.ErrMissingTitle),
		errors.Is(err, core.ErrMissingID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type saveResponse struct {
	Sync string `json:"sync"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.WorkEntries(r.Context()))
}

func (s *Server) handleSaveEntry(w http.ResponseWriter, r *http.Request) {
	var entry core.WorkEntry
	if err := decodeBody(r, &entry); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Day slots reconstruct their id from the date; extra services need one.
	if entry.ID == "" && entry.Status == core.ExtraService {
		entry.ID = uuid.NewString()
	}

	outcome, err := s.tracker.SaveWorkEntry(r.Context(), session.FromContext(r.Context()), entry)
	if err != nil {
		respondError(w, statusForSaveError(err), err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.tracker.DeleteWorkEntry(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleListAdvances(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.Advances(r.Context()))
}

func (s *Server) handleSaveAdvance(w http.ResponseWriter, r *http.Request) {
	var advance core.AdvanceEntry
	if err := decodeBody(r, &advance); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if advance.ID == "" {
		advance = core.NewAdvance(advance.Date, advance.Amount, advance.Note)
	}

	outcome, err := s.tracker.SaveAdvance(r.Context(), session.FromContext(r.Context()), advance)
	if err != nil {
		respondError(w, statusForSaveError(err), err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleDeleteAdvance(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.tracker.DeleteAdvance(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.Expenses(r.Context()))
}

func (s *Server) handleSaveExpense(w http.ResponseWriter, r *http.Request) {
	var expense core.ExpenseEntry
	if err := decodeBody(r, &expense); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if expense.ID == "" {
		expense = core.NewExpense(expense.Date, expense.Amount, expense.Note)
	}

	outcome, err := s.tracker.SaveExpense(r.Context(), session.FromContext(r.Context()), expense)
	if err != nil {
		respondError(w, statusForSaveError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.tracker.DeleteExpense(r.Context(), session.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.tracker.Settings(r.Context()))
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var patch core.SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Partial updates: unknown keys were already rejected, absent keys keep
	// their stored value.
	settings := patch.Overlay(s.tracker.Settings(r.Context()))
	outcome, err := s.tracker.SaveSettings(r.Context(), session.FromContext(r.Context()), settings)
	if err != nil {
		respondError(w, statusForSaveError(err), err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sel := parseSelection(r, func() report.Selection {
		return s.tracker.CycleSelection(r.Context())
	})

	key := sel.Label()
	if rep, ok := s.reportCache.Get(key); ok {
		respondJSON(w, http.StatusOK, rep)
		return
	}
	rep := s.tracker.Report(r.Context(), sel)
	s.reportCache.Set(key, rep)
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if !sess.Authenticated() {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.tracker.BeginSession(r.Context(), sess); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, map[string]string{"user_id": sess.UserID})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.EndSession(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	outcome := s.tracker.SyncAll(r.Context(), session.FromContext(r.Context()))
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	err := s.tracker.PullAll(r.Context(), session.FromContext(r.Context()))
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "authentication required")
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.reportCache.Purge()
		respondJSON(w, http.StatusOK, map[string]string{"status": "pulled"})
	}
}

type closeCycleRequest struct {
	Date core.Date `json:"date"`
}

func (s *Server) handleCloseCycle(w http.ResponseWriter, r *http.Request) {
	// An empty body closes the cycle as of today.
	var req closeCycleRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Date == "" {
		req.Date = core.Today()
	}

	outcome, err := s.tracker.CloseCycle(r.Context(), session.FromContext(r.Context()), req.Date)
	if err != nil {
		respondError(w, statusForSaveError(err), err.Error())
		return
	}
	s.reportCache.Purge()
	respondJSON(w, http.StatusOK, saveResponse{Sync: outcome.String()})
}

func (s *Server) handleExportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.tracker.Export(r.Context()).Encode()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="registro-backup.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	err = s.tracker.Import(r.Context(), session.FromContext(r.Context()), data)
	switch {
	case errors.Is(err, backup.ErrInvalidDocument):
		respondError(w, http.StatusUnprocessableEntity, "invalid backup document")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.reportCache.Purge()
		respondJSON(w, http.StatusOK, map[string]string{"status": "restored"})
	}
}

func (s *Server) handleReminderDue(w http.ResponseWriter, r *http.Request) {
	due := s.tracker.ReminderDue(r.Context(), time.Now())
	respondJSON(w, http.StatusOK, map[string]bool{"due": due})
}

func (s *Server) handleReminderAck(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.MarkReminded(r.Context(), core.Today()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
