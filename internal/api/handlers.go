package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ProcessRequest is the body of POST /messages.
type ProcessRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	Phone   string `json:"phone,omitempty"`
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"strategies": s.engine.Strategies(),
	}))
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.processHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyUserID.Error()))
		return
	}

	resp := s.engine.Process(r.Context(), req.Message, req.UserID, req.Phone)
	resp.SetMeta("http_request_id", middleware.GetReqID(r.Context()))
	slog.Debug("Server.processHandler: processed", "user_id", req.UserID, "strategy", resp.StrategyUsed, "success", resp.Success)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: body"))
		return
	}
	to, err := s.opts.MsgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.opts.MsgService.SendMessage(r.Context(), to, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", to)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.sendHandler: message sent successfully", "to", to)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.Stats()))
}

func (s *Server) performanceHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.PerformanceReport()))
}

func (s *Server) resetStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetStats()
	slog.Info("Server.resetStatsHandler: statistics reset")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Statistics reset", nil))
}

func (s *Server) strategiesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.Strategies()))
}

func (s *Server) removeStrategyHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.engine.RemoveStrategy(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, strategy.ErrFallbackStrategyProtected) {
			status = http.StatusConflict
		}
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Strategy removed", s.engine.Strategies()))
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.engine.CacheStats()))
}

func (s *Server) cacheCleanupHandler(w http.ResponseWriter, r *http.Request) {
	removed := s.engine.CleanupCaches()
	slog.Info("Server.cacheCleanupHandler: expired entries removed", "count", removed)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"removed": removed}))
}

func (s *Server) conversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	turns, err := s.history.RecentTurns(userID, limit)
	if err != nil {
		slog.Error("Server.conversationHandler: failed to load turns", "error", err, "user_id", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turns))
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.history.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to load receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
