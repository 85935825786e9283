package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/talklike/pkg/markov"
	"github.com/CTAG07/talklike/pkg/talklike"
	"github.com/go-chi/chi/v5"
)

// maxTrainBody bounds the size of a bulk training upload.
const maxTrainBody = 16 << 20

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// MessageResponse reports whether a message was used for training.
type MessageResponse struct {
	Trained bool `json:"trained"`
}

// GenerateResponse is the JSON response for a generation request.
type GenerateResponse struct {
	Target   string   `json:"target"`
	Texts    []string `json:"texts"`
	TTS      bool     `json:"tts"`
	Rejected int      `json:"rejected"`
}

// TrainResponse reports how many lines a bulk upload trained.
type TrainResponse struct {
	Lines int `json:"lines"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"users":  s.svc.Store().Len(),
	}
	if s.flusher != nil {
		resp["dirty"] = s.flusher.Dirty()
		if last := s.flusher.LastFlush(); !last.IsZero() {
			resp["last_flush"] = last
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg talklike.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	trained, err := s.svc.HandleMessage(r.Context(), msg)
	if err != nil {
		s.logger.Error("Failed to handle message", slog.String("user_id", msg.SenderID.String()), slog.Any("error", err))
		if !trained {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
			return
		}
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Trained: trained})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req talklike.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	res, err := s.svc.Generate(r.Context(), req)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, GenerateResponse{
			Target:   res.Target.String(),
			Texts:    res.Texts,
			TTS:      res.TTS,
			Rejected: res.Rejected,
		})
	case errors.Is(err, talklike.ErrInvalidTarget):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, markov.ErrNoData):
		respondWithError(w, http.StatusNotFound, talklike.Reply(err))
	case errors.Is(err, markov.ErrGenerationExhausted):
		respondWithError(w, http.StatusUnprocessableEntity, talklike.Reply(err))
	default:
		s.logger.Error("Generation failed", slog.String("target", req.Target), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, talklike.Reply(err))
	}
}

// userParam parses the {id} URL parameter, writing a 400 if it is invalid.
func userParam(w http.ResponseWriter, r *http.Request) (markov.UserID, bool) {
	user, err := markov.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid user ID format in URL")
		return 0, false
	}
	return user, true
}

func (s *Server) handleTrainText(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	lines, err := s.svc.TrainText(r.Context(), user, http.MaxBytesReader(w, r.Body, maxTrainBody))
	if err != nil {
		s.logger.Error("Failed to train from upload", slog.String("user_id", user.String()), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed after %d lines: %v", lines, err))
		return
	}
	respondWithJSON(w, http.StatusOK, TrainResponse{Lines: lines})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	if err := s.svc.Clear(r.Context(), user); err != nil {
		s.logger.Error("Failed to save after clear", slog.String("user_id", user.String()), slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	stats, found := s.svc.UserStats(user)
	if !found {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.svc.Export(user, &buf); err != nil {
		if errors.Is(err, markov.ErrNoData) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		s.logger.Error("Failed to export chain", slog.String("user_id", user.String()), slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.chain\"", user))
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Flush(r.Context()); err != nil {
		s.logger.Error("Manual flush failed", slog.Any("error", err))
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Flush failed: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, s.svc.Stats())
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		err := json.NewEncoder(w).Encode(payload)
		if err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
