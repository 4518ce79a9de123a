package relay

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/lunalabs/luna-relay/internal/storage"
)

// maxAudioUpload caps recorded audio uploads (devices send short clips).
const maxAudioUpload = 10 << 20

// Handler exposes the device-facing HTTP API: conversation turns, explicit
// conversation end, and flagging.
type Handler struct {
	svc *Service
	log *log.Logger
}

// NewHandler builds the HTTP handler for a relay service.
func NewHandler(svc *Service, logger *log.Logger) *Handler {
	return &Handler{svc: svc, log: logger.With("component", "http")}
}

// Register mounts the relay routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/turns/text", h.textTurn)
	mux.HandleFunc("POST /v1/turns/audio", h.audioTurn)
	mux.HandleFunc("POST /v1/conversations/end", h.endConversation)
	mux.HandleFunc("PUT /v1/conversations/flag", h.flagConversation)
}

type turnRequest struct {
	UserID  string `json:"userId"`
	ChildID string `json:"childId"`
	ToyID   string `json:"toyId"`
	Text    string `json:"text"`
}

type turnResponse struct {
	ConversationID string `json:"conversationId"`
	Transcript     string `json:"transcript"`
	Reply          string `json:"reply"`
	Audio          string `json:"audio,omitempty"` // base64 when TTS is enabled
}

func (h *Handler) textTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ChildID == "" || req.ToyID == "" || req.Text == "" {
		h.error(w, http.StatusBadRequest, "userId, childId, toyId, and text are required")
		return
	}

	result, err := h.svc.ProcessText(r.Context(), storage.Scope{UserID: req.UserID, ChildID: req.ChildID}, req.ToyID, req.Text)
	if err != nil {
		h.log.Error("text turn failed", "toy", req.ToyID, "error", err)
		h.error(w, http.StatusInternalServerError, "failed to process turn")
		return
	}
	h.writeTurn(w, result)
}

func (h *Handler) audioTurn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		h.error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	userID := r.FormValue("userId")
	childID := r.FormValue("childId")
	toyID := r.FormValue("toyId")
	if userID == "" || childID == "" || toyID == "" {
		h.error(w, http.StatusBadRequest, "userId, childId, and toyId are required")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		h.error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		h.error(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	result, err := h.svc.ProcessAudio(r.Context(), storage.Scope{UserID: userID, ChildID: childID}, toyID, audio, header.Filename)
	if err != nil {
		h.log.Error("audio turn failed", "toy", toyID, "error", err)
		h.error(w, http.StatusInternalServerError, "failed to process turn")
		return
	}
	h.writeTurn(w, result)
}

type endRequest struct {
	UserID         string `json:"userId"`
	ChildID        string `json:"childId"`
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

func (h *Handler) endConversation(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ChildID == "" || req.ConversationID == "" {
		h.error(w, http.StatusBadRequest, "userId, childId, and conversationId are required")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = EndReasonExplicit
	}

	scope := storage.Scope{UserID: req.UserID, ChildID: req.ChildID}
	if err := h.svc.EndConversation(r.Context(), scope, req.ConversationID, reason); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.log.Error("end conversation failed", "conversation", req.ConversationID, "error", err)
		h.error(w, http.StatusInternalServerError, "failed to end conversation")
		return
	}
	h.json(w, http.StatusOK, map[string]string{"status": "ended"})
}

type flagRequest struct {
	UserID         string `json:"userId"`
	ChildID        string `json:"childId"`
	ConversationID string `json:"conversationId"`
	Flagged        *bool  `json:"flagged"`
}

func (h *Handler) flagConversation(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ChildID == "" || req.ConversationID == "" {
		h.error(w, http.StatusBadRequest, "userId, childId, and conversationId are required")
		return
	}
	flagged := true
	if req.Flagged != nil {
		flagged = *req.Flagged
	}

	scope := storage.Scope{UserID: req.UserID, ChildID: req.ChildID}
	if err := h.svc.FlagConversation(r.Context(), scope, req.ConversationID, flagged); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.log.Error("flag conversation failed", "conversation", req.ConversationID, "error", err)
		h.error(w, http.StatusInternalServerError, "failed to flag conversation")
		return
	}
	h.json(w, http.StatusOK, map[string]bool{"flagged": flagged})
}

func (h *Handler) writeTurn(w http.ResponseWriter, result *TurnResult) {
	resp := turnResponse{
		ConversationID: result.ConversationID,
		Transcript:     result.Transcript,
		Reply:          result.Reply,
	}
	if len(result.Audio) > 0 {
		resp.Audio = base64.StdEncoding.EncodeToString(result.Audio)
	}
	h.json(w, http.StatusOK, resp)
}

func (h *Handler) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) error(w http.ResponseWriter, status int, msg string) {
	h.json(w, status, map[string]string{"error": msg})
}
