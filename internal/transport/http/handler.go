package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"

	"github.com/go-playground/validator/v10"
)

// Handler exposes the quiz and quest use cases as JSON over HTTP.
type Handler struct {
	quizzes  *app.QuizService
	quests   *app.QuestService
	validate *validator.Validate
}

func NewHandler(quizzes *app.QuizService, quests *app.QuestService) *Handler {
	return &Handler{quizzes: quizzes, quests: quests, validate: validator.New()}
}

type createQuizRequest struct {
	TeacherID string `json:"teacherId" validate:"required"`
	app.QuizDraft
}

type submitAttemptRequest struct {
	StudentID string   `json:"studentId" validate:"required"`
	Answers   []string `json:"answers" validate:"required"`
}

type createQuestRequest struct {
	TeacherID string `json:"teacherId" validate:"required"`
	app.QuestDraft
}

type archiveQuestRequest struct {
	TeacherID string `json:"teacherId" validate:"required"`
}

type claimQuestRequest struct {
	StudentID string `json:"studentId" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /quizzes", h.createQuiz)
	mux.HandleFunc("POST /quizzes/{quizID}/attempts", h.submitAttempt)
	mux.HandleFunc("POST /quests", h.createQuest)
	mux.HandleFunc("POST /quests/{questID}/archive", h.archiveQuest)
	mux.HandleFunc("POST /quests/{questID}/claim", h.claimQuest)
	mux.HandleFunc("GET /students/{studentID}/quests/progress", h.questProgress)
	mux.HandleFunc("GET /students/{studentID}/quests", h.activeQuests)
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if !h.decode(w, r, &req) {
		return
	}
	quiz, err := h.quizzes.CreateQuiz(r.Context(), req.TeacherID, req.QuizDraft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitAttemptRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.quizzes.SubmitAttempt(r.Context(), r.PathValue("quizID"), req.StudentID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) createQuest(w http.ResponseWriter, r *http.Request) {
	var req createQuestRequest
	if !h.decode(w, r, &req) {
		return
	}
	quest, err := h.quests.CreateQuest(r.Context(), req.TeacherID, req.QuestDraft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quest)
}

func (h *Handler) archiveQuest(w http.ResponseWriter, r *http.Request) {
	var req archiveQuestRequest
	if !h.decode(w, r, &req) {
		return
	}
	quest, err := h.quests.ArchiveQuest(r.Context(), r.PathValue("questID"), req.TeacherID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quest)
}

func (h *Handler) claimQuest(w http.ResponseWriter, r *http.Request) {
	var req claimQuestRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.quests.Claim(r.Context(), r.PathValue("questID"), req.StudentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) questProgress(w http.ResponseWriter, r *http.Request) {
	report, err := h.quests.Progress(r.Context(), r.PathValue("studentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) activeQuests(w http.ResponseWriter, r *http.Request) {
	teacherID := r.URL.Query().Get("teacherId")
	if teacherID == "" {
		writeError(w, fmt.Errorf("%w: missing teacherId", domain.ErrInvalid))
		return
	}
	quests, err := h.quests.ListActive(r.Context(), r.PathValue("studentID"), teacherID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quests)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalid, err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalid, err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyDone):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRequirementsNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: domain.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}
