package api

import (
	"net/http"
	"strings"

	"github.com/nugget/resume-interviewer/internal/cv"
	"github.com/nugget/resume-interviewer/internal/interview"
)

// AnswerRequest answers the pending question.
type AnswerRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ChatRequest is a free-form conversational message.
type ChatRequest struct {
	Message string `json:"message"`
}

// ContinueRequest resumes a specific profile.
type ContinueRequest struct {
	ProfileID string `json:"profile_id"`
}

// DocumentRequest carries the text of an uploaded resume.
type DocumentRequest struct {
	Text string `json:"text"`
}

// MergeRequest carries already extracted resume data.
type MergeRequest struct {
	Data map[string]any `json:"data"`
}

// EmailRequest addresses the resume email.
type EmailRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, v, s.logger)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Start(r.Context(), r.PathValue("subject"))
	s.reply(w, r, rep, err)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Field == "" {
		s.errorResponse(w, http.StatusBadRequest, "field is required")
		return
	}
	rep, err := s.svc.Answer(r.Context(), r.PathValue("subject"), req.Field, req.Value)
	s.reply(w, r, rep, err)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	rep, err := s.svc.Chat(r.Context(), r.PathValue("subject"), req.Message)
	s.reply(w, r, rep, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Reset(r.Context(), r.PathValue("subject"))
	s.reply(w, r, rep, err)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req ContinueRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ProfileID == "" {
		s.errorResponse(w, http.StatusBadRequest, "profile_id is required")
		return
	}
	rep, err := s.svc.Continue(r.Context(), r.PathValue("subject"), req.ProfileID)
	s.reply(w, r, rep, err)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !s.decode(w, r, &req) {
		return
	}
	rep, err := s.svc.ExtractDocument(r.Context(), r.PathValue("subject"), req.Text)
	s.reply(w, r, rep, err)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "data is required")
		return
	}
	rep, err := s.svc.MergeExtracted(r.Context(), r.PathValue("subject"), req.Data)
	s.reply(w, r, rep, err)
}

// handleCV renders the resume. The format query parameter selects
// markdown (default, JSON envelope), html, vcard or qr.
func (s *Server) handleCV(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.CV(r.Context(), r.PathValue("subject"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" || format == "markdown" {
		writeJSON(w, view, s.logger)
		return
	}
	if format == "html" {
		body, err := cv.HTML(view.Markdown)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeBody(w, "text/html; charset=utf-8", "", body)
		return
	}

	if view.Profile == nil {
		s.errorResponse(w, http.StatusNotFound, "resume not started")
		return
	}
	switch format {
	case "vcard":
		body, err := cv.VCard(view.Profile)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeBody(w, "text/vcard; charset=utf-8", "contact.vcf", body)
	case "qr":
		body, err := cv.QR(view.Profile)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeBody(w, "image/png", "", body)
	default:
		s.errorResponse(w, http.StatusBadRequest, "unknown format "+format)
	}
}

func (s *Server) writeBody(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("failed to write response body", "error", err)
	}
}

// handleCVEmail sends the finished resume to the given recipients.
func (s *Server) handleCVEmail(w http.ResponseWriter, r *http.Request) {
	if !s.smtp.Configured() {
		s.errorResponse(w, http.StatusNotImplemented, "email delivery is not configured")
		return
	}
	var req EmailRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.To) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "to is required")
		return
	}

	subject := r.PathValue("subject")
	view, err := s.svc.CV(r.Context(), subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if view.Status != interview.CVCompleted {
		s.errorResponse(w, http.StatusConflict, "resume is not complete")
		return
	}

	msg, err := cv.Message(s.source.Schema(), view.Profile, cv.MessageOptions{
		From:    s.smtp.From,
		To:      req.To,
		Subject: req.Subject,
	})
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.send(r.Context(), s.smtp, req.To, msg); err != nil {
		s.logger.Error("resume email failed", "subject", subject, "error", err)
		s.errorResponse(w, http.StatusBadGateway, "email delivery failed")
		return
	}

	s.logger.Info("resume emailed", "subject", subject, "recipients", len(req.To))
	writeJSON(w, map[string]any{"status": "sent", "profile_id": view.ProfileID}, s.logger)
}
