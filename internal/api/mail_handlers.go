package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"duochat/internal/models"
	"duochat/internal/service/assistant"
	"duochat/internal/service/mail"
)

type signatureRequest struct {
	Signature string `json:"signature"`
}

func (h *Handler) putSignature(c *gin.Context) {
	var req signatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	state, err := h.workers.UpdateState(h.pathUser(c), func(s *models.SessionState) error {
		s.Mail.Signature = req.Signature
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state.Mail)
}

type composeRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) composeMail(c *gin.Context) {
	username := h.pathUser(c)
	var req composeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": mail.ErrEmptyPrompt.Error()})
		return
	}
	var (
		draft      string
		composeErr error
	)
	if !h.runJob(c, username, func(ctx context.Context) {
		draft, composeErr = h.composer.Compose(ctx, req.Prompt)
	}) {
		return
	}
	if composeErr != nil {
		log.Printf("compose mail for %s failed: %v", username, composeErr)
		c.JSON(http.StatusBadGateway, gin.H{"error": composeErr.Error()})
		return
	}
	state, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		s.Mail.Draft = draft
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state.Mail)
}

func (h *Handler) getDraft(c *gin.Context) {
	c.JSON(http.StatusOK, h.workers.State(h.pathUser(c)).Mail)
}

type draftRequest struct {
	Draft string `json:"draft"`
}

func (h *Handler) putDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	state, err := h.workers.UpdateState(h.pathUser(c), func(s *models.SessionState) error {
		s.Mail.Draft = req.Draft
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state.Mail)
}

type sendRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	DearName string `json:"dear_name"`
	// Body overrides the stored draft when set.
	Body string `json:"body"`
}

func (h *Handler) sendMail(c *gin.Context) {
	username := h.pathUser(c)
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	from, appPassword, err := h.assistant.MailCredentials(username)
	if err != nil {
		if errors.Is(err, assistant.ErrMailNotConfigured) {
			c.JSON(http.StatusBadRequest, gin.H{"error": mail.ErrMissingCredentials.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	state := h.workers.State(username)
	body := req.Body
	if strings.TrimSpace(body) == "" {
		body = state.Mail.Draft
	}
	env := mail.Envelope{
		From:        from,
		AppPassword: appPassword,
		To:          strings.TrimSpace(req.To),
		Subject:     req.Subject,
		DearName:    strings.TrimSpace(req.DearName),
		Body:        body,
		Signature:   state.Mail.Signature,
	}
	if _, err := mail.BuildMessage(env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var sendErr error
	if !h.runJob(c, username, func(ctx context.Context) {
		sendErr = h.sender.Send(ctx, env)
	}) {
		return
	}
	if sendErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sendErr.Error()})
		return
	}
	if _, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		s.Mail.Draft = ""
		return nil
	}); err != nil {
		log.Printf("clear draft for %s failed: %v", username, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "✅ Email sent successfully to " + env.To})
}
