package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"duochat/internal/models"
	"duochat/internal/service/duo"
)

// duoReady writes an error when duo mode is not configured.
func (h *Handler) duoReady(c *gin.Context) bool {
	if h.duo == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": duo.ErrNeedsTwoModes.Error()})
		return false
	}
	return true
}

func (h *Handler) duoPayload(state models.DuoState) gin.H {
	left, right := h.duo.Sides()
	outputs := state.Outputs
	if outputs == nil {
		outputs = map[string]string{}
	}
	return gin.H{
		"sides": []gin.H{
			{"provider": left, "display_name": h.router.DisplayName(left), "output": outputs[left]},
			{"provider": right, "display_name": h.router.DisplayName(right), "output": outputs[right]},
		},
		"last_prompt": state.LastPrompt,
		"outputs":     outputs,
		"synthesis":   state.Synthesis,
	}
}

func (h *Handler) getDuo(c *gin.Context) {
	if !h.duoReady(c) {
		return
	}
	c.JSON(http.StatusOK, h.duoPayload(h.workers.State(h.pathUser(c)).Duo))
}

type duoRunRequest struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) runDuo(c *gin.Context) {
	if !h.duoReady(c) {
		return
	}
	username := h.pathUser(c)
	var req duoRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	prev := h.workers.State(username).Duo
	var (
		next   models.DuoState
		runErr error
	)
	if !h.runJob(c, username, func(ctx context.Context) {
		next, runErr = h.duo.Run(ctx, prev, req.Prompt)
	}) {
		return
	}
	if runErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": runErr.Error()})
		return
	}
	h.storeDuo(c, username, next)
}

type synthesizeRequest struct {
	Instruction string `json:"instruction"`
}

func (h *Handler) synthesizeDuo(c *gin.Context) {
	if !h.duoReady(c) {
		return
	}
	username := h.pathUser(c)
	var req synthesizeRequest
	// an empty body falls back to the default instruction
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	current := h.workers.State(username).Duo
	var (
		next   models.DuoState
		synErr error
	)
	if !h.runJob(c, username, func(ctx context.Context) {
		next, synErr = h.duo.Synthesize(ctx, current, req.Instruction)
	}) {
		return
	}
	if synErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": synErr.Error()})
		return
	}
	h.storeDuo(c, username, next)
}

func (h *Handler) clearDuo(c *gin.Context) {
	if !h.duoReady(c) {
		return
	}
	h.storeDuo(c, h.pathUser(c), duo.Clear())
}

func (h *Handler) storeDuo(c *gin.Context, username string, next models.DuoState) {
	state, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		s.Duo = next
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.duoPayload(state.Duo))
}

func (h *Handler) saveDuo(c *gin.Context) {
	if !h.duoReady(c) {
		return
	}
	username := h.pathUser(c)
	state := h.workers.State(username)
	if state.Duo.LastPrompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": duo.ErrNoOutputs.Error()})
		return
	}
	if err := h.duo.SaveToChat(username, state.CurrentChat, state.Duo); err != nil {
		if errors.Is(err, duo.ErrNoCurrentChat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": state.CurrentChat, "message": "✅ Debate saved to " + state.CurrentChat})
}
