package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"duochat/internal/auth"
	"duochat/internal/models"
	"duochat/internal/service/ai"
	"duochat/internal/service/assistant"
	"duochat/internal/service/duo"
	"duochat/internal/service/mail"
	"duochat/internal/storage"
	"duochat/internal/worker"
)

const maxImageBytes = 10 << 20

// ChatRouter is the provider surface the HTTP layer talks to.
type ChatRouter interface {
	Modes() []string
	HasMode(mode string) bool
	DisplayName(provider string) string
	Respond(ctx context.Context, mode, prompt string) ai.Result
	Stream(ctx context.Context, mode, prompt string, onChunk func(string) error) (ai.Result, error)
	DescribeImage(ctx context.Context, mode string, data []byte) (ai.Result, error)
}

// WorkerManager schedules provider calls and owns per-user session state.
type WorkerManager interface {
	Run(ctx context.Context, username string, fn func(ctx context.Context)) error
	State(username string) *models.SessionState
	UpdateState(username string, fn func(*models.SessionState) error) (*models.SessionState, error)
	ResetUser(username string)
}

// Deps groups everything the handler needs. Duo may be nil when fewer than
// two chat modes are configured.
type Deps struct {
	Assistant *assistant.Service
	Auth      *auth.Service
	Router    ChatRouter
	Duo       *duo.Service
	Composer  *mail.Composer
	Sender    *mail.Sender
	Workers   WorkerManager

	RequestsPerMinute int
	RequestTimeout    time.Duration
	StaticDir         string
}

// Handler wires HTTP routes to the chat, duo and mail services.
type Handler struct {
	assistant *assistant.Service
	auth      *auth.Service
	router    ChatRouter
	duo       *duo.Service
	composer  *mail.Composer
	sender    *mail.Sender
	workers   WorkerManager
	limiter   *userLimiter
	timeout   time.Duration
	staticDir string
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Handler{
		assistant: d.Assistant,
		auth:      d.Auth,
		router:    d.Router,
		duo:       d.Duo,
		composer:  d.Composer,
		sender:    d.Sender,
		workers:   d.Workers,
		limiter:   newUserLimiter(d.RequestsPerMinute),
		timeout:   timeout,
		staticDir: d.StaticDir,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestID())
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	userRoutes := api.Group("/users/:username")
	userRoutes.Use(h.auth.Middleware(), auth.RequirePathUser(), h.auth.CSRFMiddleware())
	limited := h.limiter.middleware()
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.GET("/state", h.getState)
	userRoutes.PUT("/state", h.putState)
	userRoutes.GET("/chats", h.listChats)
	userRoutes.POST("/chats", h.createChat)
	userRoutes.DELETE("/chats/:chat", h.deleteChat)
	userRoutes.GET("/chats/:chat/messages", h.getMessages)
	userRoutes.POST("/chats/:chat/messages", limited, h.postMessage)
	userRoutes.POST("/images/describe", limited, h.describeImage)

	userRoutes.GET("/duo", h.getDuo)
	userRoutes.POST("/duo/run", limited, h.runDuo)
	userRoutes.POST("/duo/synthesize", limited, h.synthesizeDuo)
	userRoutes.DELETE("/duo", h.clearDuo)
	userRoutes.POST("/duo/save", h.saveDuo)

	userRoutes.PUT("/mail/signature", h.putSignature)
	userRoutes.POST("/mail/compose", limited, h.composeMail)
	userRoutes.GET("/mail/draft", h.getDraft)
	userRoutes.PUT("/mail/draft", h.putDraft)
	userRoutes.POST("/mail/send", limited, h.sendMail)

	if h.staticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(h.staticDir))))
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "modes": h.router.Modes()})
}

// pathUser returns the authenticated user; RequirePathUser already matched it to the path.
func (h *Handler) pathUser(c *gin.Context) string {
	username, _ := auth.UsernameFromContext(c)
	return username
}

// runJob executes fn on the worker pool under the request timeout and writes
// a JSON error when the job could not run.
func (h *Handler) runJob(c *gin.Context, username string, fn func(ctx context.Context)) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.workers.Run(ctx, username, fn); err != nil {
		status, msg := jobError(err)
		c.JSON(status, gin.H{"error": msg})
		return false
	}
	return true
}

func jobError(err error) (int, string) {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, worker.ErrJobCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict, "request cancelled"
	}
	return http.StatusInternalServerError, err.Error()
}

func chatError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// User create&login interface
func (h *Handler) registerUser(c *gin.Context) {
	var req assistant.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.RegisterUser(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, storage.ErrUserExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"username":  user.Username,
		"has_email": user.HasMailCredentials(),
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.assistant.Login(req.Username, req.Password)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, assistant.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.auth.SetAuthCookies(c, authToken, csrfToken)

	chats, err := h.assistant.ListChats(user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	state, err := h.workers.UpdateState(user.Username, func(s *models.SessionState) error {
		if s.CurrentChat == "" && len(chats) > 0 {
			s.CurrentChat = chats[0].Name
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"username":   user.Username,
		"auth_token": authToken,
		"state":      state,
		"chats":      chats,
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	username := h.pathUser(c)
	h.workers.ResetUser(username)
	if c.Query("all") == "true" {
		if err := h.auth.RevokeUserTokens(c.Request.Context(), username); err != nil {
			log.Printf("revoke tokens for %s failed: %v", username, err)
		}
	} else if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			log.Printf("revoke token for %s failed: %v", username, err)
		}
	}
	h.auth.ClearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// Session state interface
func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":  h.workers.State(h.pathUser(c)),
		"modes":  h.router.Modes(),
		"styles": []models.Style{models.StyleProfessional, models.StyleFunnier, models.StyleKid},
	})
}

type stateRequest struct {
	Mode        *string `json:"mode"`
	Style       *string `json:"style"`
	CurrentChat *string `json:"current_chat"`
}

func (h *Handler) putState(c *gin.Context) {
	username := h.pathUser(c)
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Mode != nil && !h.router.HasMode(*req.Mode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported mode"})
		return
	}
	if req.Style != nil && !models.Style(*req.Style).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported style"})
		return
	}
	if req.CurrentChat != nil && *req.CurrentChat != "" {
		if _, err := h.assistant.Messages(username, *req.CurrentChat); err != nil {
			chatError(c, err)
			return
		}
	}
	state, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		if req.Mode != nil {
			s.Mode = *req.Mode
		}
		if req.Style != nil {
			s.Style = models.Style(*req.Style)
		}
		if req.CurrentChat != nil {
			s.CurrentChat = *req.CurrentChat
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// Chat interface
func (h *Handler) listChats(c *gin.Context) {
	username := h.pathUser(c)
	chats, err := h.assistant.ListChats(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chats":        chats,
		"current_chat": h.workers.State(username).CurrentChat,
	})
}

func (h *Handler) createChat(c *gin.Context) {
	username := h.pathUser(c)
	name, err := h.assistant.NewChat(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		s.CurrentChat = name
		return nil
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name, "current_chat": name})
}

func (h *Handler) deleteChat(c *gin.Context) {
	username := h.pathUser(c)
	chat := c.Param("chat")
	next, err := h.assistant.DeleteChat(username, chat)
	if err != nil {
		chatError(c, err)
		return
	}
	state, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		if s.CurrentChat == chat || s.CurrentChat == "" {
			s.CurrentChat = next
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_chat": state.CurrentChat})
}

func (h *Handler) getMessages(c *gin.Context) {
	chat := c.Param("chat")
	messages, err := h.assistant.Messages(h.pathUser(c), chat)
	if err != nil {
		chatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":     chat,
		"messages": messages,
	})
}

type messageRequest struct {
	Content string `json:"content"`
}

// postMessage streams one styled single-turn reply over SSE and stores the
// raw prompt with the reply. With ?stream=false the reply is returned as JSON.
func (h *Handler) postMessage(c *gin.Context) {
	username := h.pathUser(c)
	chat := c.Param("chat")
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
		return
	}
	if _, err := h.assistant.Messages(username, chat); err != nil {
		chatError(c, err)
		return
	}
	state, err := h.workers.UpdateState(username, func(s *models.SessionState) error {
		s.CurrentChat = chat
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.Query("stream") == "false" {
		h.replyOnce(c, username, chat, state, content)
		return
	}

	send, ok := startEventStream(c)
	if !ok {
		return
	}
	userMessage := models.Message{Role: models.RoleUser, Content: content}
	if err := send("ack", gin.H{
		"chat":    chat,
		"mode":    state.Mode,
		"style":   state.Style,
		"message": userMessage,
	}); err != nil {
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	prompt := ai.ApplyStyle(state.Style, content)
	var (
		result    ai.Result
		streamErr error
	)
	runErr := h.workers.Run(streamCtx, username, func(ctx context.Context) {
		result, streamErr = h.router.Stream(ctx, state.Mode, prompt, func(chunk string) error {
			return send("stream", gin.H{"content": chunk})
		})
	})
	if runErr != nil {
		_, msg := jobError(runErr)
		_ = send("error", gin.H{"message": msg})
		return
	}
	if streamErr != nil {
		log.Printf("stream to %s aborted: %v", username, streamErr)
		return
	}
	if err := h.assistant.AppendExchange(username, chat, content, result.Text); err != nil {
		_ = send("error", gin.H{"message": err.Error()})
		return
	}
	_ = send("done", gin.H{
		"chat":         chat,
		"user_message": userMessage,
		"ai_message":   models.Message{Role: models.RoleAssistant, Content: result.Text},
		"provider":     result.Provider,
		"model":        result.Model,
		"failed":       result.Failed,
	})
}

func (h *Handler) replyOnce(c *gin.Context, username, chat string, state *models.SessionState, content string) {
	prompt := ai.ApplyStyle(state.Style, content)
	var result ai.Result
	if !h.runJob(c, username, func(ctx context.Context) {
		result = h.router.Respond(ctx, state.Mode, prompt)
	}) {
		return
	}
	if err := h.assistant.AppendExchange(username, chat, content, result.Text); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat":         chat,
		"user_message": models.Message{Role: models.RoleUser, Content: content},
		"ai_message":   models.Message{Role: models.RoleAssistant, Content: result.Text},
		"provider":     result.Provider,
		"model":        result.Model,
		"failed":       result.Failed,
	})
}

// Image interface
func (h *Handler) describeImage(c *gin.Context) {
	username := h.pathUser(c)
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
		return
	}
	if len(data) > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	if _, err := ai.DetectImageType(data); err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}
	mode := h.workers.State(username).Mode
	var (
		result   ai.Result
		describe error
	)
	if !h.runJob(c, username, func(ctx context.Context) {
		result, describe = h.router.DescribeImage(ctx, mode, data)
	}) {
		return
	}
	if describe != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": describe.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":   mode,
		"result": result.Text,
		"failed": result.Failed,
	})
}
