package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"site-forms/internal/config"
	"site-forms/internal/notify"
	"site-forms/internal/security"
	"site-forms/internal/store"
)

const (
	maxFormBytes  = 64 << 10
	honeypotField = "bot-field"

	// Shown for every CSRF rejection; the reason stays in the logs.
	msgVerificationFailed = "Your submission could not be verified. Please refresh the page and try again."
)

type RateLimiter interface {
	CheckLimit(clientID string, maxRequests int) security.Decision
}

type DuplicateDetector interface {
	SeenRecently(key string, window time.Duration) bool
}

type Notifier interface {
	Forward(ctx context.Context, message notify.Message) error
}

// Server HTTP surface for the site's forms
type Server struct {
	cfg         config.Config
	logger      *zap.Logger
	limiter     RateLimiter
	dedupe      DuplicateDetector
	csrf        *security.CSRFValidator
	submissions *store.SubmissionStore
	notifier    Notifier
	engine      *gin.Engine
}

func NewServer(
	cfg config.Config,
	logger *zap.Logger,
	limiter RateLimiter,
	dedupe DuplicateDetector,
	csrf *security.CSRFValidator,
	submissions *store.SubmissionStore,
	notifier Notifier,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		cfg:         cfg,
		logger:      logger,
		limiter:     limiter,
		dedupe:      dedupe,
		csrf:        csrf,
		submissions: submissions,
		notifier:    notifier,
		engine:      gin.New(),
	}

	server.engine.Use(gin.Recovery(), requestLogger(logger))
	server.registerRoutes()

	return server
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
	})

	api.GET("/csrf-token", RateLimit(s.limiter, "token", s.cfg.TokenLimitPerWindow), s.handleCSRFToken)
	api.POST("/contact", RateLimit(s.limiter, "contact", s.cfg.ContactLimitPerWindow), s.handleContact)
}

func (s *Server) handleCSRFToken(c *gin.Context) {
	token, expiresAt, err := s.csrf.Issue("", s.cfg.CSRFTokenTTL)
	if err != nil {
		s.logger.Error("csrf token issue failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Could not prepare the form. Please try again later.")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"field":      security.DefaultCSRFField,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleContact(c *gin.Context) {
	form, err := readForm(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "Invalid form submission.")
		return
	}

	if !s.csrf.ValidateFormToken(form, security.DefaultCSRFField) {
		writeError(c, http.StatusForbidden, msgVerificationFailed)
		return
	}

	clientID := clientIDFrom(c)
	if bot, _ := form[honeypotField].(string); strings.TrimSpace(bot) != "" {
		s.logger.Info("honeypot field filled, dropping submission", zap.String("client_hash", hashString(clientID)))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	req := contactFromForm(form)
	req.Normalize()
	if err := req.Validate(); err != nil {
		if typed, ok := err.(apiError); ok {
			writeError(c, typed.Code, typed.Message)
			return
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	dedupeKey := security.SubmissionKey(clientID, strings.ToLower(req.Email), req.Message)
	if s.dedupe.SeenRecently(dedupeKey, s.cfg.DuplicateWindow) {
		writeError(c, http.StatusConflict, "We already received this message.")
		return
	}

	submission := store.Submission{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		Organization: req.Organization,
		Phone:        req.Phone,
		Subject:      req.Subject,
		Message:      req.Message,
		ClientIPHash: hashString(clientID),
		ReceivedAt:   time.Now().UTC(),
	}
	if err := s.submissions.Save(submission); err != nil {
		s.logger.Error("save submission failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Could not save your message. Please try again later.")
		return
	}

	if err := s.notifier.Forward(c.Request.Context(), toMessage(submission)); err != nil {
		s.logger.Warn("forward submission failed", zap.String("id", submission.ID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": submission.ID})
}

// readForm decodes a JSON object or a url-encoded/multipart body into a flat map.
func readForm(c *gin.Context) (map[string]any, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFormBytes)

	switch c.ContentType() {
	case gin.MIMEJSON:
		form := make(map[string]any)
		if err := json.NewDecoder(c.Request.Body).Decode(&form); err != nil {
			return nil, err
		}
		if form == nil {
			return nil, io.ErrUnexpectedEOF
		}
		return form, nil
	case gin.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxFormBytes); err != nil {
			return nil, err
		}
	default:
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
	}

	return lo.MapValues(map[string][]string(c.Request.PostForm), func(values []string, _ string) any {
		return lo.FirstOrEmpty(values)
	}), nil
}

func toMessage(submission store.Submission) notify.Message {
	return notify.Message{
		ID:           submission.ID,
		Name:         submission.Name,
		Email:        submission.Email,
		Organization: submission.Organization,
		Phone:        submission.Phone,
		Subject:      submission.Subject,
		Message:      submission.Message,
		ReceivedAt:   submission.ReceivedAt,
	}
}

func hashString(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])
}

func writeError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   message,
	})
}
