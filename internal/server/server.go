// Package server exposes the chat shell over HTTP (gin) and websockets.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/nubank/calma-backend/internal"
	"github.com/nubank/calma-backend/internal/chat"
	"github.com/nubank/calma-backend/internal/store"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "session_id"
)

type Options struct {
	AllowedOrigins []string
	// IntentCount reports the size of the live dataset for /api/model.
	IntentCount func() int
	// SessionIdleTTL and JanitorSchedule drive the idle session sweep.
	SessionIdleTTL  time.Duration
	JanitorSchedule string
}

type Server struct {
	shell    *chat.Shell
	sessions *chat.Registry
	opts     Options
	origins  map[string]bool
	started  time.Time
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

func New(shell *chat.Shell, sessions *chat.Registry, opts Options) *Server {
	s := &Server{
		shell:    shell,
		sessions: sessions,
		opts:     opts,
		origins:  make(map[string]bool, len(opts.AllowedOrigins)),
		started:  time.Now(),
	}
	for _, o := range opts.AllowedOrigins {
		if o != "" {
			s.origins[o] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), s.cors)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "uptime": time.Since(s.started).Round(time.Second).String()})
	})

	api := r.Group("/api", s.withSession)
	api.GET("/model", s.getModel)
	api.GET("/messages", s.getMessages)
	api.POST("/messages", s.postMessage)
	api.POST("/reset", s.postReset)
	api.GET("/sessions", s.getSessions)
	api.POST("/sessions/:index/restore", s.postRestore)
	api.GET("/questions", s.getQuestions)
	api.POST("/questions/:index", s.postQuestion)

	r.GET("/ws", s.withSession, s.serveWS)
	return r
}

// cors echoes allowed origins back with credentials enabled. A "*" entry
// allows every origin.
func (s *Server) cors(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if origin != "" && (s.origins["*"] || s.origins[origin]) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", SessionHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}
	return s.origins["*"] || s.origins[origin]
}

const sessionKey = "session"

// withSession resolves the caller's session from the header, the cookie or
// the session_id query parameter, issuing a new ID when none is valid.
func (s *Server) withSession(c *gin.Context) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		id, _ = c.Cookie(SessionCookie)
	}
	if id == "" {
		id = c.Query("session_id")
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	c.Header(SessionHeader, id)
	c.SetCookie(SessionCookie, id, 0, "/", "", false, true)
	c.Set(sessionKey, s.sessions.Get(id))
	c.Next()
}

func session(c *gin.Context) *chat.Session {
	return c.MustGet(sessionKey).(*chat.Session)
}

func (s *Server) getModel(c *gin.Context) {
	resp := gin.H{"model": s.shell.Model()}
	if s.opts.IntentCount != nil {
		resp["intents"] = s.opts.IntentCount()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getMessages(c *gin.Context) {
	sess := session(c)
	c.JSON(http.StatusOK, internal.ChatHistory{SessionID: sess.ID, Messages: sess.Messages()})
}

func (s *Server) postMessage(c *gin.Context) {
	var req internal.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	ex, err := s.shell.Submit(c.Request.Context(), session(c), req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sendResponse(ex))
}

func (s *Server) sendResponse(ex chat.Exchange) internal.SendMessageResponse {
	return internal.SendMessageResponse{
		Reply:     ex.Reply,
		Tag:       ex.Tag,
		Proactive: ex.Proactive,
		Model:     s.shell.Model(),
	}
}

func (s *Server) postReset(c *gin.Context) {
	entry, err := s.shell.Archive(c.Request.Context(), session(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "archived": entry.Name})
}

func (s *Server) getSessions(c *gin.Context) {
	sess := session(c)
	list, err := s.shell.Archives(c.Request.Context(), sess)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, internal.SessionList{SessionID: sess.ID, Sessions: list})
}

func (s *Server) postRestore(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
		return
	}
	sess := session(c)
	if _, err := s.shell.Restore(c.Request.Context(), sess, index); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, internal.ChatHistory{SessionID: sess.ID, Messages: sess.Messages()})
}

func (s *Server) getQuestions(c *gin.Context) {
	c.JSON(http.StatusOK, internal.QuickQuestionsResponse{Questions: chat.QuickQuestions()})
}

func (s *Server) postQuestion(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index >= len(chat.QuickQuestions()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown question"})
		return
	}
	ex, err := s.shell.AskQuickQuestion(c.Request.Context(), session(c), index)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sendResponse(ex))
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrArchiveIndex):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("[server] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// StartJanitor schedules the idle session sweep. The returned cron must be
// stopped by the caller.
func (s *Server) StartJanitor(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	if s.opts.SessionIdleTTL <= 0 || s.opts.JanitorSchedule == "" {
		return c, nil
	}
	_, err := c.AddFunc(s.opts.JanitorSchedule, func() {
		if n := s.shell.Sweep(ctx, s.sessions, s.opts.SessionIdleTTL); n > 0 {
			log.Printf("[janitor] evicted %d idle session(s)", n)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Printf("[server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
