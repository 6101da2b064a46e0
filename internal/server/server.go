package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	coreanalysis "github.com/park285/cheese-analyzer/internal/analysis"
	"github.com/park285/cheese-analyzer/internal/domain"
	svcanalysis "github.com/park285/cheese-analyzer/internal/service/analysis"
	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxRecentLimit      = 200
	feedRoute           = "/v1/feed"
)

// AnalysisService is what the HTTP surface needs from the analysis service.
type AnalysisService interface {
	Analyze(ctx context.Context, req analysisdto.AnalyzeRequest) (*analysisdto.Submission, error)
	Stop()
	State() coreanalysis.State
	Recent(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error)
}

type Options struct {
	Addr         string
	WriteTimeout time.Duration
	// OriginPatterns is passed to the websocket handshake. Empty means same
	// origin only.
	OriginPatterns []string
	Logger         *zap.Logger
}

type Server struct {
	svc    AnalysisService
	hub    *Hub
	opts   Options
	logger *zap.Logger
	router *gin.Engine
	mux    *http.ServeMux
	http   *http.Server
}

func New(svc AnalysisService, hub *Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	s := &Server{
		svc:    svc,
		hub:    hub,
		opts:   opts,
		logger: opts.Logger,
	}
	s.router = s.routes()
	// gin's writer refuses to hijack after the 101 is written, so the feed
	// is served from the plain mux.
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /v1/feed", s.handleFeed)
	s.mux.Handle("/", s.router)
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	v1 := r.Group("/v1")
	v1.POST("/analysis", s.handleAnalyze)
	v1.DELETE("/analysis", s.handleStop)
	v1.GET("/analysis/recent", s.handleRecent)

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ListenAndServe blocks until the server stops. A graceful shutdown is not
// an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http_listen", zap.String("addr", s.opts.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes feed subscribers first so websocket handlers return, then
// drains HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analysisdto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, analysisdto.DomainError{Code: "bad_json", Message: err.Error()})
		return
	}
	sub, err := s.svc.Analyze(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, sub)
	case errors.Is(err, svcanalysis.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, analysisdto.DomainError{Code: "invalid_request", Message: err.Error()})
	case errors.Is(err, svcanalysis.ErrClosed), errors.Is(err, coreanalysis.ErrShutdown):
		writeError(c, http.StatusServiceUnavailable, analysisdto.DomainError{Code: "shutting_down", Message: err.Error(), Retryable: true})
	default:
		s.logger.Error("analyze_failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, analysisdto.DomainError{Code: "internal", Message: "analysis failed", Retryable: true})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	s.svc.Stop()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRecent(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, analysisdto.DomainError{Code: "bad_limit", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}
	recs, err := s.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("recent_failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, analysisdto.DomainError{Code: "internal", Message: "archive unavailable", Retryable: true})
		return
	}
	out := analysisdto.RecentResponse{Items: make([]analysisdto.Record, 0, len(recs))}
	for _, rec := range recs {
		out.Items = append(out.Items, toRecordDTO(rec))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.svc.State()
	resp := analysisdto.HealthResponse{Status: "ok", State: st.String()}
	code := http.StatusOK
	if st == coreanalysis.StateUnavailable || st == coreanalysis.StateStopped {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// handleFeed streams every service event to a websocket client until either
// side goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		httpRequests.WithLabelValues(feedRoute, strconv.Itoa(http.StatusBadRequest)).Inc()
		s.logger.Warn("feed_accept_failed", zap.Error(err))
		return
	}
	httpRequests.WithLabelValues(feedRoute, strconv.Itoa(http.StatusSwitchingProtocols)).Inc()
	sub := s.hub.Subscribe()
	if sub == nil {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer s.hub.Unsubscribe(sub)

	// 클라이언트 메시지는 읽지 않는다. 끊김 감지용.
	ctx := conn.CloseRead(r.Context())
	hello := analysisdto.Event{Type: analysisdto.EventState, State: s.svc.State().String(), At: time.Now().UTC()}
	if err := s.write(ctx, conn, hello); err != nil {
		return
	}
	for {
		select {
		case ev := <-sub.Events():
			if err := s.write(ctx, conn, ev); err != nil {
				s.logger.Debug("feed_write_failed", zap.Error(err), zap.Uint64("dropped", sub.Dropped()))
				return
			}
		case <-sub.Done():
			_ = conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev analysisdto.Event) error {
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.logger.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func writeError(c *gin.Context, code int, e analysisdto.DomainError) {
	c.AbortWithStatusJSON(code, e)
}

func toRecordDTO(rec *domain.AnalysisRecord) analysisdto.Record {
	out := analysisdto.Record{
		RequestID:    rec.RequestID,
		PriorFEN:     rec.PriorFEN,
		Move:         rec.Move,
		SAN:          rec.SAN,
		Mover:        rec.Mover,
		Ply:          rec.Ply,
		Step:         rec.Step,
		Final:        rec.Final,
		Best:         rec.Best,
		Played:       rec.Played,
		PlayedSource: rec.PlayedSource,
		Delta:        rec.Delta,
		Mate:         rec.Mate,
		Confidence:   rec.Confidence,
		PV:           rec.PV,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.OpeningCode != "" || rec.OpeningTitle != "" {
		out.Opening = &analysisdto.Opening{Code: rec.OpeningCode, Title: rec.OpeningTitle}
	}
	return out
}
