package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"chatrouter/internal/config"
	"chatrouter/internal/logging"
	"chatrouter/internal/metrics"
	"chatrouter/internal/models"
	"chatrouter/internal/provider"
	"chatrouter/internal/router"
	"chatrouter/internal/translator"
	"chatrouter/internal/usage"
)

const (
	defaultBodyLimit    = "2M"
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 120 * time.Second
	idleTimeout         = 120 * time.Second
)

// Options carries the collaborators of the HTTP server. Zero values are
// replaced with no-op implementations.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Usage   usage.Recorder
}

type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	logger  *zap.Logger
	metrics *metrics.Metrics
	usage   usage.Recorder
	address string
	now     func() time.Time
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router, opts Options) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := opts.Usage
	if recorder == nil {
		recorder = usage.Nop{}
	}

	bodyLimit := cfg.Server.BodyLimit
	if bodyLimit == "" {
		bodyLimit = defaultBodyLimit
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(opts.Metrics.Middleware())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(loggingContext(logger))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		// The error handler writes the response first, so Status is final.
		HandleError:  true,
		LogError:     true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Int64("latency_ms", v.Latency.Milliseconds()),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))
	e.Use(middleware.BodyLimit(bodyLimit))

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		app:     e,
		logger:  logger,
		metrics: opts.Metrics,
		usage:   recorder,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		now:     time.Now,
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed echo instance, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	s.logger.Info("starting server", zap.String("addr", s.address))

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	s.app.GET("/v1/models", s.handleListModels)
	s.app.GET("/v1/models/:id", s.handleGetModel)
	s.app.POST("/v1/chat", s.handleChat)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.GET("/v1/usage", s.handleUsage)
}

// loggingContext attaches a request-scoped logger to the request context.
func loggingContext(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			}
			if reqID := c.Response().Header().Get(echo.HeaderXRequestID); reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
			ctx := logging.WithFields(logging.WithLogger(req.Context(), base), fields...)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"models": len(s.router.Models()),
	})
}

func (s *Server) handleListModels(c echo.Context) error {
	entries := s.router.Models()
	list := translator.ModelList{
		Object: "list",
		Data:   make([]translator.ModelBody, 0, len(entries)),
	}
	for _, entry := range entries {
		list.Data = append(list.Data, translator.FromEntry(entry, s.router.Aliases(entry.Model.ID)))
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetModel(c echo.Context) error {
	entry, err := s.router.Resolve(c.Param("id"))
	if err != nil {
		if errors.Is(err, provider.ErrUnknownModel) {
			return requestError{
				Status:  http.StatusNotFound,
				Message: err.Error(),
				Type:    string(provider.KindUnknownModel),
			}
		}
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromEntry(entry, s.router.Aliases(entry.Model.ID)))
}

func (s *Server) handleChat(c echo.Context) error {
	var req translator.ChatRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	result, err := s.router.SendChat(ctx, req.ToChatRequest())
	if err != nil {
		return toHTTPError(err)
	}
	s.recordUsage(ctx, result)

	return c.JSON(http.StatusOK, translator.FromChatResult(result))
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	result, err := s.router.SendChat(ctx, req.ToChatRequest())
	if err != nil {
		return toHTTPError(err)
	}
	s.recordUsage(ctx, result)

	return c.JSON(http.StatusOK, translator.FromResult(s.now().Unix(), result))
}

func (s *Server) handleUsage(c echo.Context) error {
	totals, err := s.usage.Snapshot(c.Request().Context())
	if err != nil {
		logging.FromContext(c.Request().Context()).Error("read usage ledger", zap.Error(err))
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "usage ledger unavailable",
			Type:    "server_error",
		}
	}
	return c.JSON(http.StatusOK, translator.FromTotals(totals))
}

// recordUsage never fails the request; the ledger is advisory.
func (s *Server) recordUsage(ctx context.Context, result models.NormalizedResult) {
	if err := s.usage.Record(ctx, result); err != nil {
		logging.FromContext(ctx).Warn("record usage", zap.String("model", result.Model), zap.Error(err))
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    string(provider.KindInvalidRequest),
			}
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request body: %v", err),
			Type:    string(provider.KindInvalidRequest),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    string(provider.KindInvalidRequest),
		}
	}
	return nil
}

type requestError struct {
	Status   int
	Message  string
	Type     string
	Provider string
}

func (e requestError) Error() string {
	return e.Message
}

func writeError(c echo.Context, reqErr requestError) error {
	return c.JSON(reqErr.Status, translator.ErrorBody{
		Error: translator.ErrorDetail{
			Message:  reqErr.Message,
			Type:     reqErr.Type,
			Provider: reqErr.Provider,
		},
	})
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, requestError{
			Status:  he.Code,
			Message: fmt.Sprint(he.Message),
			Type:    string(provider.KindInvalidRequest),
		})
		return
	}

	_ = writeError(c, toHTTPError(err).(requestError))
}

// statusForKind maps the canonical error kinds onto HTTP statuses.
var statusForKind = map[provider.Kind]int{
	provider.KindUnknownModel:        http.StatusBadRequest,
	provider.KindInvalidRequest:      http.StatusBadRequest,
	provider.KindAuth:                http.StatusBadGateway,
	provider.KindRateLimit:           http.StatusTooManyRequests,
	provider.KindUpstreamUnavailable: http.StatusServiceUnavailable,
	provider.KindMalformedResponse:   http.StatusBadGateway,
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	if pe, ok := provider.AsError(err); ok {
		status, known := statusForKind[pe.Kind]
		if !known {
			status = http.StatusBadGateway
		}
		return requestError{
			Status:   status,
			Message:  pe.Error(),
			Type:     string(pe.Kind),
			Provider: pe.Provider,
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("chatrouter ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /metrics")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  GET  /v1/models/:id")
	fmt.Println("  POST /v1/chat")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  GET  /v1/usage")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat -H 'Content-Type: application/json' -d '{\"model\":\"gpt-4\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
