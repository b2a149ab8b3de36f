package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bark-labs/webpush-relay/internal/config"
	"github.com/bark-labs/webpush-relay/internal/metrics"
	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/service"
	"github.com/bark-labs/webpush-relay/internal/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
)

// StreamStats reports connected stream clients.
type StreamStats interface {
	Count() int
}

// Deps groups the services the HTTP layer calls.
type Deps struct {
	Subscriptions *service.SubscriptionService
	Notices       *service.NoticeService
	Logs          *service.DeliveryLogService
	Auth          *service.AuthService
	Preview       *service.PreviewService
	Metrics       *metrics.Metrics
	Stream        StreamStats
	// PublicKey is the VAPID key browsers subscribe with.
	PublicKey string
	Logger    zerolog.Logger
}

// Server wires HTTP handlers.
type Server struct {
	app  *fiber.App
	deps Deps
	cfg  *config.Config
	log  zerolog.Logger
}

// New builds a server instance.
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.HTTP.ReadTimeout,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		AppName:               "webpush-relay",
		DisableStartupMessage: true,
	})
	s := &Server{
		app:  app,
		deps: deps,
		cfg:  cfg,
		log:  deps.Logger,
	}
	s.registerRoutes()
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.HTTP.Addr).Msg("http listening")
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	// browser facing, used by the page that registers the worker
	push := s.app.Group("/api/push")
	push.Get("/public-key", s.handlePublicKey)
	push.Post("/subscribe", s.handleSubscribe)
	push.Post("/unsubscribe", s.handleUnsubscribe)

	auth := s.requireAuth
	push.Get("/subscriptions", auth, s.handleListSubscriptions)
	push.Delete("/subscriptions", auth, s.handleDeleteSubscriptions)
	push.Get("/subscriptions/active", auth, s.handleSubscriptionActivate)
	push.Get("/subscriptions/stop", auth, s.handleSubscriptionStop)
	push.Post("/test", auth, s.handlePushTest)

	api := s.app.Group("/api")
	api.Post("/notice", auth, s.handleNoticePost)
	api.Get("/nots", auth, s.handleHistory)
	api.Post("/preview", auth, s.handlePreview)

	logGroup := s.app.Group("/api/notice/log", auth)
	logGroup.Get("/list", s.handleLogList)
	logGroup.Get("/count/date", s.handleLogCountDate)
	logGroup.Get("/count/status", s.handleLogCountStatus)
	logGroup.Get("/count/severity", s.handleLogCountSeverity)
	logGroup.Get("/count/subscription", s.handleLogCountSubscription)

	s.serveFrontend()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := model.HealthRes{Status: "ok"}
	if s.deps.Subscriptions != nil {
		total, active, err := s.deps.Subscriptions.Counts(c.UserContext())
		if err != nil {
			resp.Status = "degraded"
		}
		resp.Subscriptions, resp.Active = total, active
	}
	if s.deps.Stream != nil {
		resp.StreamClients = s.deps.Stream.Count()
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.JSON(model.Error("invalid request body"))
	}
	if !s.deps.Auth.Enabled() {
		return c.JSON(model.Success("login not required", fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}))
	}
	token, err := s.deps.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.ErrorWithCode(model.UnauthorizedCode, err.Error()))
	}
	return c.JSON(model.Success("login succeeded", fiber.Map{
		"token":    token,
		"enabled":  true,
		"username": s.deps.Auth.Username(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if !s.deps.Auth.Enabled() {
		return c.JSON(model.Success("ok", fiber.Map{
			"enabled":  false,
			"username": "guest",
		}))
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.ErrorWithCode(model.UnauthorizedCode, "not logged in"))
	}
	claims, err := s.deps.Auth.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.ErrorWithCode(model.UnauthorizedCode, "session expired"))
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"enabled":  true,
		"username": claims.Username,
	}))
}

func (s *Server) handlePublicKey(c *fiber.Ctx) error {
	return c.JSON(model.Success("ok", fiber.Map{"publicKey": s.deps.PublicKey}))
}

func (s *Server) handleSubscribe(c *fiber.Ctx) error {
	var req service.SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid request body"))
	}
	sub, err := s.deps.Subscriptions.Subscribe(c.UserContext(), req, c.Get(fiber.HeaderUserAgent))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubscription) {
			return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
		}
		return s.internalError(c, err)
	}
	s.log.Info().Str("id", sub.ID).Str("status", sub.Status).Msg("subscription saved")
	return c.JSON(model.Success("subscribed", fiber.Map{"id": sub.ID, "status": sub.Status}))
}

func (s *Server) handleUnsubscribe(c *fiber.Ctx) error {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid request body"))
	}
	if err := s.deps.Subscriptions.Unsubscribe(c.UserContext(), req.Endpoint); err != nil {
		return s.subscriptionError(c, err)
	}
	return c.JSON(model.Success("unsubscribed", nil))
}

func (s *Server) handleListSubscriptions(c *fiber.Ctx) error {
	views, err := s.deps.Subscriptions.ListViews(c.UserContext())
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(model.Success("ok", views))
}

func (s *Server) handleDeleteSubscriptions(c *fiber.Ctx) error {
	n, err := s.deps.Subscriptions.DeleteAll(c.UserContext())
	if err != nil {
		return s.internalError(c, err)
	}
	s.log.Warn().Int("removed", n).Msg("all subscriptions deleted")
	return c.JSON(model.Success("deleted", fiber.Map{"removed": n}))
}

func (s *Server) handleSubscriptionActivate(c *fiber.Ctx) error {
	return s.handleSubscriptionStatusChange(c, model.SubscriptionStatusActive, "activated")
}

func (s *Server) handleSubscriptionStop(c *fiber.Ctx) error {
	return s.handleSubscriptionStatusChange(c, model.SubscriptionStatusStop, "stopped")
}

func (s *Server) handleSubscriptionStatusChange(c *fiber.Ctx, status, msg string) error {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		return c.Status(http.StatusBadRequest).JSON(model.Error("endpoint is required"))
	}
	if _, err := s.deps.Subscriptions.UpdateStatus(c.UserContext(), endpoint, status); err != nil {
		return s.subscriptionError(c, err)
	}
	return c.JSON(model.Success(msg, nil))
}

func (s *Server) handleNoticePost(c *fiber.Ctx) error {
	var req model.NoticeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid request body"))
	}
	summary, results, err := s.deps.Notices.Broadcast(c.UserContext(), req)
	return s.noticeResponse(c, summary, results, err)
}

func (s *Server) handlePushTest(c *fiber.Ctx) error {
	summary, results, err := s.deps.Notices.SendTest(c.UserContext())
	return s.noticeResponse(c, summary, results, err)
}

func (s *Server) noticeResponse(c *fiber.Ctx, summary model.NoticeSummary, results []model.NoticeResult, err error) error {
	if err != nil {
		if errors.Is(err, service.ErrEmptyNotice) {
			return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
		}
		return s.internalError(c, err)
	}
	return c.JSON(model.Success("sent", fiber.Map{
		"sendNum":    summary.SendNum,
		"successNum": summary.SuccessNum,
		"removed":    summary.Removed,
		"streamed":   summary.Streamed,
		"truncated":  summary.Truncated,
		"results":    results,
	}))
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	since := parseTime(c.Query("since"))
	if since == nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("since must be RFC3339 or YYYY-MM-DD"))
	}
	notices, err := s.deps.Notices.History(c.UserContext(), *since)
	if err != nil {
		return s.internalError(c, err)
	}
	if notices == nil {
		notices = []*model.Notice{}
	}
	return c.JSON(model.Success("ok", notices))
}

func (s *Server) handlePreview(c *fiber.Ctx) error {
	preview, err := s.deps.Preview.Render(c.UserContext(), c.Body(), c.Query("origin"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success("ok", preview))
}

func (s *Server) handleLogList(c *fiber.Ctx) error {
	page, err := s.deps.Logs.Query(c.UserContext(), parseLogFilter(c))
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(model.Success("ok", page))
}

func (s *Server) handleLogCountDate(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountByDate(c.UserContext(), c.Query("dateType", "day"), begin, end)
	return s.countResponse(c, data, err)
}

func (s *Server) handleLogCountStatus(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountByStatus(c.UserContext(), begin, end)
	return s.countResponse(c, data, err)
}

func (s *Server) handleLogCountSeverity(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountBySeverity(c.UserContext(), begin, end)
	return s.countResponse(c, data, err)
}

func (s *Server) handleLogCountSubscription(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.deps.Logs.CountBySubscription(c.UserContext(), begin, end)
	return s.countResponse(c, data, err)
}

func (s *Server) countResponse(c *fiber.Ctx, data []map[string]any, err error) error {
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) subscriptionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(http.StatusNotFound).JSON(model.ErrorWithCode(model.NotFoundCode, "subscription not found"))
	case errors.Is(err, service.ErrInvalidSubscription):
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	default:
		return s.internalError(c, err)
	}
}

func (s *Server) internalError(c *fiber.Ctx, err error) error {
	s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
}

func (s *Server) serveFrontend() {
	dir := strings.TrimSpace(s.cfg.Frontend.Dir)
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	s.app.Static("/", dir, fiber.Static{
		Index:    "index.html",
		Compress: true,
	})
}

func parseLogFilter(c *fiber.Ctx) model.DeliveryLogFilter {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	begin, end := parseTimeRange(c)
	return model.DeliveryLogFilter{
		Endpoint:  c.Query("endpoint"),
		Severity:  c.Query("severity"),
		Status:    c.Query("status"),
		BeginTime: begin,
		EndTime:   end,
		Page:      page,
		PageSize:  pageSize,
	}
}

func parseTimeRange(c *fiber.Ctx) (*time.Time, *time.Time) {
	return parseTime(c.Query("beginTime")), parseTime(c.Query("endTime"))
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if !s.deps.Auth.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.ErrorWithCode(model.UnauthorizedCode, "not logged in"))
	}
	claims, err := s.deps.Auth.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.ErrorWithCode(model.UnauthorizedCode, "session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
