package colbot

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	pprofPrefix               = "/debug"
	apiPrefix                 = "/api"
	apiPathIndex              = "/"
	apiHealthCheck            = "/healthz"
	apiPathMetrics            = "/metrics"
	apiPathLevels             = "/levels"
	apiPathRanking            = "/ranking"
	apiPathRankingSpreadsheet = "/ranking.xlsx"

	xRequestIDHeader = "X-Request-ID"

	uptimeMessage = "Bot running"
)

var structValidator = validator.New()

// API serves the uptime ping, health, read-only level data and metrics
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Bot
}

type httpError struct {
	Error string `json:"error"`
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	StoreBackend            string `json:"store_backend"`
	PendingLevels           int    `json:"pending_levels"`
}

// levelResponse is the public view of a pending level. Voter IDs are
// left out.
type levelResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Author       string  `json:"author,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Votes        int     `json:"votes"`
	Scores       *Scores `json:"scores,omitempty"`
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	if !config.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		bot:    b,
		logger: slog.New(newLogHandler(config.LogLevel)).With(loggerNameKey, "api"),
	}

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(b.metrics),
		cors.New(corsConfig),
	)

	r.GET(apiPathIndex, api.index)
	r.HEAD(apiPathIndex, api.index)
	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(
		apiPathMetrics,
		gin.WrapH(promhttp.HandlerFor(b.metrics.Registry, promhttp.HandlerOpts{})),
	)

	levels := r.Group(apiPrefix)
	levels.GET(apiPathLevels, api.getLevels)
	levels.GET(apiPathRanking, api.getRanking)
	levels.GET(apiPathRankingSpreadsheet, api.getRankingSpreadsheet)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving http", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) index(c *gin.Context) {
	c.String(http.StatusOK, uptimeMessage)
}

func (a *API) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		DiscordGatewayConnected: a.bot.discord.Connected(),
	}
	if a.bot.gateway != nil {
		resp.StoreBackend = a.bot.gateway.BackendName()
	}
	if a.bot.ledger != nil {
		resp.PendingLevels = a.bot.ledger.View(c.Request.Context()).Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) workflows(c *gin.Context) (*Workflows, bool) {
	w := a.bot.workflows
	if w == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "bot is starting"})
		return nil, false
	}
	return w, true
}

func (a *API) getLevels(c *gin.Context) {
	w, ok := a.workflows(c)
	if !ok {
		return
	}
	levels := w.Levels(c.Request.Context())
	resp := make([]levelResponse, 0, len(levels))
	for _, l := range levels {
		lr := levelResponse{
			ID:           l.ID,
			Name:         l.DisplayName(),
			Author:       l.AuthorRef,
			ThumbnailURL: l.ThumbnailURL,
			Votes:        l.VoteCount(),
		}
		if scores, hasVotes := l.Averages(); hasVotes {
			lr.Scores = &scores
		}
		resp = append(resp, lr)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) getRanking(c *gin.Context) {
	w, ok := a.workflows(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, w.Ranking(c.Request.Context(), false))
}

func (a *API) getRankingSpreadsheet(c *gin.Context) {
	w, ok := a.workflows(c)
	if !ok {
		return
	}
	data, err := RankingSpreadsheet(w.Ranking(c.Request.Context(), false))
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error building spreadsheet", tint.Err(err))
		ginReplyError(c, "error building spreadsheet")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+rankingExportFileName+`"`)
	c.Data(http.StatusOK, rankingExportContentType, data)
}

// requestIDMiddleware sets a random request ID on the context and the
// response headers
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored on the gin
// context, creating it with request details on first use
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := v.(*slog.Logger); ok {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := base.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, route and status
func metricMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// ginReplyError sends a JSON error with HTTP status code 500
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // validators use the gin tag name
func init() {
	structValidator.SetTagName("binding")
}
