package http

import (
	"context"
	stdhttp "net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/msgroom-server/internal/auth"
	"github.com/vovakirdan/msgroom-server/internal/config"
	"github.com/vovakirdan/msgroom-server/internal/core"
	"github.com/vovakirdan/msgroom-server/internal/identity"
	"github.com/vovakirdan/msgroom-server/internal/metrics"
)

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Hub     *core.Hub
	Auth    *auth.Service
	Metrics *metrics.Metrics
	Config  config.Config
	Logger  *zerolog.Logger
	// Stop is called by POST /server/stop.
	Stop func()
}

// NewServer builds the HTTP server. The per-address limiter sweeps idle
// buckets until ctx is done.
func NewServer(ctx context.Context, deps Deps) (*stdhttp.Server, error) {
	handler, err := NewRouter(ctx, deps)
	if err != nil {
		return nil, err
	}
	return &stdhttp.Server{
		Addr:              deps.Config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: deps.Config.ReadHeaderTimeout,
	}, nil
}

// NewRouter builds the handler tree: /ws on a plain mux, and /health,
// /metrics and the control plane on gin under the configured prefix. The
// whole tree is wrapped with CORS.
func NewRouter(ctx context.Context, deps Deps) (stdhttp.Handler, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	resolver, err := identity.NewAddrResolver(cfg.IPHeader, cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if cfg.IPHeader != "" && len(cfg.TrustedProxies) == 0 {
		logger.Warn().Str("ip_header", cfg.IPHeader).Msg("ip_header is ignored until trusted_proxies is set")
	}

	limiter := newIPLimiter(cfg.ConnectRate, cfg.ConnectBurst)
	go limiter.run(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(deps.Metrics.Middleware())

	r.GET("/health", healthHandler)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	handlers := NewAdminHandlers(deps.Hub, deps.Auth, deps.Stop, logger)

	api := r.Group(cfg.APIPrefix)
	api.Use(LoggerMiddleware(logger))
	api.Use(limiter.middleware(resolver.SourceAddr))
	{
		api.GET("/ping", handlers.Ping)
		api.GET("/users/list", handlers.ListUsers)
		api.GET("/user/info", handlers.UserInfo)
		api.POST("/token", handlers.Token)
	}

	admin := api.Group("")
	admin.Use(AdminAuthMiddleware(deps.Auth, logger))
	{
		admin.GET("/keys/list", handlers.ListKeys)
		admin.POST("/keys/add", handlers.AddKey)
		admin.POST("/keys/delete", handlers.DeleteKey)
		admin.POST("/user/disconnect", handlers.Disconnect)
		admin.POST("/user/ban", handlers.Ban)
		admin.POST("/user/unban", handlers.Unban)
		admin.POST("/message/send", handlers.SendMessage)
		admin.POST("/channel/lock", handlers.LockChannel)
		admin.POST("/channel/unlock", handlers.UnlockChannel)
		admin.POST("/server/restart", handlers.Restart)
		admin.POST("/server/stop", handlers.Stop)
	}

	// The socket stays off the gin engine: it owns the hijacked connection
	// for its whole lifetime.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, WSConfig{
		AuthTimeout:    cfg.AuthTimeout,
		MaxFrameBytes:  cfg.MaxFrameBytes,
		OriginPatterns: originPatterns(cfg.CORSOrigins),
	}, resolver, limiter, logger))
	mux.Handle("/", r)

	return corsHandler(cfg.CORSOrigins).Handler(mux), nil
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}

// originPatterns converts CORS origins to the host patterns the WebSocket
// accept check expects.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
