package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/patient-registry/internal/handler/prometheus"
	"github.com/jwalitptl/patient-registry/internal/handler/query"
	"github.com/jwalitptl/patient-registry/internal/handler/web"
	"github.com/jwalitptl/patient-registry/internal/middleware"
	"github.com/jwalitptl/patient-registry/pkg/logger"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
)

const apiPrefix = "/api/v1"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	config  RouterConfig
	health  Handler
	patient Handler
	query   Handler
	web     Handler
	metrics *prometheus.Handler
}

type RouterConfig struct {
	Mode           string
	RateLimit      rate.Limit
	RateBurst      int
	RequestTimeout time.Duration
	BodyLimit      int64
	CORSConfig     middleware.CORSConfig
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
}

// Handlers groups the route owners. Web pages are mounted at the root and
// everything else under /api/v1.
type Handlers struct {
	Health  Handler
	Patient Handler
	Query   Handler
	Web     Handler
}

func NewRouter(h Handlers, renderer *web.Renderer, config RouterConfig) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	engine := gin.New()
	engine.HTMLRender = renderer

	r := &Router{
		engine:  engine,
		config:  config,
		health:  h.Health,
		patient: h.Patient,
		query:   h.Query,
		web:     h.Web,
	}
	if config.Metrics != nil {
		r.metrics = prometheus.New(config.Metrics)
	}

	livePath := apiPrefix + query.LivePath

	// Add core middlewares
	engine.Use(
		middleware.Recovery(config.Logger),
		middleware.RequestID(),
		middleware.Logger(config.Logger),
	)
	if config.Metrics != nil {
		engine.Use(middleware.Metrics(config.Metrics))
	}
	engine.Use(
		middleware.ErrorHandler(config.Logger),
		middleware.Timeout(middleware.TimeoutConfig{
			Duration:  config.RequestTimeout,
			SkipPaths: []string{livePath},
		}),
	)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.BodyLimit > 0 {
		sizeLimit.MaxBodySize = config.BodyLimit
	}

	engine.Use(
		rateLimiter.RateLimit(),
		middleware.SizeLimit(sizeLimit),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
		middleware.Cache(middleware.DefaultCacheConfig()),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group(apiPrefix)
	if r.health != nil {
		r.health.RegisterRoutes(api)
	}
	if r.patient != nil {
		r.patient.RegisterRoutes(api)
	}
	if r.query != nil {
		r.query.RegisterRoutes(api)
	}

	if r.metrics != nil {
		r.engine.GET("/metrics", r.metrics.Handler())
	}

	if r.web != nil {
		r.web.RegisterRoutes(&r.engine.RouterGroup)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
