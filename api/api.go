package api

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyclehub/rental-backend/audit"
	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/internal/middleware"
	"github.com/cyclehub/rental-backend/live"
	"github.com/cyclehub/rental-backend/order"
	"github.com/cyclehub/rental-backend/session"
	"github.com/cyclehub/rental-backend/trajectory"
	"github.com/cyclehub/rental-backend/user"
)

type API struct {
	r      *gin.Engine
	engine *session.Engine
	ur     *user.Repository
	br     *bike.Repository
	or     *order.Repository
	tr     *trajectory.Repository
	ar     *audit.Repository
	hub    *live.Hub
	cfg    session.Config

	// transportUp reports whether the device transport is connected; wired
	// into /health so operators see a broker outage without reading logs.
	transportUp func() bool
}

type Options struct {
	Engine       *session.Engine
	Users        *user.Repository
	Bikes        *bike.Repository
	Orders       *order.Repository
	Trajectories *trajectory.Repository
	Audits       *audit.Repository
	Hub          *live.Hub
	Config       session.Config
	TransportUp  func() bool
	CORSOrigins  []string
	Logger       *slog.Logger
	Registry     *prometheus.Registry
}

func New(opts Options) *API {
	a := &API{
		r:           gin.New(),
		engine:      opts.Engine,
		ur:          opts.Users,
		br:          opts.Bikes,
		or:          opts.Orders,
		tr:          opts.Trajectories,
		ar:          opts.Audits,
		hub:         opts.Hub,
		cfg:         opts.Config,
		transportUp: opts.TransportUp,
	}

	a.r.Use(gin.Recovery())
	a.r.Use(middleware.Tracing())
	a.r.Use(middleware.Logging(opts.Logger))
	a.r.Use(middleware.Metrics(opts.Registry))

	corsCfg := cors.DefaultConfig()
	if len(opts.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = opts.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	a.r.Use(cors.New(corsCfg))

	a.r.GET("/health", a.healthHandler)
	a.r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	a.r.GET("/live", a.liveHandler)

	g := a.r.Group("/api")
	{
		g.POST("/auth/register", a.registerHandler)
		g.POST("/auth/register-with-card", a.registerWithCardHandler)
		g.POST("/auth/topup", a.topupHandler)
		g.POST("/auth/auto-register", a.autoRegisterHandler)
		g.POST("/auth/validate-card", a.validateCardHandler)

		g.GET("/users", a.listUsersHandler)
		g.GET("/users/:id", a.getUserHandler)
		g.PUT("/users/:id", a.updateUserHandler)
		g.POST("/users/:id/bind-card", a.bindCardHandler)

		g.POST("/bikes", a.createBikeHandler)
		g.GET("/bikes", a.listBikesHandler)
		g.GET("/bikes/:id", a.getBikeHandler)
		g.PATCH("/bikes/:id/status", a.setBikeStatusHandler)
		g.GET("/bikes/:id/trajectory", a.bikeTrajectoryHandler)
		g.GET("/bikes/:id/logs", a.bikeLogsHandler)

		g.POST("/hardware/unlock", a.hardwareUnlockHandler)
		g.POST("/orders/unlock", a.unlockHandler)
		g.POST("/orders/lock", a.lockHandler)
		g.GET("/orders", a.listOrdersHandler)
		g.GET("/orders/:id", a.getOrderHandler)

		g.POST("/admin/command", a.adminCommandHandler)
		g.GET("/admin/dashboard", a.dashboardHandler)
		g.GET("/admin/statistics/trends", a.trendsHandler)
	}

	return a
}

func (a *API) Router() *gin.Engine {
	return a.r
}

func (a *API) healthHandler(c *gin.Context) {
	connected := false
	if a.transportUp != nil {
		connected = a.transportUp()
	}
	c.JSON(200, gin.H{"status": "ok", "mqtt_connected": connected})
}
