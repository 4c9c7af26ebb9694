package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/app"
	iauth "github.com/charlesng35/casedesk/internal/auth"
	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/handlers"
	"github.com/charlesng35/casedesk/internal/health"
	"github.com/charlesng35/casedesk/internal/middleware"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/internal/realtime"
	"github.com/charlesng35/casedesk/internal/security"
	"github.com/charlesng35/casedesk/internal/services"
)

// Dependencies are the infrastructure pieces the server builds before routing.
// Cache is the shared store (Redis or the database fallback); nil disables
// shared caching and uses in-process rate limiting.
type Dependencies struct {
	DB       *gorm.DB
	Config   *app.Config
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Audit    *services.AuditService
	Cache    cache.Store
}

// Server is the wired HTTP API together with the long-lived components the
// process owns.
type Server struct {
	Router   *gin.Engine
	Registry *oracle.Registry
	Checker  *permissions.Checker
	Hub      *realtime.Hub

	routes *routeTable
}

// NewServer builds services, handlers and the Gin engine. It refuses to start
// when a route or navigation entry names a permission or module outside the
// catalog.
func NewServer(deps Dependencies) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	audit := deps.Audit
	if audit == nil {
		var err error
		if audit, err = services.NewAuditService(deps.DB); err != nil {
			return nil, err
		}
	}

	checker, err := permissions.NewChecker(deps.DB, permissions.WithCache(deps.Cache, cfg.Permissions.ServerCacheTTL))
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(
		realtime.WithStreams(realtime.StreamPermissions),
		realtime.WithAllowedOrigins(cfg.Realtime.AllowedOrigins...),
		realtime.WithBufferSize(cfg.Realtime.BufferSize),
	)

	registry, err := oracle.NewRegistry(oracleFactory(checker, cfg.Permissions))
	if err != nil {
		return nil, err
	}

	notifier := services.NewAccessNotifier(checker, registry, hub)

	roleSvc, err := services.NewRoleService(deps.DB, audit, notifier)
	if err != nil {
		return nil, err
	}
	permSvc, err := services.NewPermissionService(deps.DB, audit, notifier)
	if err != nil {
		return nil, err
	}
	userSvc, err := services.NewUserService(deps.DB, audit, notifier, deps.Sessions)
	if err != nil {
		return nil, err
	}
	teamSvc, err := services.NewTeamService(deps.DB, audit)
	if err != nil {
		return nil, err
	}

	var scopeOpts []permissions.ScopeOption
	if cfg.Permissions.TeamScopeNarrowing {
		scopeOpts = append(scopeOpts, permissions.WithTeamNarrowing(teamSvc))
	}
	scope := permissions.NewScopeResolver(scopeOpts...)

	caseSvc, err := services.NewCaseService(deps.DB, audit, scope)
	if err != nil {
		return nil, err
	}

	local, err := iauth.NewLocalAuthenticator(deps.DB, deps.Cache, cfg.Auth.LocalAuthConfig())
	if err != nil {
		return nil, err
	}

	navigator := gate.NewNavigator(gate.DefaultNavigation(), cfg.Permissions.PublicModules)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	probes := health.NewManager(0,
		health.Database(deps.DB),
		health.Cache(deps.Cache),
		health.Oracles(registry),
	)
	r.GET("/health", handlers.Health(probes))
	r.GET("/health/live", handlers.Live)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("/api")
	protected := r.Group("/api")
	protected.Use(middleware.Auth(deps.JWT, deps.Sessions, registry))
	routes := newRouteTable(protected)

	registerAuthRoutes(public, routes,
		handlers.NewAuthHandler(local, deps.Sessions, registry, checker, userSvc, hub, audit),
		loginRateLimit(deps.Cache, cfg.Server.LoginRateLimit))
	registerPermissionRoutes(routes, handlers.NewPermissionHandler(checker, scope, permSvc))
	registerRoleRoutes(routes, handlers.NewRoleHandler(roleSvc))
	registerUserRoutes(routes, handlers.NewUserHandler(userSvc))
	registerTeamRoutes(routes, handlers.NewTeamHandler(teamSvc))
	registerAuditRoutes(routes,
		handlers.NewAuditHandler(audit),
		handlers.NewSecurityHandler(security.NewReviewer(deps.DB, cfg)))
	registerCaseRoutes(routes, handlers.NewCaseHandler(caseSvc))
	registerNavigationRoutes(routes, handlers.NewNavigationHandler(navigator), handlers.NewRealtimeHandler(hub))

	r.NoRoute(middleware.NotFoundHandler)

	if err := validateDeclarations(routes.requirements, navigator.Items()); err != nil {
		registry.Shutdown()
		return nil, err
	}

	return &Server{
		Router:   r,
		Registry: registry,
		Checker:  checker,
		Hub:      hub,
		routes:   routes,
	}, nil
}

// Routes lists every guarded route as "METHOD /path".
func (s *Server) Routes() []string {
	return s.routes.Keys()
}

// Requirement returns the declared requirement of a guarded route.
func (s *Server) Requirement(key string) (gate.Requirement, bool) {
	req, ok := s.routes.requirements[key]
	return req, ok
}

// Close disposes every live session oracle.
func (s *Server) Close() {
	if s != nil && s.Registry != nil {
		s.Registry.Shutdown()
	}
}

func (d Dependencies) validate() error {
	var errs error
	if d.DB == nil {
		errs = multierr.Append(errs, errors.New("database handle must be provided"))
	}
	if d.Config == nil {
		errs = multierr.Append(errs, errors.New("config must be provided"))
	}
	if d.JWT == nil {
		errs = multierr.Append(errs, errors.New("jwt service must be provided"))
	}
	if d.Sessions == nil {
		errs = multierr.Append(errs, errors.New("session service must be provided"))
	}
	return errs
}

// validateDeclarations checks route requirements, the navigation and the
// module declarations against the permission catalog.
func validateDeclarations(routes map[string]gate.Requirement, items []gate.NavItem) error {
	errs := gate.Validate(routes, items)
	errs = multierr.Append(errs, permissions.ValidateReferences(permissions.ModuleReferences()...))
	if errs != nil {
		return fmt.Errorf("permission declarations: %w", errs)
	}
	return nil
}

func oracleFactory(checker *permissions.Checker, cfg app.PermissionsConfig) oracle.Factory {
	return func(identity oracle.Identity) (*oracle.Oracle, error) {
		transport, err := oracle.NewCheckerTransport(checker, identity.UserID)
		if err != nil {
			return nil, err
		}
		return oracle.New(transport, oracle.Options{
			RefreshInterval: cfg.RefreshInterval,
			FetchTimeout:    cfg.FetchTimeout,
			Concurrency:     cfg.FetchConcurrency,
		})
	}
}

func loginRateLimit(store cache.Store, limit app.RateLimit) gin.HandlerFunc {
	if limit.Requests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	window := limit.Window
	if window <= 0 {
		window = time.Minute
	}
	rates := middleware.NewCacheRateStore(store)
	if rates == nil {
		rates = middleware.NewMemoryRateStore(time.Now)
	}
	return middleware.RateLimit(rates, limit.Requests, window)
}
