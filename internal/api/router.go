package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/sungwoon-dev/mealpass/internal/app"
	iauth "github.com/sungwoon-dev/mealpass/internal/auth"
	"github.com/sungwoon-dev/mealpass/internal/cache"
	"github.com/sungwoon-dev/mealpass/internal/handlers"
	"github.com/sungwoon-dev/mealpass/internal/middleware"
	"github.com/sungwoon-dev/mealpass/internal/models"
	"github.com/sungwoon-dev/mealpass/internal/realtime"
	"github.com/sungwoon-dev/mealpass/internal/services"
	"github.com/sungwoon-dev/mealpass/internal/ticket"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
// The cache store is optional; a nil store falls back to in-process state for
// rate limiting and the redeemed-ticket cache.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, sessions *iauth.SessionService, store cache.Store, hub *realtime.Hub) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if hub == nil {
		hub = realtime.NewHub()
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	var rateStore middleware.RateStore
	if store != nil {
		rateStore = middleware.NewCacheRateStore(store)
	}
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(rateStore, 100, time.Minute))

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	userService, err := services.NewUserService(db)
	if err != nil {
		return nil, err
	}
	auditService, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	approvalService, err := services.NewApprovalService(db, auditService, hub)
	if err != nil {
		return nil, err
	}

	issuerOpts := []ticket.IssuerOption{}
	if cfg.Ticket.QRSize > 0 {
		issuerOpts = append(issuerOpts, ticket.WithQRSize(cfg.Ticket.QRSize))
	}
	issuer, err := ticket.NewIssuer(db, issuerOpts...)
	if err != nil {
		return nil, err
	}

	verifierOpts := []ticket.VerifierOption{}
	if store != nil {
		verifierOpts = append(verifierOpts, ticket.WithRedeemedCache(store))
	}
	verifier, err := ticket.NewVerifier(db, verifierOpts...)
	if err != nil {
		return nil, err
	}

	authHandler := handlers.NewAuthHandler(userService, jwt, sessions, issuer)
	userHandler := handlers.NewUserHandler(userService, approvalService)
	ticketHandler := handlers.NewTicketHandler(issuer)
	scanHandler := handlers.NewScanHandler(verifier, auditService, hub)
	studentHandler := handlers.NewStudentHandler(approvalService)
	realtimeHandler := handlers.NewRealtimeHandler(hub, jwt)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	// The websocket endpoint authenticates through a query token because
	// browsers cannot set headers on WebSocket upgrades.
	r.GET("/api/ws", realtimeHandler.Stream)

	// Protected routes
	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Authenticated auth routes
	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)
	api.POST("/auth/password", authHandler.ChangePassword)

	// Users (admin only)
	users := api.Group("/users")
	users.Use(middleware.RequireRole(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.POST("", userHandler.Create)
	}

	// Tickets (students request their own QR ticket)
	tickets := api.Group("/tickets")
	tickets.Use(middleware.RequireRole(models.RoleStudent))
	{
		tickets.POST("", ticketHandler.Issue)
		tickets.GET("/status", ticketHandler.Status)
	}

	// Scanning (teachers and admins)
	api.POST("/scan", middleware.RequireScanner(), scanHandler.Scan)

	// Dinner application and approval
	students := api.Group("/students")
	{
		students.POST("/me/apply", middleware.RequireRole(models.RoleStudent), studentHandler.Apply)
		students.POST("/:id/approval", middleware.RequireRole(models.RoleAdmin), studentHandler.SetApproval)
		students.POST("/approve-all", middleware.RequireRole(models.RoleAdmin), studentHandler.ApproveAll)
		students.POST("/revoke-all", middleware.RequireRole(models.RoleAdmin), studentHandler.RevokeAll)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
