// Package router wires the HTTP surface: which handler answers which path
// and which middleware guards it.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/model"
)

// RegisterRoutes registers routes that need neither authentication nor rate
// limiting. Currently only the health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the account endpoints. The open operations live
// under /v1/auth; /v1/me requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
}

// RegisterCatalog registers the public browse endpoints. They carry the
// redis rate limiter because they are the only surface open to guests.
func RegisterCatalog(e *echo.Echo, cat *handler.CatalogHandler, rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1/titles", middleware.RateLimit(rl, rdb))
	g.GET("", cat.ListTitles)
	g.GET("/:id", cat.GetTitle)
}

// RegisterCirculation registers the authenticated circulation endpoints.
// Patron routes require only a valid token; everything under /v1/staff
// additionally requires the STAFF role.
func RegisterCirculation(e *echo.Echo, cat *handler.CatalogHandler, p *handler.PatronCirculationHandler, s *handler.StaffCirculationHandler, jwtSecret string) {
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	auth.POST("/titles/:id/borrow-requests", p.RequestBorrow)
	auth.POST("/titles/:id/borrow", p.BorrowDirect)
	auth.POST("/titles/:id/reservations", p.RequestReservation)
	auth.GET("/transactions", p.MyTransactions)
	auth.DELETE("/transactions/:id", p.CancelPending)
	auth.POST("/transactions/:id/return-requests", p.RequestReturn)
	auth.GET("/return-requests", p.MyReturnRequests)

	staff := auth.Group("/staff", middleware.RequireRole(model.RoleStaff))

	staff.POST("/titles", cat.CreateTitle)
	staff.POST("/titles/:id/archive", s.ArchiveTitle)
	staff.GET("/titles/:id/consistency", s.VerifyTitle)

	staff.GET("/transactions/pending", s.PendingTransactions)
	staff.GET("/loans/active", s.ActiveLoans)
	staff.POST("/transactions/:id/approve-borrow", s.ApproveBorrow)
	staff.POST("/transactions/:id/reject-borrow", s.RejectBorrow)
	staff.POST("/transactions/:id/approve-reservation", s.ApproveReservation)
	staff.POST("/transactions/:id/reject-reservation", s.RejectReservation)
	staff.POST("/transactions/:id/return", s.ReturnLoan)

	staff.GET("/return-requests", s.PendingReturnRequests)
	staff.POST("/return-requests/:id/approve", s.ApproveReturn)
	staff.POST("/return-requests/:id/reject", s.RejectReturn)

	staff.POST("/patrons/:id/force-return", s.ForceReturn)
	staff.GET("/audit", s.RecentAudit)
}
