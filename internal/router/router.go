package router

import (
	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/config"
	"github.com/emplant2000/piphp/internal/handler"
	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/session"
	"github.com/emplant2000/piphp/internal/webhook"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	DB        *gorm.DB
	Store     session.Store
	Auth      *auth.Manager
	Payments  *payment.Manager
	Ingestor  *webhook.Ingestor
	AuditFile *audit.FileSink
	Provider  string
}

// SetupRouter configures the Gin engine.
func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", handler.Healthz)

	// re-signed on login, so the cookie never outlives the idle timeout of its session
	app := r.Group("")
	app.Use(
		middleware.SessionCookie(cfg.Session.CookieName, cfg.Session.Secret, cfg.SessionTimeout(), cfg.Session.Secure),
		middleware.Lifecycle(d.Auth, d.Payments),
	)

	// Home: page view model (?page=dashboard|cashout)
	pageHandler := handler.NewPageHandler(d.Auth, d.Store, d.Payments, cfg.App.Name, d.Provider, cfg.Provider.BaseURL)
	app.GET("/", pageHandler.View)

	// form actions and provider webhook share POST /
	actions := &handler.ActionHandler{
		Auth:    handler.NewAuthHandler(d.Auth),
		Cashout: handler.NewCashoutHandler(d.Payments, d.Store),
		Webhook: handler.NewWebhookHandler(d.Ingestor, cfg.Webhook.Secret),
	}
	app.POST("/", actions.Post)

	// ====== API ======
	api := app.Group("/api")
	protected := api.Group("")
	protected.Use(middleware.RequireAuth(d.Auth))

	protected.GET("/me", handler.GetMe)

	logHandler := handler.NewLogHandler(d.DB, cfg.Audit.EncryptionKey, d.AuditFile, cfg.App.PageSize)
	protected.GET("/logs", logHandler.ListLogs)
	protected.GET("/logs/recent", logHandler.RecentLines)

	exportHandler := handler.NewExportHandler(d.DB, cfg.Audit.EncryptionKey)
	protected.GET("/logs/export.csv", exportHandler.ExportCSV)
	protected.GET("/logs/export.xlsx", exportHandler.ExportXLSX)

	return r
}
