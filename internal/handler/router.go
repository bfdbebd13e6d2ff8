package handler

import (
	"net/http"

	"binancedash/internal/config"
	"binancedash/internal/infrastructure/identity"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由，avatars 为空时不挂载静态头像
func SetupRouter(h *Handler, provider identity.Provider, avatars http.FileSystem, cfg *config.Config) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1", AuthMiddleware(provider))
	{
		binance := api.Group("/binance")
		{
			binance.POST("/bind", h.Bind)
			binance.GET("/accounts", h.ListAccounts)
			binance.GET("/current", h.CurrentAccount)
			binance.POST("/switch", h.Switch)
			binance.POST("/unbind", h.Unbind)
			binance.POST("/avatar", h.UpdateAvatar)
		}

		spot := api.Group("/spot")
		{
			spot.GET("/depth", h.Depth)
		}
	}

	if avatars != nil && cfg.Storage.PublicPath != "" {
		r.Group(cfg.Storage.PublicPath, CacheControlMiddleware(cfg.Storage.CacheControl)).
			StaticFS("/", avatars)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
