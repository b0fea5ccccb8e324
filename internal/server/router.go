package server

import (
	"net/http"

	"relaychat/internal/auth"
	"relaychat/internal/config"
	"relaychat/internal/metrics"
	"relaychat/internal/mw"
	"relaychat/internal/service"
	"relaychat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// limiter 同时用于 HTTP 请求与每条 websocket 连接上的调用。
func SetupRouter(cfg config.Config, svc *service.Service, users auth.UserFinder, hub *ws.Hub, limiter *mw.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.AllowedOrigins))
	r.Use(mw.RateLimit(limiter))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": hub.Online(), "registered": svc.Registry().Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(svc)
	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	// 需要 Bearer Token 的读取接口；写操作走 websocket。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg.JWTSecret, users))
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/mine", h.MyRooms)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.GET("/rooms/:id/members", h.RoomMembers)
	authed.GET("/rooms/:id/messages", h.RoomMessages)
	authed.GET("/direct", h.DirectChats)
	authed.GET("/direct/:id/messages", h.DirectMessages)
	authed.GET("/users/search", h.SearchUsers)

	r.GET("/ws", ws.Serve(hub, svc, ws.Options{
		JWTSecret:   cfg.JWTSecret,
		SendBuffer:  cfg.WSSendBuffer,
		Limiter:     limiter,
		CheckOrigin: func(req *http.Request) bool { return mw.OriginAllowed(cfg.Env, cfg.AllowedOrigins, req) },
		Logger:      log.Logger.With().Str("component", "ws").Logger(),
	}))
	return r
}
