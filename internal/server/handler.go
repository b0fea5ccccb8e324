package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"relaychat/internal/auth"
	"relaychat/internal/protocol"
	"relaychat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合 REST handler，读取与认证都委托给协调服务。
type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// fail 把服务层错误翻译为 HTTP 状态码；未识别的错误记录日志并返回 500。
func fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotMember), errors.Is(err, service.ErrBlocked):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrDirectChatNotFound), errors.Is(err, service.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrRoomFull):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req protocol.CreateAccountParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	user, err := h.svc.CreateAccount(c.Request.Context(), req)
	if err != nil {
		fail(c, "register", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req protocol.LoginParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": res.Token, "user": res.User})
}

// ListRooms 返回公开群聊；带 q 参数时按名称搜索。
func (h *Handler) ListRooms(c *gin.Context) {
	var (
		rooms []protocol.RoomDTO
		err   error
	)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		rooms, err = h.svc.SearchGroupChats(c.Request.Context(), q, queryLimit(c))
	} else {
		rooms, err = h.svc.GetPublicGroupChats(c.Request.Context())
	}
	if err != nil {
		fail(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) MyRooms(c *gin.Context) {
	rooms, err := h.svc.GetUserGroupChats(c.Request.Context(), auth.GetUsername(c))
	if err != nil {
		fail(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.svc.GetGroupChat(c.Request.Context(), id)
	if err != nil {
		fail(c, "get room", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": r})
}

func (h *Handler) RoomMembers(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	members, err := h.svc.GetGroupChatMembers(c.Request.Context(), id)
	if err != nil {
		fail(c, "list members", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// RoomMessages 返回群聊历史，私有群聊只对成员开放。
func (h *Handler) RoomMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := h.svc.GetGroupChatMessages(c.Request.Context(), auth.GetUsername(c), id, queryLimit(c))
	if err != nil {
		fail(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) DirectChats(c *gin.Context) {
	chats, err := h.svc.GetUserDirectChats(c.Request.Context(), auth.GetUsername(c))
	if err != nil {
		fail(c, "list direct chats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"direct_chats": chats})
}

func (h *Handler) DirectMessages(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msgs, err := h.svc.GetDirectChatMessages(c.Request.Context(), auth.GetUsername(c), id, queryLimit(c))
	if err != nil {
		fail(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.svc.SearchUsers(c.Request.Context(), c.Query("q"), queryLimit(c))
	if err != nil {
		fail(c, "search users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
