package handler

import (
	stdjson "encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"binancedash/internal/config"
	"binancedash/internal/service"
	"binancedash/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	bindService   *service.BindService
	switchService *service.SwitchService
	unbindService *service.UnbindService
	queryService  *service.AccountQueryService
	marketService *service.MarketService
	avatarMaxSize int64
}

func NewHandler(svc *service.Services, cfg *config.Config) *Handler {
	return &Handler{
		bindService:   svc.Bind,
		switchService: svc.Switch,
		unbindService: svc.Unbind,
		queryService:  svc.Query,
		marketService: svc.Market,
		avatarMaxSize: cfg.Business.AvatarMaxBytes,
	}
}

// ============================================================
// 币安账户
// ============================================================

// Bind 绑定币安账户
// POST /api/v1/binance/bind  multipart: api_key, secret_key, nickname, avatar
func (h *Handler) Bind(c *gin.Context) {
	avatar, err := h.readAvatar(c)
	if err != nil {
		response.ParamError(c, "头像读取失败")
		return
	}

	account, err := h.bindService.Bind(c.Request.Context(), currentUserID(c), &service.BindRequest{
		APIKey:    c.PostForm("api_key"),
		APISecret: c.PostForm("secret_key"),
		Nickname:  c.PostForm("nickname"),
		Avatar:    avatar,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, account)
}

// ListAccounts 账户列表
// GET /api/v1/binance/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	list, err := h.queryService.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// CurrentAccount 当前账户，没有账户时 account 为 null
// GET /api/v1/binance/current
func (h *Handler) CurrentAccount(c *gin.Context) {
	account, err := h.queryService.Current(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"account": account})
}

// AccountIDRequest binance_user_id 可以是数字，也可以是字符串形式的数字
type AccountIDRequest struct {
	BinanceUserID stdjson.Number `json:"binance_user_id" binding:"required"`
}

func (r *AccountIDRequest) id() (int64, error) {
	return strconv.ParseInt(r.BinanceUserID.String(), 10, 64)
}

// Switch 切换当前账户
// POST /api/v1/binance/switch
func (h *Handler) Switch(c *gin.Context) {
	var req AccountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: binance_user_id 不能为空")
		return
	}
	accountID, err := req.id()
	if err != nil {
		response.ParamError(c, "binance_user_id 参数错误")
		return
	}

	if err := h.switchService.Switch(c.Request.Context(), currentUserID(c), accountID); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"current_binance_user_id": strconv.FormatInt(accountID, 10),
	})
}

// Unbind 解绑账户；清理失败时仍返回成功，并带上 warning
// POST /api/v1/binance/unbind
func (h *Handler) Unbind(c *gin.Context) {
	var req AccountIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: binance_user_id 不能为空")
		return
	}
	accountID, err := req.id()
	if err != nil {
		response.ParamError(c, "binance_user_id 参数错误")
		return
	}

	result, err := h.unbindService.Unbind(c.Request.Context(), currentUserID(c), accountID)
	if err != nil {
		writeError(c, err)
		return
	}

	if result.Warning != "" {
		response.SuccessWithWarning(c, result, result.Warning)
		return
	}
	response.Success(c, result)
}

// UpdateAvatar 更新账户头像
// POST /api/v1/binance/avatar  multipart: binance_user_id, avatar
func (h *Handler) UpdateAvatar(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.PostForm("binance_user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "binance_user_id 参数错误")
		return
	}

	avatar, err := h.readAvatar(c)
	if err != nil {
		response.ParamError(c, "头像读取失败")
		return
	}

	account, err := h.bindService.UpdateAvatar(c.Request.Context(), currentUserID(c), accountID, avatar)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

// ============================================================
// 行情
// ============================================================

// Depth 当前账户视角的现货盘口
// GET /api/v1/spot/depth?symbol=BTCUSDT&limit=10
func (h *Handler) Depth(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.ParamError(c, "limit 参数错误")
			return
		}
		limit = n
	}

	depth, err := h.marketService.Depth(c.Request.Context(), currentUserID(c), c.Query("symbol"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, depth)
}

// readAvatar 读取 avatar 文件字段，最多多读 1 字节交给服务层判断超限；未上传返回 nil
func (h *Handler) readAvatar(c *gin.Context) (*service.AvatarFile, error) {
	fh, err := c.FormFile("avatar")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.avatarMaxSize+1))
	if err != nil {
		return nil, err
	}
	return &service.AvatarFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
