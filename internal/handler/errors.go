package handler

import (
	"errors"

	"binancedash/internal/service"
	"binancedash/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// writeError 把服务层错误映射为响应码，存储层细节只写日志
func writeError(c *gin.Context, err error) {
	var (
		validationErr    *service.ValidationError
		authorizationErr *service.AuthorizationError
		notFoundErr      *service.NotFoundError
		busyErr          *service.BusyError
		upstreamErr      *service.UpstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		response.ParamError(c, validationErr.Error())
	case errors.As(err, &authorizationErr):
		response.Forbidden(c, service.MsgInvalidAccount)
	case errors.As(err, &notFoundErr):
		response.NotFound(c, notFoundErr.Error())
	case errors.As(err, &busyErr):
		response.Error(c, response.CodeTooManyRequests, busyErr.Error())
	case errors.As(err, &upstreamErr):
		logrus.WithFields(logrus.Fields{
			"component": "http",
			"path":      c.FullPath(),
		}).WithError(err).Warn("上游接口调用失败")
		response.Error(c, response.CodeUpstreamError, "币安接口暂时不可用，请稍后重试")
	default:
		logrus.WithFields(logrus.Fields{
			"component": "http",
			"path":      c.FullPath(),
			"user_id":   currentUserID(c),
		}).WithError(err).Error("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}
