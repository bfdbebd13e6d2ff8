package service

import (
	"errors"
	"fmt"

	"binancedash/internal/metrics"
)

// MsgInvalidAccount 账户不存在和不属于当前用户返回同一条消息
const MsgInvalidAccount = "无效的币安账户"

// ValidationError 入参不合法，在任何副作用之前返回
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return MsgInvalidAccount
	}
	return e.Reason
}

// PersistenceError 存储层失败，Err 只用于日志，不返回给前端
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string {
	return e.Reason
}

// BusyError 用户锁被占用
type BusyError struct {
	Err error
}

func (e *BusyError) Error() string {
	return "系统繁忙，请稍后重试"
}

func (e *BusyError) Unwrap() error {
	return e.Err
}

// UpstreamError 币安接口调用失败
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// outcome 把错误映射为指标标签
func outcome(err error) string {
	var (
		validationErr    *ValidationError
		authorizationErr *AuthorizationError
		busyErr          *BusyError
	)
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &validationErr):
		return metrics.OutcomeRejected
	case errors.As(err, &authorizationErr):
		return metrics.OutcomeUnauthorized
	case errors.As(err, &busyErr):
		return metrics.OutcomeBusy
	default:
		return metrics.OutcomeError
	}
}

func observe(workflow string, err error) {
	metrics.WorkflowTotal.WithLabelValues(workflow, outcome(err)).Inc()
}
