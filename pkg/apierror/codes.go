package apierror

import "net/http"

// 控制面预定义错误
var (
	// ErrResourceNotFound 引用的记录不存在（例如实例缺少计费记录）
	ErrResourceNotFound = &Error{
		Code:       "ResourceNotFound",
		Message:    "The referenced record does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrInvalidParameter 请求参数非法
	ErrInvalidParameter = &Error{
		Code:       "InvalidParameter",
		Message:    "A parameter in the request is invalid.",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrIdentityPoolExhausted worker identity 池已耗尽
	// 必须显式失败，绝不能分配可能冲突的 identity
	ErrIdentityPoolExhausted = &Error{
		Code:       "IdentityPoolExhausted",
		Message:    "No free worker identity is available in the pool.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrConcurrencyConflict 乐观并发冲突，另一个写入者先更新了记录
	ErrConcurrencyConflict = &Error{
		Code:       "ConcurrencyConflict",
		Message:    "The record was modified by another writer. Retry with fresh state.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrProvisioningFailed 置备流水线中的某个步骤失败
	ErrProvisioningFailed = &Error{
		Code:       "ProvisioningFailed",
		Message:    "A provisioning step failed. The instance is left for the reconciler to retry.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrTierLimitExceeded 超出租户套餐允许的配额
	ErrTierLimitExceeded = &Error{
		Code:       "TierLimitExceeded",
		Message:    "The tenant has reached the limit of its billing tier.",
		HTTPStatus: http.StatusForbidden,
	}

	// ErrInstanceNotRunnable 实例处于无法执行该操作的状态
	ErrInstanceNotRunnable = &Error{
		Code:       "InstanceNotRunnable",
		Message:    "The instance is not in a state that allows this operation.",
		HTTPStatus: http.StatusConflict,
	}

	// ErrInternalError 发生了内部错误
	ErrInternalError = &Error{
		Code:       "InternalError",
		Message:    "An internal error has occurred. Retry your request; if the problem persists, contact the operators.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
