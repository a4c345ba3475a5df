package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	xerrors "AgentReceipt/internal/errors"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/pkg/logger"
)

// CodeRateLimited 表示客户端超出了请求速率。
const CodeRateLimited xerrors.Code = "RATE_LIMITED"

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:  "too many requests",
		Severity: xerrors.SeverityInfo,
	})
}

// ProblemDetail 是 RFC 7807 格式的错误响应。
type ProblemDetail struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Code     string            `json:"code"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// statusFor 将统一错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidInput, xerrors.CodeInvalidSignature, jobs.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, jobs.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeDuplicateAttestation, xerrors.CodeAlreadyAnchored, jobs.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeMismatch:
		return http.StatusUnprocessableEntity
	case xerrors.CodeChainFailure:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出错误响应，5xx 同时记录日志。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	detail := err.Error()
	var metadata map[string]string
	if e, ok := xerrors.From(err); ok {
		detail = e.Message()
		metadata = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.Any("error", err))
	}
	writeProblem(w, r, status, code, detail, metadata)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code xerrors.Code, detail string, metadata map[string]string) {
	problem := ProblemDetail{
		Type:     "urn:agentreceipt:error:" + strings.ToLower(string(code)),
		Title:    http.StatusText(status),
		Status:   status,
		Code:     string(code),
		Detail:   detail,
		Instance: r.URL.Path,
		Metadata: metadata,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
