package api

import (
	"encoding/json"
	"net/http"

	xerrors "OpenHive-Swarm/internal/errors"
)

// envelope 是所有接口的统一响应格式。
type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorBody{Code: string(code), Message: err.Error()}
	if appErr, ok := xerrors.From(err); ok {
		body.Message = appErr.Message()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(code))
	_ = json.NewEncoder(w).Encode(envelope{OK: false, Error: &body})
}

// httpStatus 将错误码映射为 HTTP 状态码。
func httpStatus(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidState, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeBusy:
		return http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
