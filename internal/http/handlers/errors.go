package handlers

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"papercut/internal/domain"
	"papercut/internal/middleware"
)

// StatusFor maps an error onto the HTTP status returned to the caller.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrInvalidImage),
		errors.Is(err, domain.ErrMissingInput),
		errors.Is(err, domain.ErrInvalidSeed),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.As(err, &tooLarge):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	msgInvalidImage   = "invalid_image"
	msgMissingInput   = "missing_input"
	msgInvalidSeed    = "invalid_seed"
	msgInvalidRequest = "invalid_request"
	msgTooLarge       = "too_large"
	msgUpload         = "upload_failed"
	msgSubmission     = "submission_failed"
	msgExecution      = "execution_failed"
	msgTimeout        = "timeout"
	msgRetrieval      = "retrieval_failed"
	msgUnavailable    = "engine_unavailable"
	msgInternal       = "internal"
)

var messages = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(key, en, zh string) {
		_ = b.SetString(language.English, key, en)
		_ = b.SetString(language.Chinese, key, zh)
	}
	set(msgInvalidImage, "invalid image", "无效的图片")
	set(msgMissingInput, "no input image provided", "未提供输入图片")
	set(msgInvalidSeed, "seed must be an integer between 0 and 4294967295", "种子必须是 0 到 4294967295 之间的整数")
	set(msgInvalidRequest, "invalid request", "无效的请求")
	set(msgTooLarge, "upload too large", "上传文件过大")
	set(msgUpload, "failed to upload image to the engine", "上传图片到 ComfyUI 失败")
	set(msgSubmission, "failed to submit workflow", "提交工作流失败")
	set(msgExecution, "workflow execution failed", "工作流执行失败")
	set(msgTimeout, "generation timed out", "生成超时")
	set(msgRetrieval, "failed to retrieve result", "获取结果失败")
	set(msgUnavailable, "cannot connect to the engine", "无法连接到 ComfyUI 服务")
	set(msgInternal, "internal error", "内部错误")
	return b
}()

func messageKey(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return msgTooLarge
	case errors.Is(err, domain.ErrInvalidImage):
		return msgInvalidImage
	case errors.Is(err, domain.ErrMissingInput):
		return msgMissingInput
	case errors.Is(err, domain.ErrInvalidSeed):
		return msgInvalidSeed
	case errors.Is(err, domain.ErrInvalidRequest):
		return msgInvalidRequest
	case errors.Is(err, domain.ErrUpload):
		return msgUpload
	case errors.Is(err, domain.ErrSubmission):
		return msgSubmission
	case errors.Is(err, domain.ErrExecution):
		return msgExecution
	case errors.Is(err, domain.ErrTimeout):
		return msgTimeout
	case errors.Is(err, domain.ErrRetrieval):
		return msgRetrieval
	case errors.Is(err, domain.ErrEngineUnavailable):
		return msgUnavailable
	default:
		return msgInternal
	}
}

func localize(locale, key string) string {
	p := message.NewPrinter(language.Make(locale), message.Catalog(messages))
	return p.Sprintf(key)
}

// describe renders err for a response body: a localized summary followed by
// the underlying detail, which carries upstream status and body text.
func describe(ctx context.Context, err error) string {
	summary := localize(middleware.LocaleFromContext(ctx), messageKey(err))
	if err == nil {
		return summary
	}
	return summary + ": " + err.Error()
}
