package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/npm-hub/internal/federation"
	"github.com/any-hub/npm-hub/internal/model"
)

// statusFor 把错误分类映射到 HTTP 状态码。
func statusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindNotFound:
		return fiber.StatusNotFound
	case model.KindConflict:
		return fiber.StatusConflict
	case model.KindBadData, model.KindBadRequest:
		return fiber.StatusBadRequest
	case model.KindUnavailable:
		return fiber.StatusServiceUnavailable
	case model.KindContentMismatch:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError 输出 npm 客户端识别的 {"error": ...} 结构。
func respondError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// respondFailure 按错误分类渲染响应。
func respondFailure(c fiber.Ctx, err error) error {
	return respondError(c, statusFor(err), err.Error())
}

// respondOK 输出 201 + {"ok": ...}，用于发布与变更成功。
func respondOK(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": message})
}

// requestOptions 从请求上下文提取 dist 地址改写所需的来源信息。
func requestOptions(c fiber.Ctx) federation.RequestOptions {
	return federation.RequestOptions{
		Protocol: c.Protocol(),
		Host:     string(c.Request().URI().Host()),
	}
}
