// Package routes 注册 npm 兼容的 registry 端点。包名可能以 scoped 或
// URL 转义形式出现，统一在分发层解析后交给具体 handler。
package routes

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/federation"
)

// Deps 汇总 handler 依赖，便于测试注入。
type Deps struct {
	Registry *federation.Store
	Logger   *logrus.Logger
}

// RegisterRoutes 安装所有端点。registry 的路径语法（scoped 包、`/-/` 分隔
// 的 tarball 段）不适合静态路由表，用单个分发器手工匹配。
func RegisterRoutes(app *fiber.App, deps *Deps) {
	app.All("/*", func(c fiber.Ctx) error {
		return deps.dispatch(c)
	})
}

func (d *Deps) dispatch(c fiber.Ctx) error {
	segments, ok := splitPath(string(c.Request().URI().Path()))
	if !ok {
		return respondError(c, fiber.StatusBadRequest, "invalid path encoding")
	}
	if len(segments) == 0 {
		return respondError(c, fiber.StatusNotFound, "not found")
	}

	if segments[0] == "-" {
		return d.dispatchMeta(c, segments[1:])
	}

	name, rest, ok := parsePackageName(segments)
	if !ok {
		return respondError(c, fiber.StatusNotFound, "not found")
	}
	return d.dispatchPackage(c, name, rest)
}

// dispatchMeta 处理 `/-/` 前缀的 registry 元数据端点。
func (d *Deps) dispatchMeta(c fiber.Ctx, rest []string) error {
	method := c.Method()

	switch {
	case len(rest) == 1 && rest[0] == "ping" && method == fiber.MethodGet:
		return c.JSON(fiber.Map{})

	case len(rest) == 2 && rest[0] == "v1" && rest[1] == "search" && method == fiber.MethodGet:
		return d.handleSearch(c)

	case len(rest) >= 2 && rest[0] == "package":
		name, tail, ok := parsePackageName(rest[1:])
		if !ok || len(tail) == 0 || tail[0] != "dist-tags" {
			return respondError(c, fiber.StatusNotFound, "not found")
		}
		return d.dispatchDistTags(c, name, tail[1:])
	}

	return respondError(c, fiber.StatusNotFound, "not found")
}

// dispatchPackage 处理以包名开头的端点。
func (d *Deps) dispatchPackage(c fiber.Ctx, name string, rest []string) error {
	method := c.Method()

	switch {
	case len(rest) == 0:
		switch method {
		case fiber.MethodGet:
			return d.handleGetManifest(c, name)
		case fiber.MethodPut:
			return d.handlePublish(c, name)
		}

	case len(rest) == 2 && rest[0] == "-rev":
		switch method {
		case fiber.MethodPut:
			return d.handleChangePackage(c, name)
		case fiber.MethodDelete:
			return d.handleRemovePackage(c, name)
		}

	case len(rest) == 2 && rest[0] == "-" && method == fiber.MethodGet:
		return d.handleGetTarball(c, name, rest[1])

	case len(rest) == 4 && rest[0] == "-" && rest[2] == "-rev" && method == fiber.MethodDelete:
		return d.handleRemoveTarball(c, name, rest[1], rest[3])

	case len(rest) == 1:
		switch method {
		case fiber.MethodGet:
			return d.handleGetVersion(c, name, rest[0])
		case fiber.MethodPut:
			return d.handlePutTag(c, name, rest[0])
		}
	}

	return respondError(c, fiber.StatusNotFound, "not found")
}

// splitPath 切分并逐段 URL 解码，任何一段解码失败都拒绝请求。
func splitPath(path string) ([]string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, true
	}

	raw := strings.Split(trimmed, "/")
	segments := make([]string, 0, len(raw))
	for _, segment := range raw {
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			return nil, false
		}
		segments = append(segments, decoded)
	}
	return segments, true
}

// parsePackageName 识别三种包名写法：普通名、`@scope/name` 两段式、
// 以及整体转义后的 `@scope%2fname` 单段式。
func parsePackageName(segments []string) (string, []string, bool) {
	if len(segments) == 0 {
		return "", nil, false
	}

	head := segments[0]
	if strings.HasPrefix(head, "@") {
		if strings.Contains(head, "/") {
			return head, segments[1:], true
		}
		if len(segments) < 2 {
			return "", nil, false
		}
		return head + "/" + segments[1], segments[2:], true
	}
	return head, segments[1:], true
}
