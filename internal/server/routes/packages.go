package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/npm-hub/internal/federation"
	"github.com/any-hub/npm-hub/internal/logging"
	"github.com/any-hub/npm-hub/internal/model"
)

// handleGetManifest 对应 GET /{pkg}：读穿透后返回改写过 dist 地址的清单。
func (d *Deps) handleGetManifest(c fiber.Ctx, name string) error {
	manifest, warnings := d.Registry.GetPackageManifest(requestContext(c), federation.GetOptions{
		Name:        name,
		UplinksLook: true,
		Request:     requestOptions(c),
	})
	if manifest == nil {
		err := firstError(warnings)
		d.Logger.WithError(err).
			WithFields(logging.PackageFields("get_package", name, "", false)).
			Info("package unavailable")
		return respondFailure(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.JSON(manifest)
}

// handleGetVersion 对应 GET /{pkg}/{version|tag}。
func (d *Deps) handleGetVersion(c fiber.Ctx, name, version string) error {
	resolved, err := d.Registry.GetPackageByVersion(requestContext(c), federation.GetOptions{
		Name:        name,
		Version:     version,
		UplinksLook: true,
		Request:     requestOptions(c),
	})
	if err != nil {
		return respondFailure(c, err)
	}
	return c.JSON(resolved)
}

// handleRemovePackage 对应 DELETE /{pkg}/-rev/{rev}。
func (d *Deps) handleRemovePackage(c fiber.Ctx, name string) error {
	if err := d.Registry.RemovePackage(requestContext(c), name); err != nil {
		return respondFailure(c, err)
	}
	return respondOK(c, "package removed")
}

// requestContext 提取请求级 context，fiber 保证其随客户端断开取消。
func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func firstError(warnings []error) error {
	if len(warnings) == 0 {
		return model.NewError(model.KindNotFound, "no such package available")
	}
	return warnings[len(warnings)-1]
}
