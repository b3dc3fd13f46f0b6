package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/npm-hub/internal/logging"
)

// handleGetTarball 对应 GET /{pkg}/-/{file}：本地命中直接流出，
// 未命中走读穿透（可能顺带写缓存）。
func (d *Deps) handleGetTarball(c fiber.Ctx, name, filename string) error {
	reader, err := d.Registry.GetTarball(requestContext(c), name, filename)
	if err != nil {
		d.Logger.WithError(err).
			WithFields(logging.PackageFields("get_tarball", name, "", false)).
			Info("tarball unavailable")
		return respondFailure(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.SendStream(reader)
}

// handleRemoveTarball 对应 DELETE /{pkg}/-/{file}/-rev/{rev}。
func (d *Deps) handleRemoveTarball(c fiber.Ctx, name, filename, rev string) error {
	if err := d.Registry.RemoveTarball(requestContext(c), name, filename, rev); err != nil {
		return respondFailure(c, err)
	}
	return respondOK(c, "tarball removed")
}
