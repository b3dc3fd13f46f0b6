package routes

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/npm-hub/internal/model"
)

// dispatchDistTags 处理 /-/package/{pkg}/dist-tags[/{tag}] 族端点。
func (d *Deps) dispatchDistTags(c fiber.Ctx, name string, rest []string) error {
	method := c.Method()

	switch {
	case len(rest) == 0 && method == fiber.MethodGet:
		return d.handleListTags(c, name)

	case len(rest) == 0 && (method == fiber.MethodPut || method == fiber.MethodPost):
		return d.handleMergeTagMap(c, name)

	case len(rest) == 1 && (method == fiber.MethodPut || method == fiber.MethodPost):
		return d.handleSetTag(c, name, rest[0])

	case len(rest) == 1 && method == fiber.MethodDelete:
		return d.handleDeleteTag(c, name, rest[0])
	}

	return respondError(c, fiber.StatusNotFound, "not found")
}

// handleListTags 对应 GET dist-tags：返回本地清单的标签表。
func (d *Deps) handleListTags(c fiber.Ctx, name string) error {
	manifest, err := d.Registry.Local().GetManifest(requestContext(c), name)
	if err != nil {
		return respondFailure(c, err)
	}
	return c.JSON(manifest.DistTags)
}

// handleSetTag 对应 PUT dist-tags/{tag}，请求体是版本号字符串。
func (d *Deps) handleSetTag(c fiber.Ctx, name, tag string) error {
	version := parseVersionBody(c.Body())
	if version == "" {
		return respondFailure(c, model.NewError(model.KindBadRequest, "version body required"))
	}

	tags := map[string]*string{tag: &version}
	if err := d.Registry.MergeTags(requestContext(c), name, tags); err != nil {
		return respondFailure(c, err)
	}
	return respondOK(c, "dist-tags updated")
}

// handleDeleteTag 对应 DELETE dist-tags/{tag}。
func (d *Deps) handleDeleteTag(c fiber.Ctx, name, tag string) error {
	tags := map[string]*string{tag: nil}
	if err := d.Registry.MergeTags(requestContext(c), name, tags); err != nil {
		return respondFailure(c, err)
	}
	return respondOK(c, "dist-tags removed")
}

// handleMergeTagMap 对应 PUT/POST dist-tags：请求体是 tag → version 表。
func (d *Deps) handleMergeTagMap(c fiber.Ctx, name string) error {
	incoming := map[string]*string{}
	if err := json.Unmarshal(c.Body(), &incoming); err != nil {
		return respondFailure(c, model.WrapError(model.KindBadData, err, "dist-tags body invalid"))
	}
	if err := d.Registry.MergeTags(requestContext(c), name, incoming); err != nil {
		return respondFailure(c, err)
	}
	return respondOK(c, "dist-tags updated")
}

// handlePutTag 对应历史端点 PUT /{pkg}/{tag}，请求体是版本号字符串。
func (d *Deps) handlePutTag(c fiber.Ctx, name, tag string) error {
	return d.handleSetTag(c, name, tag)
}

// parseVersionBody 兼容裸字符串与 JSON 字符串两种请求体。
func parseVersionBody(raw []byte) string {
	var version string
	if err := json.Unmarshal(raw, &version); err == nil {
		return strings.TrimSpace(version)
	}
	return strings.TrimSpace(strings.Trim(string(raw), `"`))
}
