package routes

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/logging"
	"github.com/any-hub/npm-hub/internal/model"
)

// publishBody 是 npm publish 的请求载荷：一个清单外加内联 base64 tarball。
type publishBody struct {
	Name        string                       `json:"name"`
	Versions    map[string]*model.Version    `json:"versions"`
	DistTags    map[string]string            `json:"dist-tags"`
	Users       map[string]bool              `json:"users"`
	Attachments map[string]publishAttachment `json:"_attachments"`
}

type publishAttachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int64  `json:"length"`
}

// handlePublish 对应 PUT /{pkg}：携带附件时是发布新版本，
// 附件清空时退化为 change_package（按版本下架 / 弃用 / star）。
func (d *Deps) handlePublish(c fiber.Ctx, name string) error {
	body, err := parsePublishBody(c.Body())
	if err != nil {
		return respondFailure(c, err)
	}

	if len(body.Attachments) == 0 {
		return d.applyChange(c, name, body)
	}

	ctx := requestContext(c)
	if err := d.Registry.Local().CreatePackage(ctx, name); err != nil {
		return respondFailure(c, err)
	}

	for rawFilename, attachment := range body.Attachments {
		// scoped 包的附件键可能带 @scope/ 前缀，落盘统一用末段文件名。
		filename := model.FilenameFromURL(rawFilename)
		tarball, decodeErr := base64.StdEncoding.DecodeString(attachment.Data)
		if decodeErr != nil {
			return respondFailure(c, model.NewError(model.KindBadData, "attachment %s is not valid base64", filename))
		}
		if attachment.Length > 0 && int64(len(tarball)) != attachment.Length {
			return respondFailure(c, model.NewError(model.KindBadData,
				"attachment %s length mismatch: declared %d, got %d", filename, attachment.Length, len(tarball)))
		}

		digest := sha1.Sum(tarball)
		shasum := hex.EncodeToString(digest[:])

		writeStream, openErr := d.Registry.AddTarball(ctx, name, filename)
		if openErr != nil {
			return respondFailure(c, openErr)
		}
		if _, writeErr := writeStream.Write(tarball); writeErr != nil {
			writeStream.Abort()
			return respondFailure(c, model.WrapError(model.KindInternal, writeErr, "store tarball %s", filename))
		}
		if commitErr := writeStream.Commit(); commitErr != nil {
			return respondFailure(c, model.WrapError(model.KindInternal, commitErr, "commit tarball %s", filename))
		}

		if recordErr := d.Registry.Local().RecordAttachment(ctx, name, filename, shasum); recordErr != nil {
			return respondFailure(c, recordErr)
		}
	}

	published := 0
	for version, ver := range body.Versions {
		tag := "latest"
		for tagName, tagged := range body.DistTags {
			if tagged == version {
				tag = tagName
				break
			}
		}
		if err := d.Registry.AddVersion(ctx, name, version, ver, tag); err != nil {
			return respondFailure(c, err)
		}
		published++
	}
	if published == 0 {
		return respondFailure(c, model.NewError(model.KindBadData, "no versions in publish payload"))
	}

	d.Logger.WithFields(logrus.Fields{
		"action":  "publish",
		"package": name,
	}).Info("publish accepted")
	return respondOK(c, "created new package")
}

// handleChangePackage 对应 PUT /{pkg}/-rev/{rev}。
func (d *Deps) handleChangePackage(c fiber.Ctx, name string) error {
	body, err := parsePublishBody(c.Body())
	if err != nil {
		return respondFailure(c, err)
	}
	return d.applyChange(c, name, body)
}

func (d *Deps) applyChange(c fiber.Ctx, name string, body *publishBody) error {
	incoming := &model.Manifest{
		Name:     name,
		Versions: body.Versions,
		DistTags: body.DistTags,
		Users:    body.Users,
	}
	if err := d.Registry.ChangePackage(requestContext(c), name, incoming); err != nil {
		return respondFailure(c, err)
	}

	d.Logger.WithFields(logging.PackageFields("change_package", name, "", false)).Info("package changed")
	return respondOK(c, "package changed")
}

// parsePublishBody 解码请求体，__proto__ 键在进入模型前被剔除。
func parsePublishBody(raw []byte) (*publishBody, error) {
	cleaned, err := model.StripProtoKeys(raw)
	if err != nil {
		return nil, model.WrapError(model.KindBadData, err, "request body is not valid json")
	}

	body := &publishBody{}
	if err := json.Unmarshal(cleaned, body); err != nil {
		return nil, model.WrapError(model.KindBadData, err, "request body structure invalid")
	}
	if body.Versions == nil {
		return nil, model.NewError(model.KindBadData, "versions must be an object")
	}
	return body, nil
}
