package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
)

// AddVersion 发布一个新版本。首次发布会创建清单并登记全局索引，
// 重复发布同一版本返回 conflict。
func (s *Local) AddVersion(ctx context.Context, name, version string, incoming *model.Version, tag string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}
	if incoming == nil || version == "" {
		return model.NewError(model.KindBadData, "version metadata required")
	}

	transform := func(m *model.Manifest) (*model.Manifest, error) {
		return s.applyAddVersion(m, name, version, incoming, tag)
	}

	_, err := s.backend.UpdateManifest(ctx, name, transform)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return translateWriteError(name, err)
	}

	// 首次发布：先物化空清单再重放事务，并发的首发也只会有一个赢家。
	if err := s.CreatePackage(ctx, name); err != nil {
		return err
	}
	if _, err := s.backend.UpdateManifest(ctx, name, transform); err != nil {
		return translateWriteError(name, err)
	}

	s.log().WithFields(logrus.Fields{
		"action":  "publish",
		"package": name,
		"version": version,
	}).Info("package created")
	return nil
}

// applyAddVersion 是发布事务的纯变换：入参副本被修改后整体返回。
func (s *Local) applyAddVersion(m *model.Manifest, name, version string, incoming *model.Version, tag string) (*model.Manifest, error) {
	if _, exists := m.Versions[version]; exists {
		return nil, model.NewError(model.KindConflict, "version %s already exists for %s", version, name)
	}

	ver := *incoming
	ver.Name = name
	ver.Version = version

	// 一包一 README：正文挂在清单上，版本记录不再重复保存。
	if ver.Readme != "" {
		m.Readme = ver.Readme
		ver.Readme = ""
	}
	ver.Contributors = model.NormalizeContributors(ver.Contributors)

	filename := tarballName(&ver, name, version)
	if attachment, ok := m.Attachments[filename]; ok {
		if attachment.Shasum != "" && ver.Dist.Shasum != "" && attachment.Shasum != ver.Dist.Shasum {
			return nil, model.NewError(model.KindBadRequest,
				"shasum mismatch for %s: uploaded %s, expected %s", filename, ver.Dist.Shasum, attachment.Shasum)
		}
		attachment.Version = version
	}

	m.Versions[version] = &ver

	now := time.Now()
	m.Time[version] = now.UTC().Format(time.RFC3339Nano)
	m.Touch(now)

	applyTag(m, version, tag)
	bumpRevision(m)
	return m, nil
}

// applyTag 更新 dist-tags。没有 latest 时选 semver 意义下最大的版本补上。
func applyTag(m *model.Manifest, version, tag string) {
	if tag == "" {
		tag = "latest"
	}
	m.DistTags[tag] = version

	if _, ok := m.DistTags["latest"]; ok {
		return
	}
	latest := version
	for v := range m.Versions {
		if model.IsNewerVersion(v, latest) {
			latest = v
		}
	}
	m.DistTags["latest"] = latest
}

// tarballName 优先取 dist.tarball URL 的文件名，缺失时按约定拼出。
func tarballName(ver *model.Version, name, version string) string {
	if ver.Dist.Tarball != "" {
		if filename := model.FilenameFromURL(ver.Dist.Tarball); filename != "" {
			return filename
		}
	}
	return model.TarballFilename(name, version)
}

// ChangePackage 整体套用客户端提交的清单：支持按版本下架与弃用标记，
// users 与 dist-tags 以提交内容为准。
func (s *Local) ChangePackage(ctx context.Context, name string, incoming *model.Manifest) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}
	if incoming == nil || incoming.Versions == nil || incoming.DistTags == nil {
		return model.NewError(model.KindBadData, "incoming manifest missing versions or dist-tags")
	}

	_, err := s.backend.UpdateManifest(ctx, name, func(m *model.Manifest) (*model.Manifest, error) {
		now := time.Now()
		dirty := false

		for version := range m.Versions {
			if _, kept := incoming.Versions[version]; kept {
				continue
			}
			delete(m.Versions, version)
			delete(m.Time, version)
			for _, attachment := range m.Attachments {
				if attachment.Version == version {
					attachment.Version = ""
				}
			}
			dirty = true
			s.log().WithFields(logrus.Fields{
				"action":  "unpublish_version",
				"package": name,
				"version": version,
			}).Info("version removed")
		}

		for version, local := range m.Versions {
			remote, ok := incoming.Versions[version]
			if !ok {
				continue
			}
			if remote.Deprecated != local.Deprecated {
				local.Deprecated = remote.Deprecated
				dirty = true
			}
		}
		if dirty {
			m.Touch(now)
		}

		m.Users = incoming.Users
		if m.Users == nil {
			m.Users = map[string]bool{}
		}
		m.DistTags = incoming.DistTags

		bumpRevision(m)
		return m, nil
	})
	return translateWriteError(name, err)
}

// MergeTags 合并 dist-tag 变更：nil 值删除标签，其余指向的版本必须已存在。
func (s *Local) MergeTags(ctx context.Context, name string, tags map[string]*string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}

	_, err := s.backend.UpdateManifest(ctx, name, func(m *model.Manifest) (*model.Manifest, error) {
		for tag, version := range tags {
			if version == nil {
				delete(m.DistTags, tag)
				continue
			}
			if _, ok := m.Versions[*version]; !ok {
				return nil, model.NewError(model.KindNotFound, "this version does not exist: %s", *version)
			}
			m.DistTags[tag] = *version
		}
		m.Touch(time.Now())
		bumpRevision(m)
		return m, nil
	})
	return translateWriteError(name, err)
}

// RemoveTarball 先从清单移除附件记录，再删除后端字节。清单已一致时
// 字节删除失败只记日志，不向调用方报错。
func (s *Local) RemoveTarball(ctx context.Context, name, filename, rev string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}

	_, err := s.backend.UpdateManifest(ctx, name, func(m *model.Manifest) (*model.Manifest, error) {
		if _, ok := m.Attachments[filename]; !ok {
			return nil, model.NewError(model.KindNotFound, "no such file available: %s", filename)
		}
		delete(m.Attachments, filename)
		m.Touch(time.Now())
		bumpRevision(m)
		return m, nil
	})
	if err != nil {
		return translateWriteError(name, err)
	}

	if err := s.backend.DeleteTarball(ctx, name, filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log().WithError(err).WithFields(logrus.Fields{
			"action":  "remove_tarball",
			"package": name,
			"file":    filename,
		}).Warn("tarball blob delete failed")
	}
	return nil
}

// RemovePackage 下架整个包：逐个删除附件字节，再删除清单与包目录。
func (s *Local) RemovePackage(ctx context.Context, name string) error {
	manifest, err := s.GetManifest(ctx, name)
	if err != nil {
		return err
	}

	for filename := range manifest.Attachments {
		if err := s.backend.DeleteTarball(ctx, name, filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return model.WrapError(model.KindBadData, err, "remove attachment %s of %s", filename, name)
		}
	}

	if err := s.backend.RemovePackage(ctx, name); err != nil {
		return model.WrapError(model.KindBadData, err, "remove package %s", name)
	}

	s.log().WithFields(logrus.Fields{
		"action":  "unpublish_package",
		"package": name,
	}).Info("package removed")
	return nil
}

// translateWriteError 归一化事务错误：后端 not-found/conflict 映射到对应
// 分类，已分类错误原样透传。
func translateWriteError(name string, err error) error {
	if err == nil {
		return nil
	}

	var typed *model.Error
	if errors.As(err, &typed) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.NewError(model.KindNotFound, "no such package: %s", name)
	case errors.Is(err, storage.ErrConflict):
		return model.NewError(model.KindConflict, "concurrent update on %s", name)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return model.WrapError(model.KindInternal, err, "update package %s", name)
	}
}
