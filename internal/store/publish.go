package store

import (
	"context"
	"errors"

	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
)

// CreatePackage 确保清单存在：缺失时写入空模板并登记全局索引。
// 已存在时是空操作，发布流程可以安全地先行调用。
func (s *Local) CreatePackage(ctx context.Context, name string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}

	_, err := s.backend.ReadManifest(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return translateReadError(name, err)
	}

	fresh := model.NewManifest(name)
	bumpRevision(fresh)
	if err := s.backend.WriteManifest(ctx, name, fresh); err != nil {
		return translateWriteError(name, err)
	}
	return translateWriteError(name, s.backend.AddPackage(ctx, name))
}

// RecordAttachment 在 tarball 上传完成后登记附件校验值。已有 shasum 且
// 与新值冲突时拒绝；历史上无 shasum 的记录接受新值。
func (s *Local) RecordAttachment(ctx context.Context, name, filename, shasum string) error {
	if err := model.ValidateName(name); err != nil {
		return err
	}

	_, err := s.backend.UpdateManifest(ctx, name, func(m *model.Manifest) (*model.Manifest, error) {
		attachment, ok := m.Attachments[filename]
		if !ok {
			m.Attachments[filename] = &model.Attachment{Shasum: shasum}
			bumpRevision(m)
			return m, nil
		}
		if attachment.Shasum != "" && shasum != "" && attachment.Shasum != shasum {
			return nil, model.NewError(model.KindBadRequest,
				"shasum mismatch for %s: uploaded %s, expected %s", filename, shasum, attachment.Shasum)
		}
		attachment.Shasum = shasum
		bumpRevision(m)
		return m, nil
	})
	return translateWriteError(name, err)
}
