// Package store 在存储后端之上实现本地仓库语义：清单归一化、修订管理、
// 发布/下架变更以及 uplink 元数据合并。所有变更都经由后端的包级串行事务。
package store

import (
	"context"
	"errors"
	"io/fs"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
)

// Local 独占清单与 tarball 字节的所有权，联邦层只作为消费者。
type Local struct {
	backend    storage.Backend
	logger     *logrus.Logger
	uplinkURLs map[string]*url.URL
}

// NewLocal 构建本地仓库。uplinkURLs 用于把远端 dist 地址的协议改写成
// 运维方配置的协议，键是 uplink 名称。
func NewLocal(backend storage.Backend, logger *logrus.Logger, uplinkURLs map[string]*url.URL) *Local {
	if uplinkURLs == nil {
		uplinkURLs = map[string]*url.URL{}
	}
	return &Local{
		backend:    backend,
		logger:     logger,
		uplinkURLs: uplinkURLs,
	}
}

// Backend 暴露底层后端，供联邦层直接开 tarball 流。
func (s *Local) Backend() storage.Backend {
	return s.backend
}

// GetManifest 读取并归一化清单。后端缺失或文件系统 ENOENT 统一映射为
// not-found，其余错误归类为 internal。
func (s *Local) GetManifest(ctx context.Context, name string) (*model.Manifest, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}

	manifest, err := s.backend.ReadManifest(ctx, name)
	if err != nil {
		return nil, translateReadError(name, err)
	}
	return manifest.Normalize(), nil
}

// ReadOrCreate 与 GetManifest 一致，但 not-found 时返回一份未落盘的空模板。
func (s *Local) ReadOrCreate(ctx context.Context, name string) (*model.Manifest, error) {
	manifest, err := s.GetManifest(ctx, name)
	if err == nil {
		return manifest, nil
	}
	if model.IsNotFound(err) {
		return model.NewManifest(name), nil
	}
	return nil, err
}

// translateReadError 把后端错误翻译成 registry 错误分类。
func translateReadError(name string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return model.NewError(model.KindNotFound, "no such package: %s", name)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		var typed *model.Error
		if errors.As(err, &typed) {
			return err
		}
		return model.WrapError(model.KindInternal, err, "read package %s", name)
	}
}

// bumpRevision 在成功写入前推进修订号，debug 模式下保持不变。
func bumpRevision(m *model.Manifest) {
	m.Rev = model.GenerateRevision(m.Rev)
}

func (s *Local) log() *logrus.Logger {
	if s.logger != nil {
		return s.logger
	}
	fallback := logrus.New()
	fallback.SetLevel(logrus.PanicLevel)
	return fallback
}
