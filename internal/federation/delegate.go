package federation

import (
	"context"

	"github.com/any-hub/npm-hub/internal/model"
)

// 发布类操作 uplink 永远只读，全部直达本地仓库。

// AddVersion 发布新版本。
func (s *Store) AddVersion(ctx context.Context, name, version string, incoming *model.Version, tag string) error {
	return s.local.AddVersion(ctx, name, version, incoming, tag)
}

// ChangePackage 套用客户端提交的清单（按版本下架/弃用/改 star）。
func (s *Store) ChangePackage(ctx context.Context, name string, incoming *model.Manifest) error {
	return s.local.ChangePackage(ctx, name, incoming)
}

// MergeTags 合并 dist-tag 变更。
func (s *Store) MergeTags(ctx context.Context, name string, tags map[string]*string) error {
	return s.local.MergeTags(ctx, name, tags)
}

// RemoveTarball 删除单个附件。
func (s *Store) RemoveTarball(ctx context.Context, name, filename, rev string) error {
	return s.local.RemoveTarball(ctx, name, filename, rev)
}

// RemovePackage 下架整个包。
func (s *Store) RemovePackage(ctx context.Context, name string) error {
	return s.local.RemovePackage(ctx, name)
}
