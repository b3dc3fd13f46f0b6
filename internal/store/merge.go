package store

import (
	"context"
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
)

// MergeRemoteIntoCache 把一次成功的 uplink 拉取合并进本地缓存。
// 没有实际变更时不写盘，直接返回现有清单。
func (s *Local) MergeRemoteIntoCache(ctx context.Context, name string, remote *model.Manifest) (*model.Manifest, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, model.NewError(model.KindBadData, "remote manifest is nil")
	}
	remote.Normalize()

	merged, err := s.backend.UpdateManifest(ctx, name, func(m *model.Manifest) (*model.Manifest, error) {
		if !s.mergeRemote(m, remote) {
			return nil, nil
		}
		bumpRevision(m)
		return m, nil
	})
	if err == nil {
		return merged, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, translateWriteError(name, err)
	}

	// 本地缓存尚不存在：从模板合并后首次落盘并登记索引。
	fresh := model.NewManifest(name)
	if !s.mergeRemote(fresh, remote) {
		return fresh, nil
	}
	bumpRevision(fresh)
	if err := s.backend.WriteManifest(ctx, name, fresh); err != nil {
		return nil, translateWriteError(name, err)
	}
	if err := s.backend.AddPackage(ctx, name); err != nil {
		return nil, translateWriteError(name, err)
	}

	s.log().WithFields(logrus.Fields{
		"action":  "cache_package",
		"package": name,
	}).Debug("remote manifest cached")
	return fresh, nil
}

// mergeRemote 执行合并规则，返回是否发生变更。先合并进来的版本优先，
// 之后的 uplink 不能覆盖同名版本。
func (s *Local) mergeRemote(local, remote *model.Manifest) bool {
	dirty := false

	if remote.Readme != "" && remote.Readme != local.Readme {
		local.Readme = remote.Readme
		dirty = true
	}

	for version, ver := range remote.Versions {
		if _, exists := local.Versions[version]; exists {
			continue
		}

		inserted := *ver
		inserted.Readme = ""
		inserted.Contributors = model.NormalizeContributors(inserted.Contributors)
		local.Versions[version] = &inserted
		dirty = true

		if inserted.Dist.Tarball == "" {
			continue
		}
		filename := model.FilenameFromURL(inserted.Dist.Tarball)
		if filename == "" {
			continue
		}
		if _, exists := local.DistFiles[filename]; exists {
			continue
		}
		local.DistFiles[filename] = &model.DistFile{
			URL:      s.rewriteProtocol(inserted.Dist.Tarball, inserted.Uplink),
			Sha:      inserted.Dist.Shasum,
			Registry: inserted.Uplink,
		}
	}

	for tag, version := range remote.DistTags {
		if current, ok := local.DistTags[tag]; !ok || current != version {
			local.DistTags[tag] = version
			dirty = true
		}
	}

	for uplinkName, record := range remote.Uplinks {
		current, ok := local.Uplinks[uplinkName]
		if ok && current.Etag == record.Etag && current.Fetched == record.Fetched {
			continue
		}
		local.Uplinks[uplinkName] = &model.UplinkRecord{Etag: record.Etag, Fetched: record.Fetched}
		dirty = true
	}

	if len(remote.Time) > 0 && !equalStringMaps(local.Time, remote.Time) {
		local.Time = cloneStringMap(remote.Time)
		dirty = true
	}

	return dirty
}

// rewriteProtocol 当上游 dist 地址的 host 与 uplink 配置一致时，把协议改写
// 成运维方配置的那一个，客户端看到的 scheme 与 uplink 声明保持一致。
func (s *Local) rewriteProtocol(rawURL, uplinkName string) string {
	if uplinkName == "" {
		return rawURL
	}
	configured, ok := s.uplinkURLs[uplinkName]
	if !ok || configured == nil {
		return rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	if parsed.Host != configured.Host || parsed.Scheme == configured.Scheme {
		return rawURL
	}
	parsed.Scheme = configured.Scheme
	return parsed.String()
}

func equalStringMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if b[key] != value {
			return false
		}
	}
	return true
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
