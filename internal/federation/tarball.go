package federation

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/url"

	"github.com/any-hub/npm-hub/internal/logging"
	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
	"github.com/any-hub/npm-hub/internal/uplink"
)

// GetTarball 按读穿透语义打开 tarball：本地命中直接流式返回；
// 未命中时按 _distfiles 回源，配置了 cache 的 uplink 顺带写穿透落盘。
func (s *Store) GetTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}

	local, err := s.local.Backend().OpenTarballRead(ctx, name, filename)
	if err == nil {
		s.logger.WithFields(logging.PackageFields("tarball_read", name, "", true)).Debug("tarball served from storage")
		return local, nil
	}
	if !isStorageNotFound(err) {
		return nil, model.WrapError(model.KindInternal, err, "open tarball %s/%s", name, filename)
	}

	distFile, err := s.lookupDistFile(ctx, name, filename)
	if err != nil {
		return nil, err
	}

	client := s.uplinkForDistFile(distFile)
	if client == nil {
		return nil, model.NewError(model.KindUnavailable, "no uplink configured for %s", distFile.URL)
	}

	stream, err := client.FetchTarball(ctx, distFile.URL, nil)
	if err != nil {
		return nil, err
	}

	if !client.CacheEnabled() {
		s.logger.WithFields(logging.UplinkFields("tarball_proxy", client.Name(), name)).Debug("tarball streamed without caching")
		return stream, nil
	}
	return s.teeTarball(ctx, name, filename, distFile, client, stream)
}

// lookupDistFile 查询缓存指针；缺失时强制同步一次 uplink 再查。
func (s *Store) lookupDistFile(ctx context.Context, name, filename string) (*model.DistFile, error) {
	manifest, err := s.local.GetManifest(ctx, name)
	if err != nil && !model.IsNotFound(err) {
		return nil, err
	}

	if manifest != nil {
		if distFile, ok := manifest.DistFiles[filename]; ok {
			return distFile, nil
		}
	}

	merged, _ := s.SyncUplinks(ctx, name, manifest, true)
	if merged != nil {
		if distFile, ok := merged.DistFiles[filename]; ok {
			return distFile, nil
		}
	}
	return nil, model.NewError(model.KindNotFound, "no such file available: %s", filename)
}

// uplinkForDistFile 优先用记录的来源 uplink，缺失时按 URL host 匹配。
func (s *Store) uplinkForDistFile(distFile *model.DistFile) *uplink.Client {
	if distFile.Registry != "" {
		if client, ok := s.byName[distFile.Registry]; ok {
			return client
		}
	}
	for _, client := range s.uplinks {
		if base := client.BaseURL(); base != nil && hostsMatch(base.String(), distFile.URL) {
			return client
		}
	}
	return nil
}

// teeTarball 把上游字节同时写给调用方与本地存储。写失败或取消时放弃
// 临时文件，已缓存的旧字节保持原样；shasum 不符时不落盘。
func (s *Store) teeTarball(ctx context.Context, name, filename string, distFile *model.DistFile, client *uplink.Client, stream *uplink.TarballStream) (io.ReadCloser, error) {
	writeStream, err := s.local.Backend().OpenTarballWrite(ctx, name, filename)
	if err != nil {
		// 本地写失败不阻断下载，退化为纯代理。
		s.logger.WithError(err).
			WithFields(logging.UplinkFields("tarball_cache", client.Name(), name)).
			Warn("open cache write failed")
		return stream, nil
	}

	reader, writer := io.Pipe()
	go func() {
		digest := sha1.New()
		_, copyErr := storage.CopyWithContext(ctx, io.MultiWriter(writer, writeStream, digest), stream)
		stream.Close()

		if copyErr != nil {
			writeStream.Abort()
			writer.CloseWithError(copyErr)
			return
		}

		actual := hex.EncodeToString(digest.Sum(nil))
		if distFile.Sha != "" && actual != distFile.Sha {
			writeStream.Abort()
			s.logger.WithFields(logging.UplinkFields("tarball_cache", client.Name(), name)).
				WithField("shasum", actual).
				Warn("shasum mismatch, cache discarded")
			writer.Close()
			return
		}

		if commitErr := writeStream.Commit(); commitErr != nil {
			s.logger.WithError(commitErr).
				WithFields(logging.UplinkFields("tarball_cache", client.Name(), name)).
				Warn("cache commit failed")
		} else {
			s.logger.WithFields(logging.UplinkFields("tarball_cache", client.Name(), name)).
				WithField("file", filename).
				Debug("tarball cached")
		}
		writer.Close()
	}()

	return reader, nil
}

// AddTarball 打开发布用的原子写入流，调用方在同一次发布事务内跟进 AddVersion。
func (s *Store) AddTarball(ctx context.Context, name, filename string) (storage.WriteStream, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}
	return s.local.Backend().OpenTarballWrite(ctx, name, filename)
}

func isStorageNotFound(err error) bool {
	return model.IsNotFound(err) || errors.Is(err, storage.ErrNotFound)
}

func hostsMatch(baseURL, rawURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return false
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return base.Host == target.Host
}
