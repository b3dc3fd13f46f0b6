// Package federation 组合本地仓库与 uplink 客户端：清单读穿透、tarball
// 写穿透、dist 地址改写与搜索聚合。联邦层自身不持有清单状态。
package federation

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/config"
	"github.com/any-hub/npm-hub/internal/logging"
	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/store"
	"github.com/any-hub/npm-hub/internal/uplink"
)

// RequestOptions 携带用于 dist 地址改写的请求来源信息。
type RequestOptions struct {
	Protocol string
	Host     string
}

// GetOptions 描述一次清单读取：包名、可选版本/标签，以及是否允许咨询 uplink。
type GetOptions struct {
	Name        string
	Version     string
	UplinksLook bool
	Request     RequestOptions
}

// Store 是联邦仓库。uplinks 保持配置声明顺序，合并时先到先得。
type Store struct {
	local     *store.Local
	uplinks   []*uplink.Client
	byName    map[string]*uplink.Client
	policy    *config.PolicyMatcher
	urlPrefix string
	logger    *logrus.Logger
}

// New 构建联邦仓库。
func New(local *store.Local, uplinks []*uplink.Client, policy *config.PolicyMatcher, urlPrefix string, logger *logrus.Logger) *Store {
	byName := make(map[string]*uplink.Client, len(uplinks))
	for _, client := range uplinks {
		byName[client.Name()] = client
	}
	return &Store{
		local:     local,
		uplinks:   uplinks,
		byName:    byName,
		policy:    policy,
		urlPrefix: urlPrefix,
		logger:    logger,
	}
}

// Local 暴露本地仓库，发布类操作直接走它。
func (s *Store) Local() *store.Local {
	return s.local
}

// syncOutcome 暂存一个 uplink 的拉取结果，合并阶段按声明顺序消费。
type syncOutcome struct {
	client *uplink.Client
	result *uplink.FetchResult
	err    error
}

// SyncUplinks 并发咨询所有符合策略的 uplink，把成功结果按声明顺序合并进
// 本地缓存。uplink 错误只在既无缓存又无任何成功时才致命。
func (s *Store) SyncUplinks(ctx context.Context, name string, cached *model.Manifest, uplinksLook bool) (*model.Manifest, []error) {
	if !uplinksLook || s.policy.IsPrivate(name) {
		return cached, nil
	}

	eligible := s.eligibleUplinks(name)
	if len(eligible) == 0 {
		return cached, nil
	}

	outcomes := make([]syncOutcome, len(eligible))
	var wg sync.WaitGroup
	for i, client := range eligible {
		wg.Add(1)
		go func(idx int, client *uplink.Client) {
			defer wg.Done()
			etag := ""
			if cached != nil {
				if record, ok := cached.Uplinks[client.Name()]; ok {
					etag = record.Etag
				}
			}
			result, err := client.FetchManifest(ctx, name, etag)
			outcomes[idx] = syncOutcome{client: client, result: result, err: err}
		}(i, client)
	}
	wg.Wait()

	var errs []error
	for _, outcome := range outcomes {
		if outcome.err != nil {
			if !model.IsNotFound(outcome.err) {
				s.logger.WithError(outcome.err).
					WithFields(logging.UplinkFields("sync_uplinks", outcome.client.Name(), name)).
					Warn("uplink fetch failed")
			}
			errs = append(errs, outcome.err)
			continue
		}
		if outcome.result.NotModified {
			continue
		}

		if _, err := s.local.MergeRemoteIntoCache(ctx, name, outcome.result.Manifest); err != nil {
			errs = append(errs, err)
			s.logger.WithError(err).
				WithFields(logging.UplinkFields("merge_remote", outcome.client.Name(), name)).
				Warn("merge remote manifest failed")
		}
	}

	merged, err := s.local.GetManifest(ctx, name)
	switch {
	case err == nil:
		return merged, errs
	case model.IsNotFound(err):
		// 合并后仍不存在：要么上游也没有，要么远端清单为空。
		return cached, errs
	default:
		errs = append(errs, err)
		return cached, errs
	}
}

// eligibleUplinks 按包策略筛选 uplink，保持声明顺序。
func (s *Store) eligibleUplinks(name string) []*uplink.Client {
	proxies := s.policy.ProxiesFor(name)
	clients := make([]*uplink.Client, 0, len(proxies))
	for _, proxyName := range proxies {
		if client, ok := s.byName[proxyName]; ok {
			clients = append(clients, client)
		}
	}
	return clients
}

// GetPackage 读取本地缓存并与 uplink 同步后返回合并清单。
// 第二个返回值是非致命的 uplink 告警。
func (s *Store) GetPackage(ctx context.Context, opts GetOptions) (*model.Manifest, []error) {
	cached, err := s.local.GetManifest(ctx, opts.Name)
	if err != nil && !model.IsNotFound(err) {
		return nil, []error{err}
	}

	merged, warnings := s.SyncUplinks(ctx, opts.Name, cached, opts.UplinksLook)
	if merged == nil {
		warnings = append(warnings, model.NewError(model.KindNotFound, "no such package available: %s", opts.Name))
		return nil, warnings
	}
	return merged, warnings
}

// GetPackageManifest 返回对客户端可见的清单：dist.tarball 已改写为本站地址。
func (s *Store) GetPackageManifest(ctx context.Context, opts GetOptions) (*model.Manifest, []error) {
	manifest, warnings := s.GetPackage(ctx, opts)
	if manifest == nil {
		return nil, warnings
	}
	s.rewriteDistURLs(manifest, opts.Request)
	return manifest, warnings
}

// GetPackageByVersion 先按字面版本解析，再按 dist-tag 解析。
func (s *Store) GetPackageByVersion(ctx context.Context, opts GetOptions) (*model.Version, error) {
	manifest, warnings := s.GetPackage(ctx, opts)
	if manifest == nil {
		return nil, firstFatal(warnings, opts.Name)
	}

	target := opts.Version
	if target == "" {
		target = "latest"
	}

	version, ok := manifest.Versions[target]
	if !ok {
		if tagged, tagOK := manifest.DistTags[target]; tagOK {
			version, ok = manifest.Versions[tagged]
		}
	}
	if !ok || version == nil {
		return nil, model.NewError(model.KindNotFound, "version not found: %s@%s", opts.Name, target)
	}

	rewritten := *version
	rewritten.Dist.Tarball = s.rewriteTarballURL(opts.Name, rewritten.Dist.Tarball, opts.Request)
	return &rewritten, nil
}

// firstFatal 从告警集中挑一个对调用方最有意义的错误。
func firstFatal(warnings []error, name string) error {
	for _, err := range warnings {
		if model.IsNotFound(err) {
			return err
		}
	}
	if len(warnings) > 0 {
		return warnings[len(warnings)-1]
	}
	return model.NewError(model.KindNotFound, "no such package available: %s", name)
}
