package federation

import (
	"context"
	"strings"

	"github.com/any-hub/npm-hub/internal/logging"
	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/storage"
)

// SearchPackageBody 是搜索结果对外的投影，取自 latest 版本。
type SearchPackageBody struct {
	Name        string            `json:"name"`
	Scope       string            `json:"scope,omitempty"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version"`
	Keywords    []string          `json:"keywords,omitempty"`
	Date        string            `json:"date,omitempty"`
	Author      *model.Person     `json:"author,omitempty"`
	Maintainers []model.Person    `json:"maintainers,omitempty"`
	Links       map[string]string `json:"links,omitempty"`
}

// Search 查询本地后端的搜索能力，通过 channel 流式返回；uplink 不参与搜索。
// 消费方读取多快结果就产出多快；没有版本的空包被跳过。
// 后端未实现搜索能力时返回 unavailable。
func (s *Store) Search(ctx context.Context, query string) (<-chan SearchPackageBody, error) {
	searcher, ok := s.local.Backend().(storage.Searcher)
	if !ok {
		return nil, model.NewError(model.KindUnavailable, "storage backend does not support search")
	}

	items, err := searcher.Search(ctx, query)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, err, "backend search")
	}

	results := make(chan SearchPackageBody)
	go func() {
		defer close(results)
		for _, item := range items {
			body, ok := s.projectSearchItem(ctx, item)
			if !ok {
				continue
			}
			select {
			case results <- body:
			case <-ctx.Done():
				return
			}
		}
	}()
	return results, nil
}

// projectSearchItem 回读清单并投影 latest 版本的元数据。
func (s *Store) projectSearchItem(ctx context.Context, item storage.SearchItem) (SearchPackageBody, bool) {
	manifest, err := s.local.GetManifest(ctx, item.Name)
	if err != nil {
		if !model.IsNotFound(err) {
			s.logger.WithError(err).
				WithFields(logging.PackageFields("search", item.Name, "", false)).
				Warn("search manifest read failed")
		}
		return SearchPackageBody{}, false
	}
	if len(manifest.Versions) == 0 {
		return SearchPackageBody{}, false
	}

	latestVersion := manifest.DistTags["latest"]
	latest, ok := manifest.Versions[latestVersion]
	if !ok {
		for v, ver := range manifest.Versions {
			latestVersion, latest = v, ver
			break
		}
	}

	body := SearchPackageBody{
		Name:        manifest.Name,
		Version:     latestVersion,
		Description: latest.Description,
		Keywords:    latest.Keywords,
		Author:      latest.Author,
		Maintainers: latest.Maintainers,
		Date:        manifest.Time["modified"],
	}
	if model.IsScoped(manifest.Name) {
		body.Scope = strings.TrimPrefix(strings.SplitN(manifest.Name, "/", 2)[0], "@")
	}
	if latest.Homepage != "" {
		body.Links = map[string]string{"homepage": latest.Homepage}
	}
	return body, true
}
