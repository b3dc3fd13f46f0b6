package federation

import (
	"fmt"
	"net/url"

	"github.com/any-hub/npm-hub/internal/model"
)

// rewriteDistURLs 把清单内所有版本的 dist.tarball 指回本站，
// 协议与 Host 取自请求来源，URLPrefix 由配置决定。
func (s *Store) rewriteDistURLs(manifest *model.Manifest, req RequestOptions) {
	for _, version := range manifest.Versions {
		version.Dist.Tarball = s.rewriteTarballURL(manifest.Name, version.Dist.Tarball, req)
	}
}

// rewriteTarballURL 生成 {protocol}://{host}{prefix}/{pkg}/-/{file} 形式的地址。
// 请求来源缺失时保留原始地址，避免产出残缺 URL。
func (s *Store) rewriteTarballURL(name, original string, req RequestOptions) string {
	if original == "" || req.Host == "" {
		return original
	}

	filename := model.FilenameFromURL(original)
	if filename == "" {
		return original
	}

	protocol := req.Protocol
	if protocol == "" {
		protocol = "http"
	}

	rewritten := url.URL{
		Scheme: protocol,
		Host:   req.Host,
		Path:   fmt.Sprintf("%s/%s/-/%s", s.urlPrefix, name, filename),
	}
	return rewritten.String()
}
