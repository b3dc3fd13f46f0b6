package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

var supportedStores = map[string]struct{}{
	"fs": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStores[g.Store]; !ok {
		return newFieldError("Global.Store", "仅支持 fs")
	}
	if g.URLPrefix != "" && strings.ContainsAny(g.URLPrefix, " \t") {
		return newFieldError("Global.URLPrefix", "不允许包含空白字符")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Uplinks {
		uplink := &c.Uplinks[i]
		if uplink.Name == "" {
			return newFieldError("Uplink[].Name", "不能为空")
		}
		if _, exists := seenNames[uplink.Name]; exists {
			return newFieldError(uplinkField(uplink.Name, "Name"), "重复")
		}
		seenNames[uplink.Name] = struct{}{}

		if err := validateUpstream(uplink.URL); err != nil {
			return fmt.Errorf("%s: %w", uplinkField(uplink.Name, "URL"), err)
		}
		if (uplink.Username == "") != (uplink.Password == "") {
			return newFieldError(uplinkField(uplink.Name, "Username/Password"), "必须同时提供或同时留空")
		}
		if uplink.MaxFails < 0 {
			return newFieldError(uplinkField(uplink.Name, "MaxFails"), "不能为负数")
		}
	}

	seenPatterns := map[string]struct{}{}
	for i := range c.Packages {
		pkg := &c.Packages[i]
		if pkg.Pattern == "" {
			return newFieldError("Package[].Pattern", "不能为空")
		}
		if _, exists := seenPatterns[pkg.Pattern]; exists {
			return newFieldError(packageField(pkg.Pattern, "Pattern"), "重复")
		}
		seenPatterns[pkg.Pattern] = struct{}{}

		if _, err := glob.Compile(pkg.Pattern); err != nil {
			return newFieldError(packageField(pkg.Pattern, "Pattern"), "不是合法的 glob 模式")
		}
		for _, proxy := range pkg.Proxy {
			if _, ok := seenNames[proxy]; !ok {
				return newFieldError(packageField(pkg.Pattern, "Proxy"), fmt.Sprintf("未定义的 uplink: %s", proxy))
			}
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
