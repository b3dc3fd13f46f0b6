package config

import (
	"github.com/gobwas/glob"
)

// compiledRule 是 Package 策略与其预编译 glob 的组合。
type compiledRule struct {
	matcher glob.Glob
	policy  PackageConfig
}

// PolicyMatcher 按配置声明顺序匹配包名到访问策略，启动时编译一次。
type PolicyMatcher struct {
	rules      []compiledRule
	allUplinks []string
}

// NewPolicyMatcher 编译所有 Package 模式。Validate 已保证模式合法。
func NewPolicyMatcher(cfg *Config) (*PolicyMatcher, error) {
	matcher := &PolicyMatcher{}
	for _, uplink := range cfg.Uplinks {
		matcher.allUplinks = append(matcher.allUplinks, uplink.Name)
	}

	for _, pkg := range cfg.Packages {
		compiled, err := glob.Compile(pkg.Pattern)
		if err != nil {
			return nil, newFieldError(packageField(pkg.Pattern, "Pattern"), err.Error())
		}
		matcher.rules = append(matcher.rules, compiledRule{matcher: compiled, policy: pkg})
	}
	return matcher, nil
}

// Match 返回第一条命中的策略。没有规则命中时退回默认策略：
// 公开访问并代理全部已配置 uplink。
func (m *PolicyMatcher) Match(name string) PackageConfig {
	for _, rule := range m.rules {
		if rule.matcher.Match(name) {
			return rule.policy
		}
	}
	return PackageConfig{
		Pattern: "**",
		Access:  "$all",
		Publish: "$authenticated",
		Proxy:   m.allUplinks,
	}
}

// ProxiesFor 返回该包允许咨询的 uplink 名称，保持声明顺序。
func (m *PolicyMatcher) ProxiesFor(name string) []string {
	return m.Match(name).Proxy
}

// IsPrivate 表示该包没有任何可咨询的 uplink（显式留空或根本未配置上游）。
func (m *PolicyMatcher) IsPrivate(name string) bool {
	return len(m.ProxiesFor(name)) == 0
}
