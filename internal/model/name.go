package model

import (
	"fmt"
	"strings"
)

const maxNameLength = 214

// ValidateName 按 npm 命名规则校验包名，scoped 名称允许一个 `@scope/` 前缀。
// 非法名称直接视为 not-found，避免把路径穿越等输入带进存储层。
func ValidateName(name string) error {
	if name == "" {
		return NewError(KindNotFound, "package name required")
	}
	if len(name) > maxNameLength {
		return NewError(KindNotFound, "package name too long: %s", name)
	}

	core := name
	if strings.HasPrefix(name, "@") {
		scope, rest, found := strings.Cut(name[1:], "/")
		if !found || scope == "" || rest == "" || strings.Contains(rest, "/") {
			return NewError(KindNotFound, "invalid scoped name: %s", name)
		}
		if !validNameSegment(scope) || !validNameSegment(rest) {
			return NewError(KindNotFound, "invalid scoped name: %s", name)
		}
		core = rest
	} else if !validNameSegment(name) {
		return NewError(KindNotFound, "invalid package name: %s", name)
	}

	switch core {
	case ".", "..", "node_modules", "favicon.ico":
		return NewError(KindNotFound, "forbidden package name: %s", name)
	}
	return nil
}

func validNameSegment(segment string) bool {
	if segment == "" {
		return false
	}
	if strings.HasPrefix(segment, ".") || strings.HasPrefix(segment, "_") {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// IsScoped 判断包名是否带 @scope/ 前缀。
func IsScoped(name string) bool {
	return strings.HasPrefix(name, "@") && strings.Contains(name, "/")
}

// TarballFilename 返回约定的 tarball 文件名（scoped 包去掉 scope 前缀）。
func TarballFilename(name, version string) string {
	short := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		short = name[idx+1:]
	}
	return fmt.Sprintf("%s-%s.tgz", short, version)
}

// FilenameFromURL 取 tarball URL 的最后一段作为本地文件名。
func FilenameFromURL(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
