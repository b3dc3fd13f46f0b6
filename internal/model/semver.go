package model

import "github.com/Masterminds/semver/v3"

// IsNewerVersion 判断 newVersion 是否严格大于 oldVersion。两者均为合法
// semver 时按语义比较，否则退回字符串比较。
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)

	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}

	return newSemver.GreaterThan(oldSemver)
}
