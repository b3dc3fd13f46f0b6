package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// PackageFields 提供包名/版本/命中状态字段，供 registry 请求日志复用。
func PackageFields(action, pkg, version string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"action":    action,
		"package":   pkg,
		"cache_hit": cacheHit,
	}
	if version != "" {
		fields["version"] = version
	}
	return fields
}

// UplinkFields 提供 uplink 维度的日志字段。
func UplinkFields(action, uplinkName, pkg string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"uplink":  uplinkName,
		"package": pkg,
	}
}
