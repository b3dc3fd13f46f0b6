package config

import "fmt"

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// uplinkField 用于拼接 Uplink 级字段路径，输出 Uplink[xxx].Field 形式。
func uplinkField(name, field string) string {
	if name == "" {
		return fmt.Sprintf("Uplink[].%s", field)
	}
	return fmt.Sprintf("Uplink[%s].%s", name, field)
}

// packageField 用于拼接 Package 级字段路径。
func packageField(pattern, field string) string {
	if pattern == "" {
		return fmt.Sprintf("Package[].%s", field)
	}
	return fmt.Sprintf("Package[%s].%s", pattern, field)
}
