package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有包共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	Store         string `mapstructure:"Store"`
	URLPrefix     string `mapstructure:"URLPrefix"`
	Debug         bool   `mapstructure:"Debug"`
}

// UplinkConfig 描述一个上游 registry 的访问参数。
type UplinkConfig struct {
	Name       string   `mapstructure:"Name"`
	URL        string   `mapstructure:"URL"`
	Cache      bool     `mapstructure:"Cache"`
	Timeout    Duration `mapstructure:"Timeout"`
	MaxFails   int      `mapstructure:"MaxFails"`
	FailWindow Duration `mapstructure:"FailWindow"`
	Username   string   `mapstructure:"Username"`
	Password   string   `mapstructure:"Password"`
}

// PackageConfig 把名称模式映射到访问策略，Proxy 列表按声明顺序筛选 uplink。
type PackageConfig struct {
	Pattern string   `mapstructure:"Pattern"`
	Access  string   `mapstructure:"Access"`
	Publish string   `mapstructure:"Publish"`
	Proxy   []string `mapstructure:"Proxy"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig    `mapstructure:",squash"`
	Uplinks  []UplinkConfig  `mapstructure:"Uplink"`
	Packages []PackageConfig `mapstructure:"Package"`
}

// HasCredentials 表示当前 Uplink 是否配置了完整的上游凭证。
func (u UplinkConfig) HasCredentials() bool {
	return u.Username != "" && u.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (u UplinkConfig) AuthMode() string {
	if u.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有 Uplink 的鉴权模式摘要，例如 npmjs:anonymous。
func CredentialModes(uplinks []UplinkConfig) []string {
	if len(uplinks) == 0 {
		return nil
	}
	result := make([]string, len(uplinks))
	for i, uplink := range uplinks {
		result[i] = fmt.Sprintf("%s:%s", uplink.Name, uplink.AuthMode())
	}
	return result
}
