// Package model 定义 npm 包清单（packument）的内存模型与归一化规则，
// 所有存储与联邦逻辑共享同一份结构。
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Manifest 是单个包的权威描述，磁盘上的 package.json 与之一一对应。
// `_` 前缀字段属于 registry 内部簿记，tarball 正文不在其中。
type Manifest struct {
	ID          string                   `json:"_id,omitempty"`
	Name        string                   `json:"name"`
	Versions    map[string]*Version      `json:"versions"`
	DistTags    map[string]string        `json:"dist-tags"`
	Time        map[string]string        `json:"time"`
	Users       map[string]bool          `json:"users"`
	Readme      string                   `json:"readme,omitempty"`
	Attachments map[string]*Attachment   `json:"_attachments"`
	DistFiles   map[string]*DistFile     `json:"_distfiles"`
	Uplinks     map[string]*UplinkRecord `json:"_uplinks"`
	Rev         string                   `json:"_rev"`
}

// Attachment 记录已发布 tarball 的校验信息，字节本体由存储后端管理。
type Attachment struct {
	Shasum  string `json:"shasum,omitempty"`
	Version string `json:"version,omitempty"`
}

// DistFile 指向 tarball 的上游来源，本地字节缺失时按它回源。
type DistFile struct {
	URL      string `json:"url"`
	Sha      string `json:"sha,omitempty"`
	Registry string `json:"registry,omitempty"`
}

// UplinkRecord 保存对某个 uplink 的缓存校验状态。
type UplinkRecord struct {
	Etag    string `json:"etag,omitempty"`
	Fetched int64  `json:"fetched,omitempty"`
}

// Version 是一次发布的冻结快照。Uplink 字段仅在内存中标注来源，
// 不会原样序列化给客户端。
type Version struct {
	ID           string            `json:"_id,omitempty"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description,omitempty"`
	Keywords     Keywords          `json:"keywords,omitempty"`
	Author       *Person           `json:"author,omitempty"`
	Maintainers  PersonList        `json:"maintainers,omitempty"`
	Contributors PersonList        `json:"contributors,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Homepage     string            `json:"homepage,omitempty"`
	License      string            `json:"license,omitempty"`
	Repository   json.RawMessage   `json:"repository,omitempty"`
	Bugs         json.RawMessage   `json:"bugs,omitempty"`
	Deprecated   string            `json:"deprecated,omitempty"`
	Readme       string            `json:"readme,omitempty"`
	Dist         Dist              `json:"dist"`

	Uplink string `json:"-"`
}

// Dist 描述 tarball 的下载地址与校验值。
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// Person 表示 author/maintainer/contributor。npm 生态中同一字段可能是
// 对象、字符串或数组，反序列化时统一成 {name,email}。
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// UnmarshalJSON 兼容 "Name <email>" 字符串写法。
func (p *Person) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		parsed := parsePersonString(raw)
		*p = parsed
		return nil
	}

	type alias Person
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = Person(obj)
	return nil
}

// parsePersonString 解析 "Name <email> (url)" 约定写法，尽力提取各段。
func parsePersonString(raw string) Person {
	p := Person{}
	rest := strings.TrimSpace(raw)

	if start := strings.Index(rest, "("); start >= 0 {
		if end := strings.Index(rest[start:], ")"); end > 0 {
			p.URL = strings.TrimSpace(rest[start+1 : start+end])
			rest = strings.TrimSpace(rest[:start] + rest[start+end+1:])
		}
	}
	if start := strings.Index(rest, "<"); start >= 0 {
		if end := strings.Index(rest[start:], ">"); end > 0 {
			p.Email = strings.TrimSpace(rest[start+1 : start+end])
			rest = strings.TrimSpace(rest[:start] + rest[start+end+1:])
		}
	}
	p.Name = strings.TrimSpace(rest)
	return p
}

// PersonList 允许上游将 maintainers/contributors 写成单对象、字符串或数组。
type PersonList []Person

// UnmarshalJSON 将各种历史写法统一为列表。
func (l *PersonList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*l = nil
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var people []Person
		if err := json.Unmarshal(data, &people); err != nil {
			return err
		}
		*l = people
		return nil
	}

	var single Person
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = PersonList{single}
	return nil
}

// Keywords 兼容字符串与数组两种历史写法。
type Keywords []string

// UnmarshalJSON 将单字符串 keywords 拆分为列表。
func (k *Keywords) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*k = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	fields := strings.FieldsFunc(single, func(r rune) bool {
		return r == ',' || r == ' '
	})
	*k = fields
	return nil
}

// InitialRevision 是尚未写盘的清单模板所携带的修订号。
const InitialRevision = "0-0000000000000000"

// NewManifest 构建一份空清单模板，所有容器字段就位但不落盘。
func NewManifest(name string) *Manifest {
	return &Manifest{
		ID:          name,
		Name:        name,
		Versions:    map[string]*Version{},
		DistTags:    map[string]string{},
		Time:        map[string]string{},
		Users:       map[string]bool{},
		Attachments: map[string]*Attachment{},
		DistFiles:   map[string]*DistFile{},
		Uplinks:     map[string]*UplinkRecord{},
		Rev:         InitialRevision,
	}
}

// Normalize 补齐缺失的容器字段，保证下游永远不会碰到 nil map。
func (m *Manifest) Normalize() *Manifest {
	if m.Versions == nil {
		m.Versions = map[string]*Version{}
	}
	if m.DistTags == nil {
		m.DistTags = map[string]string{}
	}
	if m.Time == nil {
		m.Time = map[string]string{}
	}
	if m.Users == nil {
		m.Users = map[string]bool{}
	}
	if m.Attachments == nil {
		m.Attachments = map[string]*Attachment{}
	}
	if m.DistFiles == nil {
		m.DistFiles = map[string]*DistFile{}
	}
	if m.Uplinks == nil {
		m.Uplinks = map[string]*UplinkRecord{}
	}
	if m.ID == "" {
		m.ID = m.Name
	}
	return m
}

// Clone 深拷贝清单。更新事务在副本上修改并整体返回，
// 避免共享内存里的就地变更。
func (m *Manifest) Clone() *Manifest {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("manifest clone marshal: %v", err))
	}

	clone := &Manifest{}
	if err := json.Unmarshal(data, clone); err != nil {
		panic(fmt.Sprintf("manifest clone unmarshal: %v", err))
	}

	for v, ver := range m.Versions {
		if cloned, ok := clone.Versions[v]; ok {
			cloned.Uplink = ver.Uplink
		}
	}
	return clone.Normalize()
}

// Touch 更新 time.modified，首次写入时顺带记录 time.created。
func (m *Manifest) Touch(now time.Time) {
	stamp := now.UTC().Format(time.RFC3339Nano)
	if m.Time == nil {
		m.Time = map[string]string{}
	}
	if _, ok := m.Time["created"]; !ok {
		m.Time["created"] = stamp
	}
	m.Time["modified"] = stamp
}
