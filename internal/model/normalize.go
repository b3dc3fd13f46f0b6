package model

import (
	"encoding/json"
)

const protoKey = "__proto__"

// ParseManifest 反序列化清单 JSON。客户端输入不可信，任意层级的
// `__proto__` 键都会在解码前被剔除。
func ParseManifest(data []byte) (*Manifest, error) {
	cleaned, err := StripProtoKeys(data)
	if err != nil {
		return nil, WrapError(KindBadData, err, "manifest json invalid")
	}

	manifest := &Manifest{}
	if err := json.Unmarshal(cleaned, manifest); err != nil {
		return nil, WrapError(KindBadData, err, "manifest structure invalid")
	}
	return manifest.Normalize(), nil
}

// StripProtoKeys 递归移除 JSON 文档中所有名为 __proto__ 的键。
// 没有命中时返回的字节与输入语义等价。
func StripProtoKeys(data []byte) ([]byte, error) {
	var tree interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return json.Marshal(stripProto(tree))
}

func stripProto(node interface{}) interface{} {
	switch typed := node.(type) {
	case map[string]interface{}:
		for key, value := range typed {
			if key == protoKey {
				delete(typed, key)
				continue
			}
			typed[key] = stripProto(value)
		}
		return typed
	case []interface{}:
		for i, value := range typed {
			typed[i] = stripProto(value)
		}
		return typed
	default:
		return node
	}
}

// NormalizeContributors 保证 contributors 至少是空列表，并剔除全空记录。
func NormalizeContributors(people PersonList) PersonList {
	if len(people) == 0 {
		return PersonList{}
	}

	result := make(PersonList, 0, len(people))
	for _, person := range people {
		if person.Name == "" && person.Email == "" {
			continue
		}
		result = append(result, person)
	}
	return result
}
