package model

import (
	"encoding/json"
	"strings"
)

// Tags 是一组小写、去重、保持插入顺序的标签。
type Tags []string

// NormalizeTag 去除首尾空白并转为小写。
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags 规范化每个标签，丢弃空标签和重复标签，保留首次出现的顺序。
func NormalizeTags(tags []string) Tags {
	out := make(Tags, 0, len(tags))
	for _, t := range tags {
		out = out.Add(t)
	}
	return out
}

// Add 返回追加了 tag 的标签集合；空标签或已存在的标签会被忽略。
func (t Tags) Add(tag string) Tags {
	tag = NormalizeTag(tag)
	if tag == "" || t.Contains(tag) {
		return t
	}
	return append(t, tag)
}

// Remove 返回移除了 tag 的新标签集合。
func (t Tags) Remove(tag string) Tags {
	tag = NormalizeTag(tag)
	out := make(Tags, 0, len(t))
	for _, existing := range t {
		if existing != tag {
			out = append(out, existing)
		}
	}
	return out
}

// Contains 报告集合中是否已有该标签。
func (t Tags) Contains(tag string) bool {
	for _, existing := range t {
		if existing == tag {
			return true
		}
	}
	return false
}

// Clone 返回独立的副本，nil 会被转换为空集合。
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	copy(out, t)
	return out
}

// MarshalJSON 保证空集合序列化为 [] 而不是 null。
func (t Tags) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}
