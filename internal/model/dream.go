// Package model 包含了应用的数据模型定义。
package model

import (
	"sort"
	"strings"
	"time"
)

// DreamEntry 是梦境日志中保存的一条记录。
// 创建后只有 Tags 可以修改，其余字段不可变。
type DreamEntry struct {
	ID             string `json:"id"`
	Transcript     string `json:"transcript"`
	ImageURL       string `json:"imageUrl"`
	Interpretation string `json:"interpretation"`
	Tags           Tags   `json:"tags"`
	CreatedAt      int64  `json:"createdAt"` // 毫秒时间戳，仅用于排序
}

// CreatedTime 返回 CreatedAt 对应的 time.Time。
func (d DreamEntry) CreatedTime() time.Time {
	return time.UnixMilli(d.CreatedAt)
}

// Clone 返回一个不与原记录共享 Tags 底层数组的副本。
func (d DreamEntry) Clone() DreamEntry {
	d.Tags = d.Tags.Clone()
	return d
}

// WithTags 返回替换了标签的副本，其他字段保持不变。
func (d DreamEntry) WithTags(tags []string) DreamEntry {
	d.Tags = NormalizeTags(tags)
	return d
}

// HasTagContaining 报告是否存在包含 term 子串的标签（不区分大小写）。
func (d DreamEntry) HasTagContaining(term string) bool {
	term = strings.ToLower(term)
	for _, tag := range d.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// SortNewestFirst 按 CreatedAt 倒序排序（稳定排序，时间相同时保持原顺序）。
func SortNewestFirst(entries []DreamEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt > entries[j].CreatedAt
	})
}

// DreamSummary 是日志列表卡片所需的精简视图。
type DreamSummary struct {
	ID         string   `json:"id"`
	Transcript string   `json:"transcript"`
	ImageURL   string   `json:"imageUrl"`
	Tags       []string `json:"tags"`
	CreatedAt  int64    `json:"createdAt"`
	Date       string   `json:"date"`
}

// maxCardTags 是列表卡片上展示的标签数量上限。
const maxCardTags = 3

// Summary 将记录转换为列表卡片视图。
func (d DreamEntry) Summary() DreamSummary {
	tags := d.Tags
	if len(tags) > maxCardTags {
		tags = tags[:maxCardTags]
	}
	return DreamSummary{
		ID:         d.ID,
		Transcript: d.Transcript,
		ImageURL:   d.ImageURL,
		Tags:       append([]string{}, tags...),
		CreatedAt:  d.CreatedAt,
		Date:       d.CreatedTime().Format("2006-01-02"),
	}
}
