package model

// DreamDocument 定义了存储在 Elasticsearch 中的梦境文档结构。
// 图片地址不进入索引，搜索命中后从日志中取回完整记录。
type DreamDocument struct {
	DreamID        string   `json:"dream_id"`
	Transcript     string   `json:"transcript"`
	Interpretation string   `json:"interpretation"`
	Tags           []string `json:"tags"`
	CreatedAt      int64    `json:"created_at"`
}

// NewDreamDocument 从日志记录构造索引文档。
func NewDreamDocument(d DreamEntry) DreamDocument {
	return DreamDocument{
		DreamID:        d.ID,
		Transcript:     d.Transcript,
		Interpretation: d.Interpretation,
		Tags:           append([]string{}, d.Tags...),
		CreatedAt:      d.CreatedAt,
	}
}

// SearchHit 是一条全文搜索结果。
type SearchHit struct {
	Dream DreamEntry `json:"dream"`
	Score float64    `json:"score"`
}
