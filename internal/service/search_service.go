package service

import (
	"context"
	"regexp"
	"strings"

	"dream-weaver-go/internal/model"
	"dream-weaver-go/pkg/es"
	"dream-weaver-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// SearchService 接口定义了梦境日志的全文搜索。
type SearchService interface {
	Search(ctx context.Context, query string, size int) ([]model.SearchHit, error)
}

type searchService struct {
	esClient  *elasticsearch.Client
	indexName string
	journal   *Journal
}

// NewSearchService 创建一个新的 SearchService 实例。esClient 为 nil 时只使用内存匹配。
func NewSearchService(esClient *elasticsearch.Client, indexName string, journal *Journal) SearchService {
	return &searchService{
		esClient:  esClient,
		indexName: indexName,
		journal:   journal,
	}
}

// Search 优先使用 Elasticsearch，未启用或请求失败时退回到内存中的子串匹配。
func (s *searchService) Search(ctx context.Context, query string, size int) ([]model.SearchHit, error) {
	if size <= 0 {
		size = 20
	}
	normalized := normalizeQuery(query)
	if normalized == "" {
		return s.localSearch("", size), nil
	}

	if s.esClient == nil {
		return s.localSearch(normalized, size), nil
	}

	log.Infof("[SearchService] 开始执行全文搜索, query: '%s', size: %d", normalized, size)
	hits, err := es.SearchDreams(ctx, s.esClient, s.indexName, normalized, size)
	if err != nil {
		log.Warnf("[SearchService] Elasticsearch 搜索失败，退回内存匹配: %v", err)
		return s.localSearch(normalized, size), nil
	}

	results := make([]model.SearchHit, 0, len(hits))
	for _, hit := range hits {
		// 索引可能落后于日志，找不到的记录直接跳过
		dream, ok := s.journal.Get(hit.DreamID)
		if !ok {
			log.Warnf("[SearchService] 索引中的梦境 '%s' 在日志中不存在", hit.DreamID)
			continue
		}
		results = append(results, model.SearchHit{Dream: dream, Score: hit.Score})
	}
	log.Infof("[SearchService] 搜索完成, 返回 %d 条结果", len(results))
	return results, nil
}

// localSearch 在正文、解读和标签上做不区分大小写的子串匹配，按创建时间倒序。
func (s *searchService) localSearch(term string, size int) []model.SearchHit {
	entries := s.journal.Entries()
	model.SortNewestFirst(entries)

	results := make([]model.SearchHit, 0)
	for _, e := range entries {
		if len(results) >= size {
			break
		}
		if term == "" || matchesDream(e, term) {
			results = append(results, model.SearchHit{Dream: e, Score: 0})
		}
	}
	return results
}

func matchesDream(d model.DreamEntry, term string) bool {
	return strings.Contains(strings.ToLower(d.Transcript), term) ||
		strings.Contains(strings.ToLower(d.Interpretation), term) ||
		d.HasTagContaining(term)
}

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}\s'-]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// normalizeQuery 对用户查询做轻量去噪：转小写，去掉标点，合并空白。
func normalizeQuery(q string) string {
	lower := strings.ToLower(q)
	kept := reKeep.ReplaceAllString(lower, " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}
