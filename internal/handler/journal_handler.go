package handler

import (
	"net/http"
	"strconv"

	"dream-weaver-go/internal/model"
	"dream-weaver-go/internal/service"
	"dream-weaver-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// JournalHandler 负责梦境日志的列表、详情和搜索。
type JournalHandler struct {
	journal       *service.Journal
	searchService service.SearchService
}

// NewJournalHandler 创建一个新的 JournalHandler 实例。
func NewJournalHandler(journal *service.Journal, searchService service.SearchService) *JournalHandler {
	return &JournalHandler{journal: journal, searchService: searchService}
}

// List 返回按标签过滤、按时间倒序排列的日志卡片。
func (h *JournalHandler) List(c *gin.Context) {
	entries := h.journal.Filter(c.Query("tag"))
	cards := make([]model.DreamSummary, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, e.Summary())
	}
	success(c, cards)
}

// Get 返回一条完整的梦境记录。
func (h *JournalHandler) Get(c *gin.Context) {
	entry, ok := h.journal.Get(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "梦境不存在")
		return
	}
	success(c, entry)
}

// Search 在正文、解读和标签上做全文搜索。
func (h *JournalHandler) Search(c *gin.Context) {
	query := c.Query("query")
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size <= 0 {
		size = 20
	}
	log.Infof("[JournalHandler] 收到搜索请求, query: %s, size: %d", query, size)

	hits, err := h.searchService.Search(c.Request.Context(), query, size)
	if err != nil {
		log.Errorf("[JournalHandler] 搜索失败, error: %v", err)
		fail(c, http.StatusInternalServerError, "搜索失败")
		return
	}
	success(c, hits)
}
