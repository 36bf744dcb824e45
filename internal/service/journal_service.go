package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"dream-weaver-go/internal/model"
	"dream-weaver-go/internal/repository"
	"dream-weaver-go/pkg/log"
)

// JournalStore 是日志集合的持久化适配器。
// Load 在数据缺失或损坏时返回空集合，Save 的失败只记录日志，两者都不向外返回错误。
type JournalStore interface {
	Load(ctx context.Context) []model.DreamEntry
	Save(ctx context.Context, entries []model.DreamEntry)
}

type journalStore struct {
	repo repository.JournalRepository
}

// NewJournalStore 创建一个新的 JournalStore 实例。
func NewJournalStore(repo repository.JournalRepository) JournalStore {
	return &journalStore{repo: repo}
}

// Load 读取并解析整个日志集合。
func (s *journalStore) Load(ctx context.Context) []model.DreamEntry {
	raw, err := s.repo.LoadRaw(ctx)
	if errors.Is(err, repository.ErrSlotNotFound) {
		log.Info("[JournalStore] 日志槽位为空，使用空日志")
		return []model.DreamEntry{}
	}
	if err != nil {
		log.Error("[JournalStore] 读取日志失败，使用空日志", fmt.Errorf("%w: %v", ErrPersistence, err))
		return []model.DreamEntry{}
	}

	entries, err := repository.DecodeJournal(raw)
	if err != nil {
		log.Error("[JournalStore] 日志内容损坏，使用空日志", fmt.Errorf("%w: %v", ErrPersistence, err))
		return []model.DreamEntry{}
	}
	for i := range entries {
		entries[i] = entries[i].Clone()
	}
	log.Infof("[JournalStore] 加载日志成功, 共 %d 条", len(entries))
	return entries
}

// Save 全量覆盖写入日志集合。
func (s *journalStore) Save(ctx context.Context, entries []model.DreamEntry) {
	payload, err := repository.EncodeJournal(entries)
	if err != nil {
		log.Error("[JournalStore] 序列化日志失败", fmt.Errorf("%w: %v", ErrPersistence, err))
		return
	}
	if err := s.repo.SaveRaw(ctx, payload); err != nil {
		log.Error("[JournalStore] 写入日志失败，本次修改仅保存在内存中", fmt.Errorf("%w: %v", ErrPersistence, err))
		return
	}
	log.Infof("[JournalStore] 写入日志成功, 共 %d 条", len(entries))
}

// DreamIndexer 在梦境保存后把它送入全文索引，失败不影响保存。
type DreamIndexer interface {
	IndexDream(ctx context.Context, entry model.DreamEntry) error
}

// Journal 是内存中的梦境日志集合：启动时加载一次，每次修改后全量写回。
type Journal struct {
	mu      sync.RWMutex
	entries []model.DreamEntry
	store   JournalStore
	indexer DreamIndexer
}

// NewJournal 从 store 加载日志并创建 Journal。indexer 可以为 nil。
func NewJournal(ctx context.Context, store JournalStore, indexer DreamIndexer) *Journal {
	return &Journal{
		entries: store.Load(ctx),
		store:   store,
		indexer: indexer,
	}
}

// Len 返回日志条数。
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Entries 按存储顺序返回所有记录的副本。
func (j *Journal) Entries() []model.DreamEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]model.DreamEntry, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get 按 ID 查找记录。
func (j *Journal) Get(id string) (model.DreamEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, e := range j.entries {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return model.DreamEntry{}, false
}

// Upsert 保存一条记录：ID 已存在时原位替换（只更新标签），否则插入到最前面。
// 返回是否替换了已有记录。
func (j *Journal) Upsert(ctx context.Context, entry model.DreamEntry) bool {
	j.mu.Lock()
	replaced := false
	saved := entry.Clone()
	for i, e := range j.entries {
		if e.ID == entry.ID {
			saved = e.WithTags(entry.Tags)
			j.entries[i] = saved
			replaced = true
			break
		}
	}
	if !replaced {
		j.entries = append([]model.DreamEntry{saved}, j.entries...)
	}
	snapshot := make([]model.DreamEntry, len(j.entries))
	copy(snapshot, j.entries)
	// 持锁写入，保证槽位中的内容与内存中的最后一次修改一致
	j.store.Save(ctx, snapshot)
	j.mu.Unlock()

	if j.indexer != nil {
		if err := j.indexer.IndexDream(ctx, saved.Clone()); err != nil {
			log.Warnf("[Journal] 梦境索引失败, id: %s, error: %v", saved.ID, err)
		}
	}
	log.Infof("[Journal] 保存梦境成功, id: %s, replaced: %t, total: %d", saved.ID, replaced, len(snapshot))
	return replaced
}

// Filter 返回至少有一个标签包含 term（不区分大小写）的记录，按创建时间倒序。
// term 为空时返回全部记录。
func (j *Journal) Filter(term string) []model.DreamEntry {
	term = strings.ToLower(strings.TrimSpace(term))
	all := j.Entries()
	out := make([]model.DreamEntry, 0, len(all))
	for _, e := range all {
		if term == "" || e.HasTagContaining(term) {
			out = append(out, e)
		}
	}
	model.SortNewestFirst(out)
	return out
}
