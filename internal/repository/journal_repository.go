// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dream-weaver-go/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSlotNotFound 表示持久化槽位中还没有任何数据。
var ErrSlotNotFound = errors.New("journal slot not found")

// JournalRepository 定义了梦境日志整体读写的接口。
// 整个日志集合序列化后存放在一个具名槽位中，每次写入都是全量覆盖。
type JournalRepository interface {
	LoadRaw(ctx context.Context) ([]byte, error)
	SaveRaw(ctx context.Context, payload []byte) error
}

// DecodeJournal 解析槽位中的 JSON 数组。
func DecodeJournal(payload []byte) ([]model.DreamEntry, error) {
	var entries []model.DreamEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	return entries, nil
}

// EncodeJournal 把日志集合序列化为 JSON 数组，nil 输出为 []。
func EncodeJournal(entries []model.DreamEntry) ([]byte, error) {
	if entries == nil {
		entries = []model.DreamEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal journal: %w", err)
	}
	return b, nil
}

type redisJournalRepository struct {
	redisClient *redis.Client
	key         string
}

// NewRedisJournalRepository 创建一个以 Redis 键为槽位的 JournalRepository，数据不设过期时间。
func NewRedisJournalRepository(redisClient *redis.Client, key string) JournalRepository {
	return &redisJournalRepository{redisClient: redisClient, key: key}
}

// LoadRaw 从 Redis 读取槽位内容。
func (r *redisJournalRepository) LoadRaw(ctx context.Context) ([]byte, error) {
	data, err := r.redisClient.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	return data, nil
}

// SaveRaw 覆盖写入 Redis 槽位。
func (r *redisJournalRepository) SaveRaw(ctx context.Context, payload []byte) error {
	if err := r.redisClient.Set(ctx, r.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to set journal: %w", err)
	}
	return nil
}

// JournalSlot 对应于数据库中的 'journal_slots' 表，每一行是一个具名槽位。
type JournalSlot struct {
	Name      string    `gorm:"type:varchar(128);primaryKey"`
	Payload   string    `gorm:"type:longtext;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (JournalSlot) TableName() string {
	return "journal_slots"
}

type gormJournalRepository struct {
	db   *gorm.DB
	name string
}

// NewGormJournalRepository 创建一个以数据库行为槽位的 JournalRepository。
func NewGormJournalRepository(db *gorm.DB, name string) JournalRepository {
	return &gormJournalRepository{db: db, name: name}
}

// LoadRaw 读取槽位所在行。
func (r *gormJournalRepository) LoadRaw(ctx context.Context) ([]byte, error) {
	var slot JournalSlot
	err := r.db.WithContext(ctx).Where("name = ?", r.name).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query journal slot: %w", err)
	}
	return []byte(slot.Payload), nil
}

// SaveRaw 以 upsert 的方式覆盖槽位所在行。
func (r *gormJournalRepository) SaveRaw(ctx context.Context, payload []byte) error {
	slot := JournalSlot{Name: r.name, Payload: string(payload), UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&slot).Error
	if err != nil {
		return fmt.Errorf("failed to save journal slot: %w", err)
	}
	return nil
}
