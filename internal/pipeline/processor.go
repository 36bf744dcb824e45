// Package pipeline 定义了梦境索引的处理流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"dream-weaver-go/internal/model"
	"dream-weaver-go/pkg/es"
	"dream-weaver-go/pkg/log"
	"dream-weaver-go/pkg/tasks"

	"github.com/elastic/go-elasticsearch/v8"
)

// Processor 把保存后的梦境写入 Elasticsearch 索引。
type Processor struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(esClient *elasticsearch.Client, indexName string) *Processor {
	return &Processor{esClient: esClient, indexName: indexName}
}

// Process 处理一条索引任务，供 Kafka 消费者调用。
func (p *Processor) Process(ctx context.Context, task tasks.DreamIndexTask) error {
	if task.DreamID == "" {
		return errors.New("任务缺少梦境 ID")
	}
	log.Infof("[Processor] 开始索引梦境, id: %s, tags: %v", task.DreamID, task.Tags)
	if err := es.IndexDream(ctx, p.esClient, p.indexName, task.Document()); err != nil {
		log.Errorf("[Processor] 索引梦境失败, id: %s, error: %v", task.DreamID, err)
		return fmt.Errorf("索引梦境失败: %w", err)
	}
	log.Infof("[Processor] 梦境索引成功, id: %s", task.DreamID)
	return nil
}

// IndexDream 同步索引一条日志记录，未启用 Kafka 时作为日志的索引钩子使用。
func (p *Processor) IndexDream(ctx context.Context, entry model.DreamEntry) error {
	return p.Process(ctx, tasks.NewDreamIndexTask(entry))
}
