package service

import (
	"context"
	"time"

	"llm-retrieval-go/internal/pipeline"
	"llm-retrieval-go/pkg/kafka"
	"llm-retrieval-go/pkg/log"
	"llm-retrieval-go/pkg/tasks"
)

// kafkaDispatcher 把摄取任务发到 Kafka，由消费者进程处理。
type kafkaDispatcher struct {
	producer *kafka.Producer
}

// NewKafkaDispatcher 创建一个基于 Kafka 的 TaskDispatcher。
func NewKafkaDispatcher(producer *kafka.Producer) TaskDispatcher {
	return &kafkaDispatcher{producer: producer}
}

func (d *kafkaDispatcher) Dispatch(ctx context.Context, task tasks.IngestTask) error {
	return d.producer.ProduceIngestTask(ctx, task)
}

// directDispatcher 在本进程内起 goroutine 执行摄取，
// 供未接入 Kafka 的单机部署使用。失败处理由管道自身完成。
type directDispatcher struct {
	ingestor *pipeline.Ingestor
	timeout  time.Duration
}

// NewDirectDispatcher 创建一个进程内 TaskDispatcher。
func NewDirectDispatcher(ingestor *pipeline.Ingestor) TaskDispatcher {
	return &directDispatcher{ingestor: ingestor, timeout: 10 * time.Minute}
}

func (d *directDispatcher) Dispatch(_ context.Context, task tasks.IngestTask) error {
	// 摄取不绑定请求生命周期，请求返回后继续执行
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.ingestor.Ingest(ctx, task); err != nil {
			log.Errorf("[Dispatcher] 进程内摄取失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		}
	}()
	return nil
}
