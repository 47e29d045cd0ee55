package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"workspaceCollab/backend/internal/protocol"
)

var ErrDispatcherClosed = errors.New("kafka dispatcher closed")

// KafkaDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// - 不阻塞 hub 的转发（只负责入队）
// - Kafka 短暂不可用时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（丢弃），避免内存无限增长
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan ChangeEvent

	// 限制并发的 SendMessage 数量
	kafkaSem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o *KafkaDispatcherOptions) withDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 2 * time.Second
	}
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, kafkaSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	opt.withDefaults()
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan ChangeEvent, opt.QueueSize),
		kafkaSem:    kafkaSem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.start()
	return d
}

// Enqueue 把事件放入本地队列；队列满时等到 ctx 超时为止。
// 归档不要求强一致，超时的事件直接丢弃。
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt ChangeEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishChange turns a relayed document_change into a ChangeEvent and queues it.
func (d *KafkaDispatcher) PublishChange(ctx context.Context, msg protocol.DocumentChangeMessage) error {
	return d.Enqueue(ctx, NewChangeEvent(msg))
}

func (d *KafkaDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

// Close stops accepting events and waits for queued ones to be sent or dropped.
func (d *KafkaDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt ChangeEvent) bool {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.kafkaSem != nil {
			// worker 可以一直等，不影响主链路
			_ = d.kafkaSem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.kafkaSem != nil {
			_ = d.kafkaSem.Release()
		}

		if err == nil {
			return true
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event doc=%s event=%s version=%d worker=%d err=%v",
				evt.DocumentID, evt.EventID, evt.Version, workerID, err)
			return false
		}

		// 退避，每次 x2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
	return false
}

func (d *KafkaDispatcher) sendOnce(evt ChangeEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	// 以 documentId 作为 key，同一文档的事件落在同一分区，保持顺序
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocumentID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
