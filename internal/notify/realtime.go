package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/pkg/metrics"
)

// RealtimePublisher pushes in-app messages toward connected dashboards.
// Publish must never block the dispatch path and must never return an
// error: realtime delivery is best effort.
type RealtimePublisher interface {
	Publish(userID int64, msg RealtimeMessage)
}

type realtimeItem struct {
	userID int64
	msg    RealtimeMessage
}

// RedisRealtimePublisher drains a bounded in-memory queue into Redis
// pub/sub, one channel per user. When the queue is full the message is
// dropped and counted, not waited on.
type RedisRealtimePublisher struct {
	client *redis.Client
	logger logger.Logger
	queue  chan realtimeItem

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

func NewRealtimePublisher(client *redis.Client, queueSize int, log logger.Logger) *RedisRealtimePublisher {
	if queueSize <= 0 {
		queueSize = constants.DefaultRealtimeQueueSize
	}

	p := &RedisRealtimePublisher{
		client:  client,
		logger:  log,
		queue:   make(chan realtimeItem, queueSize),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}

	go p.run()

	return p
}

func (p *RedisRealtimePublisher) Publish(userID int64, msg RealtimeMessage) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.queue <- realtimeItem{userID: userID, msg: msg}:
		metrics.RealtimeQueueDepth.Set(float64(len(p.queue)))
	default:
		metrics.RealtimeQueueDroppedTotal.Inc()
		p.logger.Warnw("Realtime queue full, dropping message",
			"user_id", userID,
			"notification_id", msg.NotificationID)
	}
}

func (p *RedisRealtimePublisher) run() {
	defer close(p.drained)

	for {
		select {
		case item := <-p.queue:
			p.deliver(item)
			metrics.RealtimeQueueDepth.Set(float64(len(p.queue)))
		case <-p.done:
			// Drain what was already accepted.
			for {
				select {
				case item := <-p.queue:
					p.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (p *RedisRealtimePublisher) deliver(item realtimeItem) {
	payload, err := json.Marshal(item.msg)
	if err != nil {
		p.logger.Errorw("Failed to marshal realtime message", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	channel := constants.RealtimeChannelPrefix + strconv.FormatInt(item.userID, 10)
	err = p.client.Publish(ctx, channel, payload).Err()
	metrics.ObserveChannelDelivery("in_app", time.Since(start), err)
	if err != nil {
		p.logger.Errorw("Realtime delivery failed",
			"user_id", item.userID,
			"channel", channel,
			"error", err)
	}
}

// Close stops accepting new messages and drains the queue.
func (p *RedisRealtimePublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	<-p.drained
}

// NopRealtimePublisher stands in when no Redis is configured.
type NopRealtimePublisher struct{}

func (NopRealtimePublisher) Publish(int64, RealtimeMessage) {}
