package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	// Redis pub/sub channel prefix for per-user in-app delivery.
	RealtimeChannelPrefix = "notify:user:"

	DefaultRealtimeQueueSize = 1024

	// Concurrently processed target users per dispatch.
	DefaultFanoutLimit = 8
)

const (
	DefaultTaskCategory = "ops"
	DefaultTaskPriority = "P3"

	TaskStatusQueued    = "queued"
	TaskSourceAlertRule = "alert_rule"
)

const (
	AlertsHref       = "/alerts"
	ClientHrefPrefix = "/clients/"
)

const (
	DefaultMongoDBName = "beacon"
)
