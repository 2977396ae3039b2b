package kafka

import "time"

const (
	TopicDLQSuffix = ".dlq"

	PublishTimeout = 3 * time.Second

	ErrorHeaderKey = "x-error"
	KindHeaderKey  = "x-change-kind"

	SchemaVersion = 1
)
