package kafka

import (
	"errors"
	"strconv"

	"github.com/segmentio/kafka-go"
)

const DefaultDLQPrefix = "dlq"

// Headers added to every dead-lettered message.
const (
	HeaderDLQOriginalTopic     = "dlq.original_topic"
	HeaderDLQOriginalPartition = "dlq.original_partition"
	HeaderDLQOriginalOffset    = "dlq.original_offset"
	HeaderDLQConsumerGroup     = "dlq.consumer_group"
	HeaderDLQError             = "dlq.error"
)

func DLQTopic(prefix, topic string) string {
	if prefix == "" {
		prefix = DefaultDLQPrefix
	}
	return prefix + "." + topic
}

// DeadLetterError is implemented by handler errors that carry extra
// diagnostics for the dead-letter copy of a message.
type DeadLetterError interface {
	error
	DeadLetterHeaders() map[string]string
}

// deadLetter copies m to the dead-letter topic, keeping key, value and the
// original headers.
func deadLetter(m kafka.Message, prefix, group string, cause error) kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers)+6)
	headers = append(headers, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQOriginalTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: HeaderDLQOriginalPartition, Value: []byte(strconv.Itoa(m.Partition))},
		kafka.Header{Key: HeaderDLQOriginalOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: HeaderDLQConsumerGroup, Value: []byte(group)},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: HeaderDLQError, Value: []byte(cause.Error())})
		var dle DeadLetterError
		if errors.As(cause, &dle) {
			headers = append(headers, toHeaders(dle.DeadLetterHeaders())...)
		}
	}
	return kafka.Message{
		Topic:   DLQTopic(prefix, m.Topic),
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	}
}
