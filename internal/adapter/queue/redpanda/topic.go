package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const (
	// TopicPersona carries persona generation batches.
	TopicPersona = "persona.generation"
	// TopicFeedback carries one task per feedback cell.
	TopicFeedback = "feedback.generation"

	// dlqSuffix is appended to a topic name to form its dead-letter topic.
	dlqSuffix = ".dlq"
)

// errTopicAlreadyExists is Kafka protocol error code 36.
const errTopicAlreadyExists = 36

// DLQTopic returns the dead-letter topic for a work topic.
func DLQTopic(topic string) string { return topic + dlqSuffix }

// createTopicIfNotExists creates a topic through the admin API, treating
// TOPIC_ALREADY_EXISTS as success so every process can call it at startup.
func createTopicIfNotExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=queue.create_topic: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=queue.create_topic: unexpected response type %T", resp)
	}
	for _, tr := range createResp.Topics {
		if tr.ErrorCode != 0 {
			if tr.ErrorCode == errTopicAlreadyExists {
				continue
			}
			msg := ""
			if tr.ErrorMessage != nil {
				msg = *tr.ErrorMessage
			}
			return fmt.Errorf("op=queue.create_topic: topic=%s: %s (code %d)", tr.Topic, msg, tr.ErrorCode)
		}
		slog.Info("topic created", slog.String("topic", tr.Topic), slog.Int("partitions", int(partitions)))
	}
	return nil
}

// EnsureTopics creates the work topics and their dead-letter counterparts.
func EnsureTopics(ctx context.Context, client *kgo.Client, partitions int32) error {
	for _, topic := range []string{
		TopicPersona, DLQTopic(TopicPersona),
		TopicFeedback, DLQTopic(TopicFeedback),
	} {
		if err := createTopicIfNotExists(ctx, client, topic, partitions, 1); err != nil {
			return err
		}
	}
	return nil
}
