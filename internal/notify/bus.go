package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopic = "patternline.notifications"

	kindMetadataKey       = "kind"
	submissionMetadataKey = "submission_id"
)

// NewChannel returns an in-process pub/sub usable as both publisher and
// subscriber. Publish returns once every subscriber has acked, so a
// notification has been delivered when Bus.Notify returns.
func NewChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
}

// Bus publishes notifications as JSON messages on a watermill topic.
type Bus struct {
	Publisher message.Publisher
	Topic     string
}

func NewBus(pub message.Publisher, topic string) Bus {
	if topic == "" {
		topic = DefaultTopic
	}
	return Bus{Publisher: pub, Topic: topic}
}

func (b Bus) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(kindMetadataKey, string(n.Kind))
	msg.Metadata.Set(submissionMetadataKey, n.SubmissionID)
	msg.SetContext(ctx)
	if err := b.Publisher.Publish(b.Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// Handler processes one notification taken off the bus.
type Handler func(ctx context.Context, n Notification) error

// Consume subscribes to topic and passes every decodable message to handler
// until ctx is done or the subscriber closes. Every message is acked:
// undecodable ones are dropped and handler errors are logged, so a broken
// adapter never stalls the publisher.
func Consume(ctx context.Context, sub message.Subscriber, topic string, handler Handler, log *logrus.Entry) error {
	if topic == "" {
		topic = DefaultTopic
	}
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range messages {
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				if log != nil {
					log.WithError(err).WithField("message_id", msg.UUID).Warn("drop undecodable notification")
				}
				msg.Ack()
				continue
			}
			if err := handler(msg.Context(), n); err != nil && log != nil {
				log.WithError(err).WithField("kind", n.Kind).Warn("notification handler failed")
			}
			msg.Ack()
		}
	}()
	return nil
}
