package fakemsgbroker

import (
	"context"
	"fmt"
	"sync"

	mbroker "github.com/textileio/auction-core/msgbroker"
)

// FakeMsgBroker is an in-memory implementation of MsgBroker for tests.
// Published messages are retained for inspection and delivered synchronously
// to any registered handlers.
type FakeMsgBroker struct {
	lock          sync.Mutex
	topicMessages map[string][][]byte
	topicHandlers map[string][]mbroker.TopicHandler
}

var _ mbroker.MsgBroker = (*FakeMsgBroker)(nil)

// New returns a new FakeMsgBroker.
func New() *FakeMsgBroker {
	return &FakeMsgBroker{
		topicMessages: map[string][][]byte{},
		topicHandlers: map[string][]mbroker.TopicHandler{},
	}
}

// RegisterTopicHandler registers a handler for a topic.
func (b *FakeMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	opts ...mbroker.Option) error {
	if _, err := mbroker.ApplyRegisterHandlerOptions(opts...); err != nil {
		return fmt.Errorf("applying options: %s", err)
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	b.topicHandlers[string(topicName)] = append(b.topicHandlers[string(topicName)], handler)

	return nil
}

// PublishMsg records the message and delivers it to registered handlers.
func (b *FakeMsgBroker) PublishMsg(ctx context.Context, topicName mbroker.TopicName, data []byte) error {
	b.lock.Lock()
	b.topicMessages[string(topicName)] = append(b.topicMessages[string(topicName)], data)
	handlers := b.topicHandlers[string(topicName)]
	b.lock.Unlock()

	for _, h := range handlers {
		if err := h(ctx, data); err != nil {
			return fmt.Errorf("handling %s message: %s", topicName, err)
		}
	}

	return nil
}

// Helpers for tests

// TotalPublished returns the total count of published messages.
func (b *FakeMsgBroker) TotalPublished() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	var count int
	for _, msgs := range b.topicMessages {
		count += len(msgs)
	}

	return count
}

// TotalPublishedTopic returns the total count of published messages in a topic.
func (b *FakeMsgBroker) TotalPublishedTopic(name string) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.topicMessages[name])
}

// GetMsg returns the message payload at position idx of a topic.
func (b *FakeMsgBroker) GetMsg(name string, idx int) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	topic := b.topicMessages[name]
	if idx >= len(topic) {
		return nil, fmt.Errorf("topic queue has length %d smaller than idx access %d", len(topic), idx)
	}

	return topic[idx], nil
}
