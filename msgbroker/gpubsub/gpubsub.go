package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	mbroker "github.com/textileio/auction-core/msgbroker"
	logging "github.com/textileio/go-log/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = logging.Logger("gpubsub")

// PubsubMsgBroker is a MsgBroker backed by Google PubSub. Topics and
// subscriptions that don't exist are created on first use.
type PubsubMsgBroker struct {
	topicPrefix string
	subsName    string

	client          *pubsub.Client
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc

	topicCacheLock sync.Mutex
	topicCache     map[string]*pubsub.Topic

	receivingWg sync.WaitGroup

	metrics metricsCollector
}

var _ mbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new PubsubMsgBroker. The subsName is used to build
// per-daemon subscription names, so multiple daemons can consume the same
// topic independently. If apiKey is empty, ambient credentials are used,
// which covers the emulator case.
func New(projectID, apiKey, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	if subsName == "" {
		return nil, errors.New("subscription name is empty")
	}

	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(apiKey)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	p := &PubsubMsgBroker{
		topicPrefix: topicPrefix,
		subsName:    subsName,

		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,

		topicCache: map[string]*pubsub.Topic{},

		metrics: noopMetricsCollector{},
	}
	p.initMetrics()

	return p, nil
}

// RegisterTopicHandler registers a handler in a subscription derived from
// the topic and subscription names, and starts receiving in the background.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	opts ...mbroker.Option) error {
	cfg, err := mbroker.ApplyRegisterHandlerOptions(opts...)
	if err != nil {
		return fmt.Errorf("applying options: %s", err)
	}

	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	subsName := topic.ID() + "-" + p.subsName
	var sub *pubsub.Subscription
	ctx, cancel := context.WithTimeout(p.clientCtx, time.Second*10)
	defer cancel()
	it := topic.Subscriptions(ctx)
	for {
		subi, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("looking for subscription: %s", err)
		}
		if subi.ID() == subsName {
			sub = subi
			break
		}
	}
	if sub == nil {
		log.Warnf("creating subscription %s for topic %s", subsName, topic.ID())

		config := pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: cfg.AckDeadline,
		}
		sub, err = p.client.CreateSubscription(ctx, subsName, config)
		if err != nil {
			return fmt.Errorf("creating subscription: %s", err)
		}
	}

	p.receivingWg.Add(1)
	go func() {
		defer p.receivingWg.Done()
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			start := time.Now()
			err := handler(ctx, m.Data)
			p.metrics.onHandle(ctx, topic.ID(), time.Since(start), err)
			if err != nil {
				log.Errorf("handling message from topic %s: %s", topic.ID(), err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("receiving from subscription %s, topic %s: %s", subsName, topic.ID(), err)
		}
	}()

	log.Debugf("registered handler for %s:%s", subsName, topic.ID())
	return nil
}

// PublishMsg publishes a message to the desired topic.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, topicName mbroker.TopicName, data []byte) error {
	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}
	pr := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = pr.Get(ctx)
	p.metrics.onPublish(ctx, topic.ID(), err)
	if err != nil {
		return fmt.Errorf("publishing to pubsub: %s", err)
	}

	return nil
}

func (p *PubsubMsgBroker) getTopic(name string) (*pubsub.Topic, error) {
	fullName := p.topicPrefix + name

	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[fullName]
	if ok {
		return topic, nil
	}

	topic = p.client.Topic(fullName)
	ctx, cancel := context.WithTimeout(p.clientCtx, time.Second*10)
	defer cancel()
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", fullName)

		topic, err = p.client.CreateTopic(ctx, fullName)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", fullName, err)
		}
	}
	p.topicCache[fullName] = topic

	return topic, nil
}

// Close stops receiving, flushes cached topics and closes the client.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	p.receivingWg.Wait()

	p.topicCacheLock.Lock()
	for _, topic := range p.topicCache {
		topic.Stop()
	}
	p.topicCacheLock.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing pubsub client: %s", err)
	}

	return nil
}
