package relay

import (
	"context"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisherSource interface {
	Ping(ctx context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// PubSubBroker caches one ordered publisher per topic.
type PubSubBroker struct {
	src    publisherSource
	mu     sync.Mutex
	topics map[string]*gcppubsub.Publisher
}

func NewPubSubBroker(src publisherSource) *PubSubBroker {
	return &PubSubBroker{src: src, topics: map[string]*gcppubsub.Publisher{}}
}

func (b *PubSubBroker) Ping(ctx context.Context) error {
	return b.src.Ping(ctx)
}

// Topic returns nil when the topic name cannot be resolved.
func (b *PubSubBroker) Topic(name string) Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.topics[name]; ok {
		return pubsubTopic{p: p}
	}
	p := b.src.Publisher(name)
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	b.topics[name] = p
	return pubsubTopic{p: p}
}

// Stop flushes and stops every cached publisher.
func (b *PubSubBroker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, p := range b.topics {
		p.Stop()
		delete(b.topics, name)
	}
}

type pubsubTopic struct {
	p *gcppubsub.Publisher
}

func (t pubsubTopic) Publish(ctx context.Context, msg *gcppubsub.Message) Result {
	return t.p.Publish(ctx, msg)
}

func (t pubsubTopic) ResumePublish(orderingKey string) {
	t.p.ResumePublish(orderingKey)
}
