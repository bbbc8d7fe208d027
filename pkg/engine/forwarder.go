package engine

import (
	"context"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
	kafkawrapper "github.com/joripage/darkpool-engine/pkg/infra/kafka"
)

// KafkaForwarder publishes committed matches to the settlement topic.
// Messages are keyed by pair so settlement consumers see each pair's
// matches in order.
type KafkaForwarder struct {
	producer *kafkawrapper.Producer
	topic    string
}

func NewKafkaForwarder(producer *kafkawrapper.Producer, topic string) *KafkaForwarder {
	return &KafkaForwarder{producer: producer, topic: topic}
}

func (f *KafkaForwarder) Forward(ctx context.Context, m *model.Match) error {
	key := m.BaseToken + "/" + m.QuoteToken
	return f.producer.PublishJSON(ctx, f.topic, key, m, nil)
}

var _ MatchForwarder = (*KafkaForwarder)(nil)
