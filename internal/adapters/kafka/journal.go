package kafka

import (
	"context"
	"log/slog"

	"collab-service/internal/collab"

	"github.com/IBM/sarama"
)

const journalBufferSize = 1024

// NewSyncProducer builds the producer used for the activity journal.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "collab-service"

	return sarama.NewSyncProducer(brokers, config)
}

// Journal publishes section-update and comment activity to Kafka for
// downstream consumers: the proposal store persists edits from here and
// the notification pipeline watches comments. The hub hands events to a
// buffered channel and never waits on the broker; a full buffer drops the
// record, which downstream consumers tolerate (the realtime broadcast is
// the delivery guarantee, the journal is an activity feed).
type Journal struct {
	producer sarama.SyncProducer
	topic    string
	records  chan *collab.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewJournal(producer sarama.SyncProducer, topic string) *Journal {
	ctx, cancel := context.WithCancel(context.Background())

	return &Journal{
		producer: producer,
		topic:    topic,
		records:  make(chan *collab.Event, journalBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (j *Journal) Start() {
	go j.run()
}

func (j *Journal) Stop() {
	j.cancel()
	<-j.done
	if err := j.producer.Close(); err != nil {
		slog.Error("Failed to close Kafka producer", "error", err)
	}
}

// Record implements collab.ActivityRecorder.
func (j *Journal) Record(event *collab.Event) {
	select {
	case j.records <- event:
	default:
		slog.Warn("Activity journal buffer full, dropping record",
			"type", event.Type, "proposalId", event.ProposalID)
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for {
		select {
		case event := <-j.records:
			j.publish(event)
		case <-j.ctx.Done():
			return
		}
	}
}

func (j *Journal) publish(event *collab.Event) {
	data, err := event.Marshal()
	if err != nil {
		slog.Error("Failed to marshal activity record", "type", event.Type, "error", err)
		return
	}

	// Keyed by proposal so one proposal's activity stays ordered within
	// its partition.
	msg := &sarama.ProducerMessage{
		Topic: j.topic,
		Key:   sarama.StringEncoder(event.ProposalID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := j.producer.SendMessage(msg); err != nil {
		slog.Error("Failed to publish activity record",
			"type", event.Type, "proposalId", event.ProposalID, "error", err)
	}
}
