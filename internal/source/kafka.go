package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sha1n/kseek/internal/domain"
	"github.com/sha1n/kseek/internal/search"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultPollSize is the maximum number of records fetched per poll.
const DefaultPollSize = 500

// KafkaConfig configures a Kafka source.
type KafkaConfig struct {
	Brokers  []string
	Topics   []string
	ClientID string
	PollSize int

	// StopAtEnd makes Next return io.EOF once every partition has been read
	// up to the end offset it had when the source was assigned.
	StopAtEnd bool
}

type topicPartition struct {
	topic     string
	partition int32
}

// Kafka consumes records from a set of topics without joining a consumer
// group. The default start position is the end of every partition.
type Kafka struct {
	cfg    KafkaConfig
	logger *slog.Logger

	mu        sync.Mutex
	client    *kgo.Client
	pending   []*kgo.Record
	remaining map[topicPartition]int64
	estimate  uint64
}

// NewKafka creates an unassigned Kafka source. A nil logger uses slog.Default().
func NewKafka(cfg KafkaConfig, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollSize <= 0 {
		cfg.PollSize = DefaultPollSize
	}
	return &Kafka{cfg: cfg, logger: logger}
}

// Assign connects to the brokers and positions every partition of the
// configured topics at start.
func (k *Kafka) Assign(ctx context.Context, start *search.FromDescriptor) error {
	if len(k.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	if len(k.cfg.Topics) == 0 {
		return errors.New("no kafka topics configured")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.closeLocked()

	opts := []kgo.Opt{
		kgo.SeedBrokers(k.cfg.Brokers...),
		kgo.ConsumeTopics(k.cfg.Topics...),
		kgo.ConsumeResetOffset(resetOffset(start)),
	}
	if k.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(k.cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("failed to create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return fmt.Errorf("failed to reach kafka brokers %v: %w", k.cfg.Brokers, err)
	}

	remaining, estimate, err := k.plan(ctx, kadm.NewClient(client), start)
	if err != nil {
		client.Close()
		return err
	}

	k.client = client
	k.remaining = remaining
	k.estimate = estimate
	k.logger.Info("Kafka source assigned",
		"topics", k.cfg.Topics,
		"start", describe(start),
		"estimated_records", estimate,
	)
	return nil
}

// plan resolves the per-partition offset range [from, end) of start.
func (k *Kafka) plan(ctx context.Context, adm *kadm.Client, start *search.FromDescriptor) (map[topicPartition]int64, uint64, error) {
	lows, err := adm.ListStartOffsets(ctx, k.cfg.Topics...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list start offsets: %w", err)
	}
	highs, err := adm.ListEndOffsets(ctx, k.cfg.Topics...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list end offsets: %w", err)
	}
	var afters kadm.ListedOffsets
	if start != nil && start.Kind == search.PositionTimestamp {
		afters, err = adm.ListOffsetsAfterMilli(ctx, start.Value, k.cfg.Topics...)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list offsets after %d: %w", start.Value, err)
		}
	}

	remaining := make(map[topicPartition]int64)
	var estimate uint64
	highs.Each(func(high kadm.ListedOffset) {
		if high.Err != nil {
			k.logger.Warn("Failed to list partition end offset", "topic", high.Topic, "partition", high.Partition, "error", high.Err)
			return
		}
		low := high.Offset
		if l, ok := lows.Lookup(high.Topic, high.Partition); ok && l.Err == nil {
			low = l.Offset
		}
		after := high.Offset
		if a, ok := afters.Lookup(high.Topic, high.Partition); ok && a.Err == nil && a.Offset >= 0 {
			after = a.Offset
		}

		from := fromOffset(start, low, high.Offset, after)
		if from < high.Offset {
			remaining[topicPartition{high.Topic, high.Partition}] = high.Offset
			estimate += uint64(high.Offset - from)
		}
	})
	return remaining, estimate, nil
}

// fromOffset returns the first offset consumed in a partition holding
// offsets [low, high). after is the first offset at or past the start
// timestamp, if any.
func fromOffset(start *search.FromDescriptor, low, high, after int64) int64 {
	if start == nil {
		return high
	}
	switch start.Kind {
	case search.PositionBeginning:
		return low
	case search.PositionEnd:
		return high
	case search.PositionEndMinus:
		return max(low, high-start.Value)
	case search.PositionOffset:
		return min(max(low, start.Value), high)
	default:
		return min(max(low, after), high)
	}
}

func resetOffset(start *search.FromDescriptor) kgo.Offset {
	if start == nil {
		return kgo.NewOffset().AtEnd()
	}
	switch start.Kind {
	case search.PositionBeginning:
		return kgo.NewOffset().AtStart()
	case search.PositionEnd:
		return kgo.NewOffset().AtEnd()
	case search.PositionEndMinus:
		return kgo.NewOffset().AtEnd().Relative(-start.Value)
	case search.PositionOffset:
		return kgo.NewOffset().At(start.Value)
	default:
		return kgo.NewOffset().AfterMilli(start.Value)
	}
}

func describe(start *search.FromDescriptor) string {
	if start == nil {
		return "default"
	}
	return start.String()
}

// Next returns the next record, polling the brokers when nothing is pending.
func (k *Kafka) Next(ctx context.Context) (domain.Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client == nil {
		return domain.Record{}, ErrNotAssigned
	}

	for len(k.pending) == 0 {
		if k.cfg.StopAtEnd && len(k.remaining) == 0 {
			return domain.Record{}, io.EOF
		}

		fetches := k.client.PollRecords(ctx, k.cfg.PollSize)
		if fetches.IsClientClosed() {
			return domain.Record{}, io.EOF
		}

		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			if fetchErr == nil {
				fetchErr = fmt.Errorf("failed to fetch %s/%d: %w", topic, partition, err)
			}
		})
		fetches.EachRecord(func(r *kgo.Record) {
			k.pending = append(k.pending, r)
		})

		if len(k.pending) == 0 {
			if err := ctx.Err(); err != nil {
				return domain.Record{}, err
			}
			if fetchErr != nil {
				return domain.Record{}, fetchErr
			}
		}
	}

	r := k.pending[0]
	k.pending[0] = nil
	k.pending = k.pending[1:]

	tp := topicPartition{r.Topic, r.Partition}
	if end, ok := k.remaining[tp]; ok && r.Offset+1 >= end {
		delete(k.remaining, tp)
	}
	return decodeRecord(r), nil
}

func decodeRecord(r *kgo.Record) domain.Record {
	rec := domain.Record{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       domain.DecodeData(r.Key),
		Value:     domain.DecodeData(r.Value),
		Size:      len(r.Key) + len(r.Value),
	}
	if !r.Timestamp.IsZero() {
		rec.Timestamp = domain.Millis(r.Timestamp.UnixMilli())
	}
	for _, h := range r.Headers {
		rec.Headers = append(rec.Headers, domain.Header{Key: h.Key, Value: string(h.Value)})
	}
	return rec
}

// EstimateTotal returns the number of records between the assigned position
// and the end offsets observed at assignment.
func (k *Kafka) EstimateTotal(context.Context) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.estimate, nil
}

// Close releases the client.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closeLocked()
	return nil
}

func (k *Kafka) closeLocked() {
	if k.client != nil {
		k.client.Close()
		k.client = nil
	}
	k.pending = nil
	k.remaining = nil
	k.estimate = 0
}
