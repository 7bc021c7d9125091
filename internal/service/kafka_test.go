package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"modbus-formatter/internal/formatter"
	"modbus-formatter/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	msgs     []OutboundMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg OutboundMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) sent() []OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OutboundMessage(nil), p.msgs...)
}

type fakeSink struct {
	name       string
	err        error
	deliveries []Delivery
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Handle(_ context.Context, d Delivery) error {
	s.deliveries = append(s.deliveries, d)
	return s.err
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	allDone   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == 3 {
		close(r.allDone)
	}
	return nil
}

const validBody = `[
	{"DisplayName":"Volts L1 to Neutral","HwId":"meter-1","Address":"40001","Value":"17254","SourceTimestamp":"t0"},
	{"DisplayName":"Volts L1 to Neutral","HwId":"meter-1","Address":"40002","Value":"32768","SourceTimestamp":"t0"},
	{"DisplayName":"Frequency","HwId":"meter-1","Address":"40003","Value":"50","SourceTimestamp":"t0"},
	{"DisplayName":"kW System","HwId":"meter-2","Address":"40001","Value":"0","SourceTimestamp":"t0"},
	{"DisplayName":"kW System","HwId":"meter-2","Address":"40002","Value":"1065353216","SourceTimestamp":"t0"}
]`

func newTestService(pub Publisher, sinks ...Sink) *KafkaService {
	s := NewKafkaService(zap.NewNop().Sugar(), formatter.NewAggregator(formatter.LayoutUnpadded), pub, NewProcessStats(), 1, sinks...)
	s.backoff = time.Millisecond
	s.maxBackoff = 2 * time.Millisecond
	return s
}

func TestProcessMessagePublishesBatch(t *testing.T) {
	pub := &fakePublisher{}
	okSink := &fakeSink{name: "ok"}
	badSink := &fakeSink{name: "bad", err: errors.New("down")}
	s := newTestService(pub, okSink, badSink)

	msg := kafka.Message{
		Value:   []byte(validBody),
		Headers: []kafka.Header{{Key: headerCorrelationID, Value: []byte("corr-1")}},
	}
	if err := s.ProcessMessage(context.Background(), msg); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	sent := pub.sent()
	if len(sent) != 1 {
		t.Fatalf("published %d messages", len(sent))
	}
	out := string(sent[0].Value)
	for _, want := range []string{
		`"deviceId":"meter-1"`, `"voltsL1toNeutral":230.5`,
		`"deviceId":"meter-2"`, `"kwSystem":1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
	if strings.Index(out, "meter-1") > strings.Index(out, "meter-2") {
		t.Error("devices out of first-seen order")
	}
	if string(sent[0].Key) != "corr-1" || sent[0].Headers[headerSequence] != "1" {
		t.Errorf("key=%s headers=%v", sent[0].Key, sent[0].Headers)
	}

	if len(okSink.deliveries) != 1 || len(badSink.deliveries) != 1 {
		t.Fatal("sinks not called")
	}
	d := okSink.deliveries[0]
	if d.Sequence != 1 || d.CorrelationID != "corr-1" || len(d.Input) != 5 || len(d.Output.DeviceData) != 2 {
		t.Errorf("delivery = %+v", d)
	}

	snap := s.Stats().Snapshot()
	if snap.Messages != 1 || snap.Records != 5 || snap.Devices != 2 {
		t.Errorf("stats = %+v", snap)
	}
	if snap.SinkOK["ok"] != 1 || snap.SinkFailed["bad"] != 1 {
		t.Errorf("sink stats = %+v / %+v", snap.SinkOK, snap.SinkFailed)
	}
}

func TestProcessMessageRejects(t *testing.T) {
	tests := map[string]struct {
		body string
		want error
	}{
		"not json":        {`hello`, model.ErrInvalidEnvelope},
		"malformed value": {`[{"DisplayName":"Amps L1","HwId":"m","Value":"x1"}]`, formatter.ErrMalformedValue},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			pub := &fakePublisher{}
			s := newTestService(pub)

			err := s.ProcessMessage(context.Background(), kafka.Message{Value: []byte(tt.body)})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !isRejected(err) {
				t.Error("expected rejected classification")
			}
			if len(pub.sent()) != 0 {
				t.Error("rejected batch was published")
			}
			if s.Stats().Snapshot().Rejected != 1 {
				t.Error("rejection not counted")
			}
		})
	}
}

func TestProcessMessageRetriesPublish(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	s := newTestService(pub)

	if err := s.ProcessMessage(context.Background(), kafka.Message{Value: []byte(validBody)}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(pub.sent()) != 1 {
		t.Fatalf("published %d", len(pub.sent()))
	}
	if got := s.Stats().Snapshot().PublishErrors; got != 2 {
		t.Errorf("publish errors = %d", got)
	}
}

func TestProcessMessageStopsOnCancel(t *testing.T) {
	pub := &fakePublisher{failures: 1000}
	s := newTestService(pub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.ProcessMessage(ctx, kafka.Message{Value: []byte(validBody)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if isRejected(err) {
		t.Error("cancellation must not be classified as rejection")
	}
}

func TestStartConsumerCommitsProcessedAndRejected(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestService(pub)
	reader := &fakeReader{
		msgs: []kafka.Message{
			{Offset: 10, Value: []byte(validBody)},
			{Offset: 11, Value: []byte(`{"nope":true}`)},
			{Offset: 12, Value: []byte(`{"body":[]}`)},
		},
		allDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.StartConsumer(ctx, reader)
		close(done)
	}()

	select {
	case <-reader.allDone:
	case <-time.After(5 * time.Second):
		t.Fatal("messages not committed")
	}
	cancel()
	<-done

	if got := reader.committed; len(got) != 3 || got[0] != 10 || got[2] != 12 {
		t.Errorf("committed = %v", got)
	}
	sent := pub.sent()
	if len(sent) != 2 {
		t.Fatalf("published %d", len(sent))
	}
	if string(sent[1].Value) != `{"deviceData":[]}` {
		t.Errorf("empty batch output = %s", sent[1].Value)
	}
	if s.IsAlive() {
		t.Error("consumer should report stopped")
	}
}

func TestSequenceIsMonotonic(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestService(pub)

	for i := 0; i < 3; i++ {
		if err := s.ProcessMessage(context.Background(), kafka.Message{Value: []byte(`[]`)}); err != nil {
			t.Fatal(err)
		}
	}
	sent := pub.sent()
	for i, m := range sent {
		if want := []string{"1", "2", "3"}[i]; m.Headers[headerSequence] != want {
			t.Errorf("message %d sequence = %s", i, m.Headers[headerSequence])
		}
		if len(m.Key) == 0 {
			t.Errorf("message %d has no correlation id", i)
		}
	}
}
