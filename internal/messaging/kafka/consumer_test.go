package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// fakeGroup: ConsumerGroup, который отдаёт управление consumeFn.
type fakeGroup struct {
	consumeFn func(context.Context) error
	errs      chan error
	closeErr  error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	if g.consumeFn != nil {
		return g.consumeFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return g.closeErr
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func catalogMessage(offset int64, retries int) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{Topic: TopicCatalogUpdates, Partition: 1, Offset: offset, Key: []byte("7"), Value: []byte(`{}`)}
	if retries > 0 {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retries))}}
	}
	return msg
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestNewConsumer_UnreachableBroker(t *testing.T) {
	_, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{TopicCatalogUpdates},
		func(context.Context, *sarama.ConsumerMessage) error { return nil })
	require.Error(t, err)
}

func TestNewConsumer_Options(t *testing.T) {
	producer := NewProducerFromSync(mocks.NewSyncProducer(t, nil))
	c := newConsumer(&fakeGroup{errs: make(chan error)}, nil, nil,
		WithDeadLetters(producer, 5), WithRetryDelay(0), WithConsumerLogger(nil))

	assert.Same(t, producer, c.dlqProducer)
	assert.Equal(t, 5, c.maxRetries)
	assert.Zero(t, c.retryDelay)
	assert.NotNil(t, c.logger)

	defaults := newConsumer(&fakeGroup{errs: make(chan error)}, nil, nil, WithDeadLetters(nil, 0))
	assert.Equal(t, defaultMaxRetries, defaults.maxRetries)
	assert.Equal(t, defaultRetryDelay, defaults.retryDelay)
}

func TestConsumer_StartStop(t *testing.T) {
	var sessions atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	group := &fakeGroup{
		errs: make(chan error, 1),
		consumeFn: func(context.Context) error {
			// Вторая сессия имитирует rebalance, после неё останавливаемся.
			if sessions.Add(1) == 2 {
				cancel()
			}
			return errors.New("rebalance")
		},
	}
	group.errs <- errors.New("background error")

	c := newConsumer(group, []string{TopicCatalogUpdates}, nil, WithConsumerLogger(quietLogger()))
	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool { return sessions.Load() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, c.Stop())

	failing := newConsumer(&fakeGroup{errs: make(chan error), closeErr: errors.New("close failed")}, nil, nil)
	require.Error(t, failing.Stop())
}

func TestConsumeClaim_MarksOnlyProcessed(t *testing.T) {
	c := newConsumer(nil, nil, func(_ context.Context, msg *sarama.ConsumerMessage) error {
		if msg.Offset == 2 {
			return errors.New("broken")
		}
		return nil
	}, WithRetryDelay(0), WithConsumerLogger(quietLogger()))
	c.maxRetries = 1

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(catalogMessage(1, 0), catalogMessage(2, 0), catalogMessage(3, 0))))
	assert.Equal(t, []int64{1, 3}, session.marked)
}

func TestConsumeClaim_StopsOnSessionDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(nil, nil, nil, WithConsumerLogger(quietLogger()))

	done := make(chan error, 1)
	go func() {
		done <- c.ConsumeClaim(&fakeSession{ctx: ctx}, &fakeClaim{messages: make(chan *sarama.ConsumerMessage)})
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after session context cancellation")
	}
}

func TestProcess_RetryBudget(t *testing.T) {
	tests := []struct {
		name         string
		priorRetries int
		failures     int
		withDLQ      bool
		dlqFails     bool
		wantCalls    int
		wantErr      bool
	}{
		{name: "first attempt succeeds", failures: 0, wantCalls: 1},
		{name: "succeeds on retry", failures: 2, wantCalls: 3},
		{name: "header reduces attempts", priorRetries: 1, failures: 10, wantCalls: 2, wantErr: true},
		{name: "exhausted budget still tries once", priorRetries: 7, failures: 10, wantCalls: 1, wantErr: true},
		{name: "dead lettered", failures: 10, withDLQ: true, wantCalls: 3},
		{name: "dead letter failure", failures: 10, withDLQ: true, dlqFails: true, wantCalls: 3, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			handler := func(context.Context, *sarama.ConsumerMessage) error {
				calls++
				if calls <= tc.failures {
					return errors.New("temporary")
				}
				return nil
			}

			opts := []ConsumerOption{WithRetryDelay(0), WithConsumerLogger(quietLogger())}
			var syncProducer *mocks.SyncProducer
			if tc.withDLQ {
				syncProducer = mocks.NewSyncProducer(t, nil)
				if tc.dlqFails {
					syncProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
				} else {
					syncProducer.ExpectSendMessageAndSucceed()
				}
				opts = append(opts, WithDeadLetters(NewProducerFromSync(syncProducer), 3))
			}

			err := newConsumer(nil, nil, handler, opts...).process(context.Background(), catalogMessage(5, tc.priorRetries))
			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			if syncProducer != nil {
				require.NoError(t, syncProducer.Close())
			}
		})
	}
}

func TestProcess_StopsWaitingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := newConsumer(nil, nil, func(context.Context, *sarama.ConsumerMessage) error {
		calls++
		cancel()
		return errors.New("temporary")
	}, WithRetryDelay(time.Hour), WithConsumerLogger(quietLogger()))

	err := c.process(ctx, catalogMessage(1, 0))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestProcess_HandlerSeesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	msg := catalogMessage(1, 0)
	msg.Headers = append(msg.Headers, &sarama.RecordHeader{
		Key:   []byte("traceparent"),
		Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"),
	})

	var got trace.SpanContext
	c := newConsumer(nil, nil, func(ctx context.Context, _ *sarama.ConsumerMessage) error {
		got = trace.SpanContextFromContext(ctx)
		return nil
	})
	require.NoError(t, c.process(context.Background(), msg))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
	assert.True(t, got.IsRemote())
}

func TestSendToDLQ_CarriesRetryCount(t *testing.T) {
	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var letter DeadLetter
		if err := json.Unmarshal(raw, &letter); err != nil {
			return err
		}
		if letter.OriginalTopic != TopicCatalogUpdates || letter.OriginalOffset != 42 || letter.ErrorMessage != "boom" || letter.RetryCount != 4 {
			return errors.New("unexpected dead letter payload")
		}
		if msg.Topic != TopicDeadLetterQueue || headerCarrier(msg.Headers).Get(HeaderRetryCount) != "4" {
			return errors.New("unexpected dead letter headers")
		}
		return nil
	})

	c := newConsumer(nil, nil, nil, WithDeadLetters(NewProducerFromSync(syncProducer), 3))
	require.NoError(t, c.sendToDLQ(context.Background(), catalogMessage(42, 0), errors.New("boom"), 4))
	require.NoError(t, syncProducer.Close())
}

func TestRetryCountAndParsers(t *testing.T) {
	assert.Equal(t, 5, retryCount(catalogMessage(1, 5)))
	assert.Zero(t, retryCount(&sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{nil, {Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}))
	assert.Zero(t, retryCount(&sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("-2")}}}))

	event, err := ParseCatalogUpdateEvent(&sarama.ConsumerMessage{
		Value: []byte(`{"event_type":"catalog.product.upserted","product":{"id":3,"name":"Mug","price":"12.50","stock":4}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), event.Product.ID)
	assert.Equal(t, "12.5", event.Product.Price.String())

	_, err = ParseCatalogUpdateEvent(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
}
