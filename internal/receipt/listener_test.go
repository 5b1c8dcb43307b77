package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/lifecycle"
	"github.com/helixir/records-service/internal/observability"
)

var _ Transitioner = (*lifecycle.Service)(nil)

// mockTransitioner implements Transitioner for testing.
type mockTransitioner struct {
	mock.Mock
}

func (m *mockTransitioner) Transition(ctx context.Context, in lifecycle.TransitionInput) (*domain.Document, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

// mockReader implements Reader for testing. Once its queue is drained it
// blocks until the context is cancelled.
type mockReader struct {
	mock.Mock
	queue chan kafka.Message
}

func newMockReader(msgs ...kafka.Message) *mockReader {
	r := &mockReader{queue: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *mockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := r.Called(ctx, msgs)
	return args.Error(0)
}

func (r *mockReader) Close() error {
	return r.Called().Error(0)
}

func encode(t *testing.T, m Message) kafka.Message {
	t.Helper()
	value, err := json.Marshal(m)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func testListener(reader Reader, tr Transitioner, metrics *observability.Metrics) *Listener {
	return NewListener(Config{Topic: "records.receipts", Actor: "mailroom", RetryBackoff: time.Millisecond},
		reader, tr, zerolog.Nop(), metrics)
}

func TestNewListener_Defaults(t *testing.T) {
	l := NewListener(Config{}, newMockReader(), &mockTransitioner{}, zerolog.Nop(), nil)
	assert.Equal(t, "receipt-listener", l.cfg.Actor)
	assert.Equal(t, 3, l.cfg.MaxRetries)
	assert.Equal(t, time.Second, l.cfg.RetryBackoff)
}

func TestListener_Decode(t *testing.T) {
	l := testListener(newMockReader(), &mockTransitioner{}, nil)
	id := uuid.New()

	t.Run("receipt", func(t *testing.T) {
		in, err := l.decode([]byte(`{"tenant_id":"tenant-1","document_id":"` + id.String() + `","kind":"receipt"}`))
		require.NoError(t, err)
		assert.Equal(t, lifecycle.TransitionInput{
			TenantID: "tenant-1",
			ID:       id,
			Name:     lifecycle.TransitionReceipt,
			Actor:    "mailroom",
		}, in)
	})

	t.Run("acknowledged", func(t *testing.T) {
		in, err := l.decode([]byte(`{"tenant_id":"tenant-1","document_id":"` + id.String() + `","kind":"acknowledged"}`))
		require.NoError(t, err)
		assert.Equal(t, lifecycle.TransitionAcknowledge, in.Name)
	})

	tests := []struct {
		name  string
		value string
	}{
		{"not json", `{broken`},
		{"missing tenant", `{"document_id":"` + id.String() + `","kind":"receipt"}`},
		{"bad document id", `{"tenant_id":"tenant-1","document_id":"abc","kind":"receipt"}`},
		{"unknown kind", `{"tenant_id":"tenant-1","document_id":"` + id.String() + `","kind":"read"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.decode([]byte(tt.value))
			assert.Error(t, err)
		})
	}
}

func TestListener_Process(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	msg := encode(t, Message{TenantID: "tenant-1", DocumentID: id.String(), Kind: KindReceipt})
	want := lifecycle.TransitionInput{TenantID: "tenant-1", ID: id, Name: lifecycle.TransitionReceipt, Actor: "mailroom"}

	t.Run("applied", func(t *testing.T) {
		tr := &mockTransitioner{}
		tr.On("Transition", mock.Anything, want).Return(&domain.Document{ID: id}, nil).Once()

		assert.Equal(t, resultApplied, testListener(newMockReader(), tr, nil).process(ctx, msg))
		tr.AssertExpectations(t)
	})

	t.Run("unreleased document is rejected without retry", func(t *testing.T) {
		tr := &mockTransitioner{}
		tr.On("Transition", mock.Anything, want).
			Return(nil, domain.NewInvalidTransitionError("receipt", "document has not been released")).Once()

		assert.Equal(t, resultRejected, testListener(newMockReader(), tr, nil).process(ctx, msg))
		tr.AssertNumberOfCalls(t, "Transition", 1)
	})

	t.Run("missing document is rejected", func(t *testing.T) {
		tr := &mockTransitioner{}
		tr.On("Transition", mock.Anything, want).Return(nil, domain.ErrNotFound).Once()

		assert.Equal(t, resultRejected, testListener(newMockReader(), tr, nil).process(ctx, msg))
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		tr := &mockTransitioner{}
		tr.On("Transition", mock.Anything, want).Return(nil, errors.New("connection reset")).Once()
		tr.On("Transition", mock.Anything, want).Return(&domain.Document{ID: id}, nil).Once()

		assert.Equal(t, resultApplied, testListener(newMockReader(), tr, nil).process(ctx, msg))
		tr.AssertNumberOfCalls(t, "Transition", 2)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		tr := &mockTransitioner{}
		tr.On("Transition", mock.Anything, want).Return(nil, errors.New("connection reset"))

		assert.Equal(t, resultFailed, testListener(newMockReader(), tr, nil).process(ctx, msg))
		tr.AssertNumberOfCalls(t, "Transition", 3)
	})

	t.Run("malformed message", func(t *testing.T) {
		tr := &mockTransitioner{}
		assert.Equal(t, resultMalformed, testListener(newMockReader(), tr, nil).process(ctx, kafka.Message{Value: []byte("{broken")}))
		tr.AssertNotCalled(t, "Transition", mock.Anything, mock.Anything)
	})
}

func TestListener_RunCommitsAndStops(t *testing.T) {
	id := uuid.New()
	good := encode(t, Message{TenantID: "tenant-1", DocumentID: id.String(), Kind: KindAcknowledged})
	bad := kafka.Message{Value: []byte("{broken"), Offset: 7}

	tr := &mockTransitioner{}
	tr.On("Transition", mock.Anything, mock.Anything).Return(&domain.Document{ID: id}, nil)

	reader := newMockReader(good, bad)
	committed := make(chan struct{}, 2)
	reader.On("CommitMessages", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { committed <- struct{}{} }).
		Return(nil)

	metrics := observability.NewMetrics("receipt_run_test")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- testListener(reader, tr, metrics).Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-committed:
		case <-time.After(time.Second):
			t.Fatal("message was not committed")
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReceiptsProcessed.WithLabelValues(resultApplied)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReceiptsProcessed.WithLabelValues(resultMalformed)))
	reader.AssertNumberOfCalls(t, "CommitMessages", 2)
}

func TestListener_RunSurvivesCommitErrors(t *testing.T) {
	reader := newMockReader(kafka.Message{Value: []byte("{broken")})
	committed := make(chan struct{}, 1)
	reader.On("CommitMessages", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { committed <- struct{}{} }).
		Return(io.ErrUnexpectedEOF)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- testListener(reader, &mockTransitioner{}, nil).Run(ctx) }()

	<-committed
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestListener_Close(t *testing.T) {
	reader := newMockReader()
	reader.On("Close").Return(nil)
	require.NoError(t, testListener(reader, &mockTransitioner{}, nil).Close())
	reader.AssertExpectations(t)
}
