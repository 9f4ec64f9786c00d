package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// MockClient is a testify mock of Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// fastSettings trips after three consecutive failures and half-opens after wait.
func fastSettings(wait time.Duration) gobreaker.Settings {
	s := BreakerSettings("test", observability.NopLogger())
	s.Timeout = wait
	s.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return s
}

func TestBreakerSettings_ReadyToTrip(t *testing.T) {
	trip := BreakerSettings("claude", nil).ReadyToTrip

	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"too few requests", gobreaker.Counts{Requests: 2, TotalFailures: 2, ConsecutiveFailures: 2}, false},
		{"healthy", gobreaker.Counts{Requests: 10, TotalFailures: 1, ConsecutiveFailures: 1}, false},
		{"failure ratio", gobreaker.Counts{Requests: 5, TotalFailures: 3, ConsecutiveFailures: 1}, true},
		{"consecutive failures", gobreaker.Counts{Requests: 20, TotalFailures: 5, ConsecutiveFailures: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trip(tt.counts))
		})
	}
}

func TestCircuitBreakerClient_Passthrough(t *testing.T) {
	client := new(MockClient)
	client.On("Complete", mock.Anything, "prompt").Return("SELECT 1", nil).Times(4)
	client.On("Complete", mock.Anything, "bad").Return("", errors.New("HTTP 400")).Once()

	cb := NewCircuitBreakerClient(client, BreakerSettings("claude", nil))

	for i := 0; i < 4; i++ {
		out, err := cb.Complete(context.Background(), "prompt")
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", out)
	}

	_, err := cb.Complete(context.Background(), "bad")
	assert.EqualError(t, err, "HTTP 400")
	assert.NotErrorIs(t, err, ErrUnavailable)

	counts := cb.Counts()
	assert.Equal(t, uint32(5), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.NoError(t, cb.Ping(context.Background()))
	client.AssertExpectations(t)
}

func TestCircuitBreakerClient_OpenAndRecover(t *testing.T) {
	client := new(MockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("HTTP 529")).Times(3)
	client.On("Complete", mock.Anything, mock.Anything).Return("SELECT 1", nil).Once()

	cb := NewCircuitBreakerClient(client, fastSettings(50*time.Millisecond))

	for i := 0; i < 3; i++ {
		_, err := cb.Complete(context.Background(), "prompt")
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, cb.Ping(context.Background()), ErrUnavailable)
	client.AssertNumberOfCalls(t, "Complete", 3)

	time.Sleep(100 * time.Millisecond)

	out, err := cb.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerClient_CancellationDoesNotTrip(t *testing.T) {
	client := new(MockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return("", context.Canceled)

	cb := NewCircuitBreakerClient(client, fastSettings(time.Minute))

	for i := 0; i < 5; i++ {
		_, err := cb.Complete(context.Background(), "prompt")
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Zero(t, cb.Counts().TotalFailures)
	client.AssertNumberOfCalls(t, "Complete", 5)
}
