package firebase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnregistered = errors.New("registration-token-not-registered")

// MockSender implements multicastSender
type MockSender struct {
	SendFunc func(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	batches  [][]string
}

func (m *MockSender) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	m.batches = append(m.batches, msg.Tokens)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	resp := &messaging.BatchResponse{SuccessCount: len(msg.Tokens)}
	for range msg.Tokens {
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true})
	}
	return resp, nil
}

func testClient(sender multicastSender, deactivator TokenDeactivator) *Client {
	c := newClient(sender, deactivator)
	c.invalidToken = func(err error) bool { return errors.Is(err, errUnregistered) }
	return c
}

func TestSendMulticast_Batches(t *testing.T) {
	tokens := make([]string, 1203)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}
	sender := &MockSender{}

	require.NoError(t, testClient(sender, nil).SendMulticast(context.Background(), tokens, "t", "b", nil))
	require.Len(t, sender.batches, 3)
	assert.Len(t, sender.batches[0], 500)
	assert.Len(t, sender.batches[1], 500)
	assert.Len(t, sender.batches[2], 203)
}

func TestSendMulticast_NoTokens(t *testing.T) {
	sender := &MockSender{}
	require.NoError(t, testClient(sender, nil).SendMulticast(context.Background(), nil, "t", "b", nil))
	assert.Empty(t, sender.batches)
}

func TestSendMulticast_DeactivatesInvalidTokens(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			return &messaging.BatchResponse{
				SuccessCount: 1,
				FailureCount: 2,
				Responses: []*messaging.SendResponse{
					{Success: true},
					{Error: errUnregistered},
					{Error: errors.New("quota exceeded")},
				},
			}, nil
		},
	}

	var deactivated []string
	c := testClient(sender, func(ctx context.Context, token string) error {
		deactivated = append(deactivated, token)
		return nil
	})

	require.NoError(t, c.SendMulticast(context.Background(), []string{"a", "b", "c"}, "t", "b", nil))
	assert.Equal(t, []string{"b"}, deactivated)
}

func TestSendMulticast_TransportError(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
			return nil, errors.New("unavailable")
		},
	}
	err := testClient(sender, nil).SendMulticast(context.Background(), []string{"a"}, "t", "b", nil)
	assert.ErrorContains(t, err, "unavailable")
}

func TestSendMulticast_PlatformConfig(t *testing.T) {
	var got *messaging.MulticastMessage
	sender := &MockSender{SendFunc: func(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
		got = msg
		return &messaging.BatchResponse{SuccessCount: len(msg.Tokens)}, nil
	}}

	data := map[string]string{"route": "enrollment", "enrollment_id": "enr_9"}
	require.NoError(t, testClient(sender, nil).SendMulticast(context.Background(), []string{"tok"}, "Reconnect", "First Bank", data))
	require.NotNil(t, got)

	assert.Equal(t, "high", got.Android.Priority)
	assert.Equal(t, "bankfeed_enrollment", got.Android.Notification.ChannelID)
	assert.Equal(t, "enrollment:enr_9", got.Android.CollapseKey)
	assert.Equal(t, "enrollment", got.APNS.Payload.Aps.ThreadID)
}

func TestRouteOf(t *testing.T) {
	assert.Equal(t, "sync", routeOf(map[string]string{"route": "sync"}))
	assert.Equal(t, "general", routeOf(nil))
	assert.Empty(t, androidConfig(nil).CollapseKey)
}
