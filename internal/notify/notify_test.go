package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiora/chat-app/internal/logging"
)

type stubRequester struct {
	subject string
	sent    request
	reply   []byte
	err     error
}

func (s *stubRequester) Request(_ context.Context, subject string, data []byte) ([]byte, error) {
	s.subject = subject
	if err := json.Unmarshal(data, &s.sent); err != nil {
		return nil, err
	}
	return s.reply, s.err
}

func TestSendReturnsPerTokenResults(t *testing.T) {
	stub := &stubRequester{reply: []byte(`{"results":[{"token":"tok-aaaa-1111"},{"token":"tok-bbbb-2222","error":"unregistered"}]}`)}
	c := New(stub, Config{Subject: "push.send", Timeout: time.Second}, logging.Nop())

	results, err := c.Send(context.Background(), []Message{
		{Token: "tok-aaaa-1111", Title: "alice", Body: "hi", Data: map[string]string{"linkmanId": "g"}},
		{Token: "tok-bbbb-2222", Title: "alice", Body: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "push.send", stub.subject)
	require.Len(t, stub.sent.Messages, 2)
	assert.Equal(t, "g", stub.sent.Messages[0].Data["linkmanId"])

	require.Len(t, results, 2)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, "unregistered", results[1].Error)
}

func TestSendEmptyBatch(t *testing.T) {
	stub := &stubRequester{}
	c := New(stub, Config{Subject: "push.send"}, logging.Nop())

	results, err := c.Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Empty(t, stub.subject)
}

func TestSendProviderFailure(t *testing.T) {
	stub := &stubRequester{err: errors.New("no responders")}
	c := New(stub, Config{Subject: "push.send"}, logging.Nop())

	_, err := c.Send(context.Background(), []Message{{Token: "t"}})
	assert.Error(t, err)

	stub = &stubRequester{reply: []byte("garbage")}
	c = New(stub, Config{Subject: "push.send"}, logging.Nop())
	_, err = c.Send(context.Background(), []Message{{Token: "t"}})
	assert.Error(t, err)
}

func TestSendHonorsCancelledContext(t *testing.T) {
	stub := &stubRequester{reply: []byte(`{"results":[]}`)}
	c := New(stub, Config{Subject: "push.send", PerSecond: 0.001, Burst: 1}, logging.Nop())

	_, err := c.Send(context.Background(), []Message{{Token: "t"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Send(ctx, []Message{{Token: "t"}})
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "***", redact("short"))
	assert.Equal(t, "abcd...6789", redact("abcdefgh123456789"))
}
