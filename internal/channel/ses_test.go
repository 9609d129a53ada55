// internal/channel/ses_test.go
package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock SES Client
// ==========================

type mockSES struct {
	lastInput *ses.SendEmailInput
	err       error
}

func (m *mockSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{}, nil
}

// ==========================
// SES Channel Tests
// ==========================

func TestSESChannel_Send(t *testing.T) {
	mock := &mockSES{}
	ch := NewSESChannelWithClient(mock, "alerts@example.com")

	err := ch.Send(context.Background(), Message{
		Recipient:    "user@example.com",
		Subject:      "Disk almost full",
		TemplateName: "storage_critical",
		Context:      map[string]interface{}{"used_pct": 95, "host": "db-1"},
	})
	require.NoError(t, err)

	require.NotNil(t, mock.lastInput)
	assert.Equal(t, "alerts@example.com", *mock.lastInput.Source)
	assert.Equal(t, []string{"user@example.com"}, mock.lastInput.Destination.ToAddresses)
	assert.Equal(t, "Disk almost full", *mock.lastInput.Message.Subject.Data)

	body := *mock.lastInput.Message.Body.Text.Data
	assert.Contains(t, body, "storage_critical")
	assert.Contains(t, body, "host: db-1")
	assert.Contains(t, body, "used_pct: 95")
}

func TestSESChannel_SendError(t *testing.T) {
	mock := &mockSES{err: errors.New("throttled by SES")}
	ch := NewSESChannelWithClient(mock, "alerts@example.com")

	err := ch.Send(context.Background(), Message{Recipient: "user@example.com", Subject: "x"})
	assert.Error(t, err)
}

func TestSESChannel_CustomBodyFunc(t *testing.T) {
	mock := &mockSES{}
	ch := NewSESChannelWithClient(mock, "alerts@example.com")
	ch.SetBodyFunc(func(msg Message) string { return "rendered:" + msg.TemplateName })

	err := ch.Send(context.Background(), Message{Recipient: "u@example.com", Subject: "s", TemplateName: "digest"})
	require.NoError(t, err)
	assert.Equal(t, "rendered:digest", *mock.lastInput.Message.Body.Text.Data)
}
