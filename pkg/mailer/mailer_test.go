package mailer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/crescent-api/pkg/config"
)

func parentMessage() Message {
	return Message{
		To:       []mail.Address{{Name: "Pat Parent", Address: "pat@example.com"}},
		Subject:  "Link confirmed",
		TextBody: "Sam confirmed your link request.",
	}
}

func TestConsoleRecordsMessages(t *testing.T) {
	c := NewConsole(mail.Address{Address: "no-reply@crescent.local"}, "[Crescent] ", nil)

	require.NoError(t, c.Send(context.Background(), parentMessage()))
	sent := c.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "[Crescent] Link confirmed", sent[0].Subject)

	assert.ErrorIs(t, c.Send(context.Background(), Message{TextBody: "x"}), ErrNoRecipients)
}

func TestSendgridPostsMessage(t *testing.T) {
	var payload map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendgrid("SG.test", mail.Address{Name: "Crescent", Address: "no-reply@crescent.local"}, "[Crescent] ", nil).WithHost(srv.URL)
	require.NoError(t, sg.Send(context.Background(), parentMessage()))

	assert.Equal(t, "Bearer SG.test", auth)
	personalizations := payload["personalizations"].([]interface{})
	first := personalizations[0].(map[string]interface{})
	assert.Equal(t, "[Crescent] Link confirmed", first["subject"])
}

func TestSendgridErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sg := NewSendgrid("bad", mail.Address{Address: "no-reply@crescent.local"}, "", nil).WithHost(srv.URL)
	assert.Error(t, sg.Send(context.Background(), parentMessage()))
}

func TestNewSelectsProvider(t *testing.T) {
	m, err := New(config.MailConfig{Provider: config.MailConsole}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Console{}, m)

	m, err = New(config.MailConfig{Provider: config.MailSendgrid, SendgridAPIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Sendgrid{}, m)

	_, err = New(config.MailConfig{Provider: "smtp"}, nil)
	assert.Error(t, err)
}
