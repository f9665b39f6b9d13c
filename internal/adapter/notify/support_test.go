package notify

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerChat = 42

func textMessage(id int, chat int64, text string, from *tgbotapi.User) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: id,
		Chat:      &tgbotapi.Chat{ID: chat, Type: "private"},
		From:      from,
		Text:      text,
	}}
}

func ownerReply(text string, to int) tgbotapi.Update {
	u := textMessage(500, ownerChat, text, nil)
	u.Message.ReplyToMessage = &tgbotapi.Message{MessageID: to}
	return u
}

func TestSupportRelay_ForwardsAndRoutesReplies(t *testing.T) {
	api := &fakeBotAPI{}
	relay := NewSupportRelay(newTestTelegram(t, api), ownerChat, quietLogger())

	require.NoError(t, relay.Handle(textMessage(1, 100, "Where is my sword?", &tgbotapi.User{UserName: "steve"})))
	require.NoError(t, relay.Handle(textMessage(1, 200, "hi", &tgbotapi.User{FirstName: "Alex"})))

	// The fake API numbers sent messages 1, 2, ... so forward #1 belongs to chat 100.
	require.NoError(t, relay.Handle(ownerReply("On its way", 1)))
	require.NoError(t, relay.Handle(ownerReply("Hello Alex", 999)))
	require.NoError(t, relay.Handle(textMessage(501, ownerChat, "note to self", nil)))

	assert.Equal(t, []string{
		"42|From @steve:\nWhere is my sword?",
		"42|From Alex:\nhi",
		"100|On its way",
		"200|Hello Alex",
	}, api.messages())
}

func TestSupportRelay_IgnoresOwnerReplyWithoutCustomer(t *testing.T) {
	api := &fakeBotAPI{}
	relay := NewSupportRelay(newTestTelegram(t, api), ownerChat, quietLogger())

	require.NoError(t, relay.Handle(ownerReply("anyone there?", 3)))
	require.NoError(t, relay.Handle(tgbotapi.Update{}))
	assert.Empty(t, api.messages())
}

func TestSupportRelay_ForwardFailure(t *testing.T) {
	api := &fakeBotAPI{}
	relay := NewSupportRelay(newTestTelegram(t, api), ownerChat, quietLogger())
	api.mu.Lock()
	api.fail = true
	api.mu.Unlock()

	err := relay.Handle(textMessage(1, 100, "hello", nil))
	assert.ErrorContains(t, err, "chat not found")
}

func TestSupportRelay_Run(t *testing.T) {
	api := &fakeBotAPI{updates: []string{
		`{"update_id":1,"message":{"message_id":7,"date":0,"chat":{"id":100,"type":"private"},` +
			`"from":{"id":100,"is_bot":false,"first_name":"Steve","username":"steve"},"text":"hello"}}`,
	}}
	relay := NewSupportRelay(newTestTelegram(t, api), ownerChat, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(api.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "42|From @steve:\nhello", api.messages()[0])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
