package match

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)


func transcriptTexts(channel *ChatChannel) []string {
	texts := []string{}
	for _, entry := range channel.Transcript() {
		texts = append(texts, entry.Message.Text)
	}
	return texts
}

func waitJoined(t *testing.T, channel *ChatChannel) {
	waitFor(t, func() bool {
		return channel.State() == ChatJoined
	})
}


func TestChatUserJoined(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)

	channel, err := remote.client.OpenChat(ctx, "C1")
	assert.Equal(t, err, nil)
	defer channel.Close()
	waitJoined(t, channel)
	waitFor(t, func() bool {
		return remote.server.RoomMembers("C1") == 1
	})

	entries := channel.Transcript()
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].Message.Text, ChatWelcomeText)
	assert.Equal(t, entries[0].Role(Id(me.Id)), ChatRoleSystem)

	// a second participant with its own session
	ann := remote.addUser(t, "Ann")
	other, err := NewClient(ctx, remote.httpServer.URL, nil, DefaultClientSettings())
	assert.Equal(t, err, nil)
	defer other.Close()
	_, err = other.Account().Login(ctx, &LoginArgs{
		EmailId: ann.EmailId,
		Password: "Secret@123",
	})
	assert.Equal(t, err, nil)
	annChannel, err := other.OpenChat(ctx, "C1")
	assert.Equal(t, err, nil)
	defer annChannel.Close()
	waitJoined(t, annChannel)

	waitFor(t, func() bool {
		return len(channel.Transcript()) == 2
	})
	entries = channel.Transcript()
	assert.Equal(t, entries[1].Message.Text, "Ann joined the chat.")
	assert.Equal(t, entries[1].Message.Sender, SystemSender)
	assert.Equal(t, entries[1].Role(Id(me.Id)), ChatRoleSystem)

	// the joiner sees only its own welcome
	assert.Equal(t, transcriptTexts(annChannel), []string{ChatWelcomeText})
}

func TestChatRelayWithoutLocalEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)

	channel, err := remote.client.OpenChat(ctx, "C1")
	assert.Equal(t, err, nil)
	defer channel.Close()

	// queued while joining, written after the join
	assert.Equal(t, channel.SendMessage("hello"), nil)
	assert.Equal(t, errors.Is(channel.SendMessage("   "), ErrEmptyMessage), true)

	waitFor(t, func() bool {
		return len(channel.Transcript()) == 2
	})
	entries := channel.Transcript()
	assert.Equal(t, entries[1].Message.Text, "hello")
	assert.Equal(t, entries[1].Message.Sender, me.Id)
	assert.Equal(t, entries[1].Local, false)
	assert.Equal(t, entries[1].Role(Id(me.Id)), ChatRoleSelf)
	assert.Equal(t, entries[1].Role("someone"), ChatRoleOther)
}

func TestChatLocalEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	user := remote.login(t, ctx, me)

	settings := DefaultChatSettings()
	settings.LocalEcho = true
	channel := NewChatChannel(ctx, remote.client.ChatUrl(), remote.client.Api().CookieJar(), "C2", user, settings)
	defer channel.Close()
	waitJoined(t, channel)

	assert.Equal(t, channel.SendMessage("hi"), nil)
	// visible before the relay
	entries := channel.Transcript()
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[1].Local, true)

	waitFor(t, func() bool {
		entries := channel.Transcript()
		return entries[len(entries) - 1].Confirmed
	})
	// the relay confirms instead of appending
	assert.Equal(t, transcriptTexts(channel), []string{ChatWelcomeText, "hi"})
}

func TestChatCloseDuringSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	remote.login(t, ctx, me)

	channel, err := remote.client.OpenChat(ctx, "C1")
	assert.Equal(t, err, nil)
	states := make(chan ChatState, 8)
	unsub := channel.AddStateChangeCallback(func(state ChatState) {
		select {
		case states <- state:
		default:
		}
	})
	defer unsub()

	sendErrs := make(chan error, 64)
	go func() {
		for i := 0; i < 64; i += 1 {
			sendErrs <- channel.SendMessage(strings.Repeat("x", i + 1))
		}
	}()
	channel.Close()
	channel.Close()

	select {
	case <-channel.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout.")
	}
	assert.Equal(t, channel.State(), ChatClosed)
	lastState := ChatJoining
	for 0 < len(states) {
		lastState = <-states
	}
	assert.Equal(t, lastState, ChatClosed)
	for i := 0; i < 64; i += 1 {
		err := <-sendErrs
		assert.Equal(t, err == nil || errors.Is(err, ErrChannelClosed), true)
	}
	assert.Equal(t, channel.SendMessage("late"), ErrChannelClosed)
}

func TestChatConnectError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)

	// no session cookie, the upgrade is refused
	channel := NewChatChannelWithDefaults(ctx, remote.client.ChatUrl(), remote.client.Api().CookieJar(), "C1", testUser("me"))
	select {
	case <-channel.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout.")
	}
	assert.Equal(t, channel.State(), ChatClosed)
	assert.NotEqual(t, channel.Err(), nil)
}

func TestChatMount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := newTestRemote(t, ctx)
	me := remote.addUser(t, "Me")
	user := remote.login(t, ctx, me)

	mount := NewMount(ctx)
	chatMount := remote.client.NewChatMount(mount)

	// deferred until both halves are known
	assert.Equal(t, chatMount.Update("", user) == nil, true)
	assert.Equal(t, chatMount.Update("C1", nil) == nil, true)

	first := chatMount.Update("C1", user)
	assert.NotEqual(t, first, nil)
	assert.Equal(t, chatMount.Update("C1", user), first)
	waitJoined(t, first)

	// a change of pair closes the open channel
	second := chatMount.Update("C2", user)
	assert.NotEqual(t, second, first)
	assert.Equal(t, second.ConversationId(), Id("C2"))
	<-first.Done()
	assert.Equal(t, first.State(), ChatClosed)

	mount.Close()
	<-second.Done()
	assert.Equal(t, second.State(), ChatClosed)
	assert.Equal(t, chatMount.Channel() == nil, true)
	assert.Equal(t, chatMount.Update("C3", user) == nil, true)
}

func TestChatUrlFromApiUrl(t *testing.T) {
	chatUrl, err := ChatUrlFromApiUrl("http://localhost:7777")
	assert.Equal(t, err, nil)
	assert.Equal(t, chatUrl, "ws://localhost:7777/chat")

	chatUrl, err = ChatUrlFromApiUrl("https://devmatch.example.com/api/")
	assert.Equal(t, err, nil)
	assert.Equal(t, chatUrl, "wss://devmatch.example.com/api/chat")

	_, err = ChatUrlFromApiUrl("ftp://devmatch.example.com")
	assert.NotEqual(t, err, nil)
}
