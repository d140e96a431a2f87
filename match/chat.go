package match

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)


// events on the chat channel. Every frame is a json text frame `{type, payload}`
const (
	ChatEventJoinChat = "joinChat"
	ChatEventSendMessage = "sendMessage"
	ChatEventMessageReceived = "messageReceived"
	ChatEventUserJoined = "userJoined"
)

const ChatWelcomeText = "Welcome to the chat! How can I assist you today?"


type ChatEnvelope struct {
	Type string `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JoinChatPayload struct {
	// the conversation id
	Room Id `json:"room"`
	UserId Id `json:"userId"`
	FirstName string `json:"firstName"`
}

type SendMessagePayload struct {
	Room Id `json:"room"`
	Message ChatMessage `json:"message"`
}

type UserJoinedPayload struct {
	FirstName string `json:"firstName"`
	UserId Id `json:"userId,omitempty"`
}

func encodeChatEnvelope(eventType string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&ChatEnvelope{
		Type: eventType,
		Payload: payloadBytes,
	})
}


type ChatState int

const (
	ChatClosed ChatState = iota
	ChatJoining
	ChatJoined
)

func (self ChatState) String() string {
	switch self {
	case ChatClosed:
		return "closed"
	case ChatJoining:
		return "joining"
	case ChatJoined:
		return "joined"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}


type ChatRole string

const (
	ChatRoleSelf ChatRole = "self"
	ChatRoleSystem ChatRole = "system"
	ChatRoleOther ChatRole = "other"
)


type TranscriptEntry struct {
	Id LocalId
	Message ChatMessage
	ReceivedAt time.Time
	// appended on send, before the server relay. Only with `LocalEcho`
	Local bool
	// a local entry that the server relayed back
	Confirmed bool
}

func (self *TranscriptEntry) Role(me Id) ChatRole {
	if self.Message.IsSystem() {
		return ChatRoleSystem
	}
	if self.Message.Sender == string(me) {
		return ChatRoleSelf
	}
	return ChatRoleOther
}


type TranscriptChangeFunction func(transcript []*TranscriptEntry)

type ChatStateChangeFunction func(state ChatState)


type ChatSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout time.Duration
	// extended on every frame and pong
	ReadTimeout time.Duration
	PingTimeout time.Duration
	SendBufferSize int
	// append sent messages to the transcript immediately, then reconcile with the
	// server relay. Off by default: a sent message shows only once relayed
	LocalEcho bool
}

func DefaultChatSettings() *ChatSettings {
	return &ChatSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout: 60 * time.Second,
		PingTimeout: 15 * time.Second,
		SendBufferSize: 32,
		LocalEcho: false,
	}
}


// one realtime connection for one `(conversation, user)` pair.
// `Closed -> Joining -> Joined -> Closed`. The join frame is written before
// any message frame. The channel counts as joined right after the join is written;
// the server does not acknowledge joins. There is no reconnect: a dropped connection
// closes the channel and the owning mount opens a new one
type ChatChannel struct {
	ctx context.Context
	cancel context.CancelFunc

	chatUrl string
	jar http.CookieJar
	conversationId Id
	me *User
	settings *ChatSettings

	// note `send` is never closed
	send chan []byte
	done chan struct{}

	stateLock sync.Mutex
	state ChatState
	transcript []*TranscriptEntry
	err error

	monitor *Monitor
	transcriptCallbacks *CallbackList[TranscriptChangeFunction]
	stateCallbacks *CallbackList[ChatStateChangeFunction]
}

func NewChatChannelWithDefaults(
	ctx context.Context,
	chatUrl string,
	jar http.CookieJar,
	conversationId Id,
	me *User,
) *ChatChannel {
	return NewChatChannel(ctx, chatUrl, jar, conversationId, me, DefaultChatSettings())
}

func NewChatChannel(
	ctx context.Context,
	chatUrl string,
	jar http.CookieJar,
	conversationId Id,
	me *User,
	settings *ChatSettings,
) *ChatChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	channel := &ChatChannel{
		ctx: cancelCtx,
		cancel: cancel,
		chatUrl: chatUrl,
		jar: jar,
		conversationId: conversationId,
		me: me.Clone(),
		settings: settings,
		send: make(chan []byte, max(1, settings.SendBufferSize)),
		done: make(chan struct{}),
		state: ChatJoining,
		transcript: []*TranscriptEntry{
			&TranscriptEntry{
				Id: NewLocalId(),
				Message: ChatMessage{
					Text: ChatWelcomeText,
					Sender: SystemSender,
				},
				ReceivedAt: time.Now(),
			},
		},
		monitor: NewMonitor(),
		transcriptCallbacks: NewCallbackList[TranscriptChangeFunction](),
		stateCallbacks: NewCallbackList[ChatStateChangeFunction](),
	}
	go channel.run()
	return channel
}

func (self *ChatChannel) ConversationId() Id {
	return self.conversationId
}

func (self *ChatChannel) UserId() Id {
	return self.me.Id
}

func (self *ChatChannel) State() ChatState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// the error that closed the channel, if any
func (self *ChatChannel) Err() error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.err
}

func (self *ChatChannel) Transcript() []*TranscriptEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.transcript)
}

func (self *ChatChannel) AddTranscriptChangeCallback(transcriptCallback TranscriptChangeFunction) func() {
	callbackId := self.transcriptCallbacks.Add(transcriptCallback)
	return func() {
		self.transcriptCallbacks.Remove(callbackId)
	}
}

func (self *ChatChannel) AddStateChangeCallback(stateCallback ChatStateChangeFunction) func() {
	callbackId := self.stateCallbacks.Add(stateCallback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

// closed on the next transcript or state change
func (self *ChatChannel) NotifyChannel() chan struct{} {
	return self.monitor.NotifyChannel()
}

// closed when the connection is gone
func (self *ChatChannel) Done() <-chan struct{} {
	return self.done
}

// queues a message for the room. Messages queued while joining are written after the join.
// Whitespace only text is ignored with `ErrEmptyMessage`
func (self *ChatChannel) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if self.State() == ChatClosed {
		return ErrChannelClosed
	}

	message := ChatMessage{
		Text: text,
		Sender: string(self.me.Id),
	}
	frame, err := encodeChatEnvelope(ChatEventSendMessage, &SendMessagePayload{
		Room: self.conversationId,
		Message: message,
	})
	if err != nil {
		return err
	}

	var localEntry *TranscriptEntry
	if self.settings.LocalEcho {
		// before the frame is queued, so the relay always finds it
		localEntry = &TranscriptEntry{
			Id: NewLocalId(),
			Message: message,
			ReceivedAt: time.Now(),
			Local: true,
		}
		self.appendEntry(localEntry)
	}

	var sendErr error
	select {
	case <-self.ctx.Done():
		sendErr = ErrChannelClosed
	case self.send <- frame:
	case <-time.After(self.settings.WriteTimeout):
		sendErr = fmt.Errorf("Chat send timeout.")
	}
	if sendErr != nil && localEntry != nil {
		self.removeEntry(localEntry.Id)
	}
	return sendErr
}

// unconditional and immediate. Queued messages are dropped
func (self *ChatChannel) Close() {
	self.cancel()
}

func (self *ChatChannel) setState(state ChatState, err error) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.state == state {
			return
		}
		self.state = state
		if err != nil && self.err == nil {
			self.err = err
		}
		changed = true
	}()
	if changed {
		glog.V(LogLevelKey).Infof("[chat]%s %s\n", self.conversationId, state)
		for _, callback := range self.stateCallbacks.Get() {
			HandleError(func() {
				callback(state)
			})
		}
		self.monitor.NotifyAll()
	}
}

func (self *ChatChannel) appendEntry(entry *TranscriptEntry) {
	var transcript []*TranscriptEntry
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.transcript = append(slices.Clone(self.transcript), entry)
		transcript = slices.Clone(self.transcript)
	}()
	self.transcriptChanged(transcript)
}

func (self *ChatChannel) removeEntry(entryId LocalId) {
	var transcript []*TranscriptEntry
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.transcript = slices.DeleteFunc(slices.Clone(self.transcript), func(entry *TranscriptEntry) bool {
			return entry.Id == entryId
		})
		transcript = slices.Clone(self.transcript)
	}()
	self.transcriptChanged(transcript)
}

// a relayed message. With local echo, the oldest matching local entry is confirmed instead
func (self *ChatChannel) receiveMessage(message ChatMessage) {
	var transcript []*TranscriptEntry
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.settings.LocalEcho && message.Sender == string(self.me.Id) {
			i := slices.IndexFunc(self.transcript, func(entry *TranscriptEntry) bool {
				return entry.Local && !entry.Confirmed && entry.Message == message
			})
			if 0 <= i {
				confirmed := *self.transcript[i]
				confirmed.Confirmed = true
				self.transcript = slices.Clone(self.transcript)
				self.transcript[i] = &confirmed
				transcript = slices.Clone(self.transcript)
				return
			}
		}
		self.transcript = append(slices.Clone(self.transcript), &TranscriptEntry{
			Id: NewLocalId(),
			Message: message,
			ReceivedAt: time.Now(),
		})
		transcript = slices.Clone(self.transcript)
	}()
	self.transcriptChanged(transcript)
}

func (self *ChatChannel) transcriptChanged(transcript []*TranscriptEntry) {
	for _, callback := range self.transcriptCallbacks.Get() {
		HandleError(func() {
			callback(transcript)
		})
	}
	self.monitor.NotifyAll()
}

func (self *ChatChannel) run() {
	defer close(self.done)
	defer self.cancel()

	var runErr error
	defer func() {
		self.setState(ChatClosed, runErr)
	}()

	joinFrame, err := encodeChatEnvelope(ChatEventJoinChat, &JoinChatPayload{
		Room: self.conversationId,
		UserId: self.me.Id,
		FirstName: self.me.FirstName,
	})
	if err != nil {
		runErr = err
		return
	}

	connect := func() (*websocket.Conn, error) {
		dialer := &websocket.Dialer{
			Proxy: http.ProxyFromEnvironment,
			HandshakeTimeout: self.settings.HandshakeTimeout,
			// the session cookie authenticates the upgrade
			Jar: self.jar,
		}
		ws, _, err := dialer.DialContext(self.ctx, self.chatUrl, nil)
		if err != nil {
			return nil, err
		}

		success := false
		defer func() {
			if !success {
				ws.Close()
			}
		}()

		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, joinFrame); err != nil {
			return nil, err
		}

		success = true
		return ws, nil
	}

	var ws *websocket.Conn
	if glog.V(LogLevelFrequent) {
		ws, err = TraceWithReturnError(fmt.Sprintf("[chat]connect %s", self.conversationId), connect)
	} else {
		ws, err = connect()
	}
	if err != nil {
		if self.ctx.Err() == nil {
			glog.Infof("[chat]connect %s error = %s\n", self.conversationId, err)
			runErr = err
		}
		return
	}
	defer ws.Close()

	// joined once the join is written
	self.setState(ChatJoined, nil)

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frame := <-self.send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[chat]%s-> error = %s\n", self.conversationId, err)
					return
				}
				glog.V(LogLevelFrequent).Infof("[chat]%s->\n", self.conversationId)
			case <-time.After(self.settings.PingTimeout):
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer handleCancel()

		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			return nil
		})

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				if handleCtx.Err() == nil {
					glog.Infof("[chat]%s<- error = %s\n", self.conversationId, err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				glog.V(LogLevelFrequent).Infof("[chat]%s<-\n", self.conversationId)
				HandleError(func() {
					self.receive(message)
				})
			default:
				glog.V(LogLevelFrequent).Infof("[chat]other=%d %s<-\n", messageType, self.conversationId)
			}
		}
	}()

	select {
	case <-handleCtx.Done():
	}
	// unblock the read loop
	ws.Close()
}

func (self *ChatChannel) receive(frame []byte) {
	var envelope ChatEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		glog.Infof("[chat]%s bad frame = %s\n", self.conversationId, err)
		return
	}
	switch envelope.Type {
	case ChatEventMessageReceived:
		var message ChatMessage
		if err := json.Unmarshal(envelope.Payload, &message); err != nil {
			glog.Infof("[chat]%s bad message = %s\n", self.conversationId, err)
			return
		}
		self.receiveMessage(message)
	case ChatEventUserJoined:
		var userJoined UserJoinedPayload
		if err := json.Unmarshal(envelope.Payload, &userJoined); err != nil {
			glog.Infof("[chat]%s bad user joined = %s\n", self.conversationId, err)
			return
		}
		self.appendEntry(&TranscriptEntry{
			Id: NewLocalId(),
			Message: ChatMessage{
				Text: fmt.Sprintf("%s joined the chat.", userJoined.FirstName),
				Sender: SystemSender,
			},
			ReceivedAt: time.Now(),
		})
	default:
		glog.V(LogLevelFrequent).Infof("[chat]%s unknown event %s\n", self.conversationId, envelope.Type)
	}
}


type ChatChannelFactory func(conversationId Id, me *User) *ChatChannel


// the chat view lifetime. At most one channel is open, for the current pair.
// A change of pair closes the open channel and opens one for the new pair;
// with either half of the pair absent nothing is opened
type ChatMount struct {
	factory ChatChannelFactory

	stateLock sync.Mutex
	conversationId Id
	userId Id
	channel *ChatChannel
	closed bool
}

func NewChatMount(factory ChatChannelFactory) *ChatMount {
	return &ChatMount{
		factory: factory,
	}
}

// the open channel, or nil
func (self *ChatMount) Channel() *ChatChannel {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.channel
}

// returns the channel for the pair, or nil when deferred
func (self *ChatMount) Update(conversationId Id, me *User) *ChatChannel {
	var userId Id
	if me != nil {
		userId = me.Id
	}

	var closeChannel *ChatChannel
	defer func() {
		if closeChannel != nil {
			closeChannel.Close()
		}
	}()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return nil
	}
	if self.channel != nil && self.conversationId == conversationId && self.userId == userId {
		return self.channel
	}
	closeChannel = self.channel
	self.channel = nil
	self.conversationId = conversationId
	self.userId = userId
	if conversationId == "" || userId == "" {
		// wait for both
		return nil
	}
	self.channel = self.factory(conversationId, me)
	return self.channel
}

func (self *ChatMount) Close() {
	var closeChannel *ChatChannel
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.closed = true
		closeChannel = self.channel
		self.channel = nil
	}()
	if closeChannel != nil {
		closeChannel.Close()
	}
}


// `http(s)://host/path` to `ws(s)://host/path/chat`
func ChatUrlFromApiUrl(apiUrl string) (string, error) {
	u, err := url.Parse(apiUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("Unsupported api url scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/chat"
	return u.String(), nil
}
