package mockapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)


const (
	eventJoinChat = "joinChat"
	eventSendMessage = "sendMessage"
	eventMessageReceived = "messageReceived"
	eventUserJoined = "userJoined"
)

const chatWriteTimeout = 5 * time.Second

const chatSendBufferSize = 64


type chatEnvelope struct {
	Type string `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatMessage struct {
	Text string `json:"text"`
	Sender string `json:"sender"`
}

type joinChatPayload struct {
	Room string `json:"room"`
	UserId string `json:"userId"`
	FirstName string `json:"firstName"`
}

type sendMessagePayload struct {
	Room string `json:"room"`
	Message chatMessage `json:"message"`
}

type userJoinedPayload struct {
	FirstName string `json:"firstName"`
	UserId string `json:"userId,omitempty"`
}


var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize: 1024,
	WriteBufferSize: 1024,
}


type chatClient struct {
	ws *websocket.Conn
	userId string
	send chan []byte
	done chan struct{}
	closeOnce sync.Once
}

func (self *chatClient) close() {
	self.closeOnce.Do(func() {
		close(self.done)
		self.ws.Close()
	})
}

// drops the frame when the client is slow
func (self *chatClient) queue(frame []byte) {
	select {
	case <-self.done:
	case self.send <- frame:
	default:
		glog.Infof("[mockapi]chat drop frame for %s\n", self.userId)
	}
}


// rooms keyed by conversation id
type chatHub struct {
	stateLock sync.Mutex
	rooms map[string]map[*chatClient]bool
	clients map[*chatClient]bool
}

func newChatHub() *chatHub {
	return &chatHub{
		rooms: map[string]map[*chatClient]bool{},
		clients: map[*chatClient]bool{},
	}
}

func (self *chatHub) add(client *chatClient) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.clients[client] = true
}

func (self *chatHub) remove(client *chatClient) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.clients, client)
	for room, members := range self.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(self.rooms, room)
		}
	}
}

// returns the other members of the room
func (self *chatHub) join(room string, client *chatClient) []*chatClient {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	members, ok := self.rooms[room]
	if !ok {
		members = map[*chatClient]bool{}
		self.rooms[room] = members
	}
	others := []*chatClient{}
	for member := range members {
		if member != client {
			others = append(others, member)
		}
	}
	members[client] = true
	return others
}

func (self *chatHub) roomMembers(room string) []*chatClient {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	members := []*chatClient{}
	for member := range self.rooms[room] {
		members = append(members, member)
	}
	return members
}

func (self *chatHub) members(room string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.rooms[room])
}

func (self *chatHub) closeAll() {
	clients := []*chatClient{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		for client := range self.clients {
			clients = append(clients, client)
		}
	}()
	for _, client := range clients {
		client.close()
	}
}


func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&chatEnvelope{
		Type: eventType,
		Payload: payloadBytes,
	})
}


func (self *Server) chat(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Infof("[mockapi]chat upgrade error = %s\n", err)
		return
	}

	client := &chatClient{
		ws: ws,
		userId: sessionUserId(c),
		send: make(chan []byte, chatSendBufferSize),
		done: make(chan struct{}),
	}
	self.hub.add(client)
	defer func() {
		self.hub.remove(client)
		client.close()
	}()

	go func() {
		defer client.close()
		for {
			select {
			case <-client.done:
				return
			case frame := <-client.send:
				ws.SetWriteDeadline(time.Now().Add(chatWriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var envelope chatEnvelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			glog.Infof("[mockapi]chat bad frame = %s\n", err)
			continue
		}
		switch envelope.Type {
		case eventJoinChat:
			var join joinChatPayload
			if err := json.Unmarshal(envelope.Payload, &join); err != nil || join.Room == "" {
				continue
			}
			others := self.hub.join(join.Room, client)
			joinedFrame, err := encodeEnvelope(eventUserJoined, &userJoinedPayload{
				FirstName: join.FirstName,
				UserId: client.userId,
			})
			if err != nil {
				continue
			}
			for _, other := range others {
				other.queue(joinedFrame)
			}
		case eventSendMessage:
			var send sendMessagePayload
			if err := json.Unmarshal(envelope.Payload, &send); err != nil || send.Room == "" {
				continue
			}
			// relayed to the whole room, the sender included
			messageFrame, err := encodeEnvelope(eventMessageReceived, &send.Message)
			if err != nil {
				continue
			}
			for _, member := range self.hub.roomMembers(send.Room) {
				member.queue(messageFrame)
			}
		default:
			glog.V(2).Infof("[mockapi]chat unknown event %s\n", envelope.Type)
		}
	}
}
