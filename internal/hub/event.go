package hub

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evClientMessage
	evBroadcast
	evPlayerJoin
	evPlayerLeft
	evPlayersGet
	evPlayerOnline
	evRemoveByServer
	evStats
)

func (k eventKind) String() string {
	switch k {
	case evConnect:
		return "connect"
	case evDisconnect:
		return "disconnect"
	case evClientMessage:
		return "client_message"
	case evBroadcast:
		return "broadcast"
	case evPlayerJoin:
		return "player_join"
	case evPlayerLeft:
		return "player_left"
	case evPlayersGet:
		return "players_get"
	case evPlayerOnline:
		return "player_online"
	case evRemoveByServer:
		return "players_remove_by_server"
	case evStats:
		return "stats"
	default:
		return "unknown"
	}
}

// event is one mailbox entry. Only the fields relevant to kind are set.
// Reply channels have capacity 1 so the loop never blocks answering.
type event struct {
	kind   eventKind
	id     ConnID
	origin string
	text   string
	record PresenceRecord
	outbox *Outbox

	connReply  chan ConnID
	namesReply chan []string
	boolReply  chan bool
	statsReply chan Stats
}

// Stats is a point-in-time snapshot of hub state.
type Stats struct {
	Connections int `json:"connections"`
	Players     int `json:"players"`
}

// Delivery summarises one fan-out.
type Delivery struct {
	Attempted int
	Delivered int
	Failed    int
}
