package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-voice-backend/internal/app"
	"github.com/sirosfoundation/go-voice-backend/internal/call"
	"github.com/sirosfoundation/go-voice-backend/internal/callrecord"
	"github.com/sirosfoundation/go-voice-backend/internal/media"
	"github.com/sirosfoundation/go-voice-backend/internal/media/cache"
)

// Command is a message sent by the client
type Command struct {
	Command  string            `json:"command"`
	Reason   string            `json:"reason,omitempty"`
	Text     string            `json:"text,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
	Refresh  bool              `json:"refresh,omitempty"`
}

const (
	CommandInvite = "invite"
	CommandHangup = "hangup"
	CommandPing   = "ping"
	CommandTTS    = "tts"
)

// Event is a message sent to the client
type Event struct {
	Event     string `json:"event"`
	CallID    string `json:"call_id"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	Path      string `json:"path,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
}

const (
	EventAnswer = "answer"
	EventHangup = "hangup"
	EventPong   = "pong"
	EventTTS    = "tts_ready"
	EventError  = "error"
)

// Hangup reasons recorded on the call record
const (
	ReasonByCaller = "by_caller"
	ReasonKilled   = "killed"
	ReasonClosed   = "connection_closed"
)

const writeTimeout = 10 * time.Second

// dumpEntry is one line of the <id>.events.jsonl file
type dumpEntry struct {
	Timestamp int64           `json:"timestamp"`
	Direction string          `json:"direction"`
	Payload   json.RawMessage `json:"payload"`
}

// eventDump appends session traffic to a JSONL file. A nil dump discards.
type eventDump struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func openEventDump(path string) (*eventDump, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &eventDump{file: f, enc: json.NewEncoder(f)}, nil
}

func (d *eventDump) write(direction string, payload []byte) {
	if d == nil {
		return
	}
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.enc.Encode(dumpEntry{
		Timestamp: time.Now().UnixMilli(),
		Direction: direction,
		Payload:   json.RawMessage(payload),
	})
}

func (d *eventDump) close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.file.Close()
}

// session is one WebSocket call
type session struct {
	routes   *Routes
	conn     *websocket.Conn
	active   *call.ActiveCall
	dump     *eventDump
	logger   *zap.Logger
	recorder bool
}

// CallWebSocket upgrades the request and runs a call session until the client
// hangs up, the connection drops, the call is killed or the server stops.
//
// Query parameters: id (session id, generated when empty), caller, callee and
// recorder=true to attach <id>.wav to the call record. An id that is not 1-128
// characters of [A-Za-z0-9_-] is rejected with 400 before the upgrade.
func (r *Routes) CallWebSocket(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		id = uuid.New().String()
	}
	if !app.ValidSessionID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	recorder, _ := strconv.ParseBool(c.Query("recorder"))

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	active := call.NewActiveCall(c.Request.Context(), id, call.TypeWebSocket, c.Query("caller"), c.Query("callee"))
	s := &session{
		routes:   r,
		conn:     conn,
		active:   active,
		logger:   r.logger.With(zap.String("call_id", id)),
		recorder: recorder,
	}
	s.run()
}

func (s *session) run() {
	st := s.routes.state
	id := s.active.ID()

	// creates recorder_path on first use
	wavPath, err := st.RecorderFile(id)
	if err != nil {
		s.logger.Warn("No recorder file for session", zap.Error(err))
	}
	dumpPath, err := st.DumpEventsFile(id)
	if err == nil {
		s.dump, err = openEventDump(dumpPath)
	}
	if err != nil {
		s.logger.Warn("Failed to open event dump", zap.String("path", dumpPath), zap.Error(err))
		dumpPath = ""
	}
	defer s.dump.close()

	st.Calls().Add(s.active)
	st.Metrics().CallStarted(string(call.TypeWebSocket))
	s.logger.Info("Call started")

	reason := s.loop()

	s.active.Cancel()
	st.Calls().Remove(s.active)
	st.Metrics().CallEnded()
	s.logger.Info("Call ended", zap.String("reason", reason))

	s.emitRecord(reason, wavPath, dumpPath)
}

// loop reads commands until the call ends and returns the hangup reason
func (s *session) loop() string {
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := s.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-s.active.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-s.active.Done():
			s.send(Event{Event: EventHangup, Reason: ReasonKilled})
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ReasonKilled),
				time.Now().Add(writeTimeout))
			return ReasonKilled

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return ReasonClosed

		case msg := <-inbound:
			s.dump.write("in", msg)
			if reason, done := s.handle(msg); done {
				return reason
			}
		}
	}
}

func (s *session) handle(msg []byte) (string, bool) {
	var cmd Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		s.send(Event{Event: EventError, Error: "invalid command"})
		return "", false
	}

	switch cmd.Command {
	case CommandInvite:
		s.send(Event{Event: EventAnswer})
	case CommandPing:
		s.send(Event{Event: EventPong})
	case CommandTTS:
		s.synthesize(cmd)
	case CommandHangup:
		reason := cmd.Reason
		if reason == "" {
			reason = ReasonByCaller
		}
		s.send(Event{Event: EventHangup, Reason: reason})
		return reason, true
	default:
		s.send(Event{Event: EventError, Error: "unknown command: " + cmd.Command})
	}
	return "", false
}

// synthesize renders cmd.Text with the named TTS provider, serving repeated
// prompts from the media cache.
func (s *session) synthesize(cmd Command) {
	st := s.routes.state
	mc := st.MediaCache()
	key := cache.Key(cmd.Provider + "\x00" + cmd.Text)

	if cmd.Refresh {
		if err := mc.Delete(key); err != nil {
			s.logger.Warn("Failed to drop cached media", zap.String("key", key), zap.Error(err))
		}
	} else if mc.IsCached(key) {
		s.send(Event{Event: EventTTS, Path: mc.Path(key), Cached: true})
		return
	}

	p, err := st.StreamEngine().Create(media.KindTTS, cmd.Provider, cmd.Options)
	if err != nil {
		s.send(Event{Event: EventError, Error: err.Error()})
		return
	}
	defer func() { _ = p.Close() }()

	syn, ok := p.(media.Synthesizer)
	if !ok {
		s.send(Event{Event: EventError, Error: "provider " + p.Name() + " cannot synthesize"})
		return
	}

	data, err := syn.Synthesize(s.active.Context(), cmd.Text)
	if err != nil {
		s.logger.Warn("Synthesis failed", zap.String("provider", cmd.Provider), zap.Error(err))
		s.send(Event{Event: EventError, Error: "synthesis failed"})
		return
	}
	if err := mc.Store(key, data); err != nil {
		s.logger.Warn("Failed to cache media", zap.String("key", key), zap.Error(err))
		s.send(Event{Event: EventError, Error: "failed to cache media"})
		return
	}
	s.send(Event{Event: EventTTS, Path: mc.Path(key)})
}

func (s *session) send(ev Event) {
	ev.CallID = s.active.ID()
	ev.Timestamp = time.Now().UnixMilli()

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.dump.write("out", data)

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send event", zap.String("event", ev.Event), zap.Error(err))
	}
}

func (s *session) emitRecord(reason, wavPath, dumpPath string) {
	sender, ok := s.routes.state.CallRecordSender()
	if !ok {
		return
	}

	info := s.active.Info()
	rec := &callrecord.CallRecord{
		CallType:      string(info.CallType),
		CallID:        info.ID,
		Caller:        info.Caller,
		Callee:        info.Callee,
		StartTime:     info.CreatedAt,
		EndTime:       time.Now(),
		StatusCode:    200,
		HangupReason:  reason,
		DumpEventFile: dumpPath,
	}
	if s.recorder && wavPath != "" {
		if fi, err := os.Stat(wavPath); err == nil {
			rec.Recorder = []callrecord.Media{{
				TrackID:     "main",
				Path:        wavPath,
				Size:        fi.Size(),
				ContentType: "audio/wav",
			}}
		}
	}

	if err := sender.Send(rec); err != nil {
		level := zap.WarnLevel
		if errors.Is(err, callrecord.ErrSenderClosed) {
			level = zap.DebugLevel
		}
		s.logger.Log(level, "Failed to queue call record", zap.Error(err))
	}
}
