package state

import (
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Action names the kind of mutation that produced a Change.
type Action string

// Mutation kinds.
const (
	ActionPatch Action = "patch"
	ActionReset Action = "reset"
	ActionLink  Action = "link"
)

// Change describes one committed mutation.
type Change struct {
	Seq    uint64   `json:"seq"`
	Action Action   `json:"action"`
	Fields []string `json:"fields"`
	By     string   `json:"by,omitempty"`
	Record Record   `json:"state"`
}

// Observer is notified after each committed change. Observers are called
// one at a time in commit order and must not block.
type Observer func(Change)

// Options configures a Store.
type Options struct {
	// Voice is the voice identity restored by Reset and used as the
	// sanitizer fallback.
	Voice Voice

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Store holds the single shared Record.
//
// Every mutation merges into a copy and swaps it in under the write lock,
// so readers never observe a partially applied patch.
//
// All public methods are thread-safe.
type Store struct {
	mu     sync.RWMutex // protects rec and seq
	rec    Record
	seq    uint64
	engine *Engine
	voice  VoiceSanitizer
	def    Voice
	now    func() time.Time

	clients *ClientRegistry

	// notifyMu is taken before mu is released so observers see commits in order.
	notifyMu  sync.Mutex
	obsMu     sync.RWMutex
	observers map[uint64]Observer
	nextObs   uint64

	logger Logger
}

// NewStore creates a store initialised to the default record.
func NewStore(opts Options) *Store {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	voice := NewVoiceSanitizer(opts.Voice.ID)
	s := &Store{
		engine:    NewEngine(voice),
		voice:     voice,
		def:       opts.Voice,
		now:       now,
		clients:   NewClientRegistry(),
		observers: make(map[uint64]Observer),
		logger:    noopLogger{},
	}

	s.rec = DefaultRecord(opts.Voice)
	s.rec.VoiceID = voice.Sanitize(s.rec.VoiceID)
	s.rec.UpdatedAt = NewTimestamp(now())
	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Engine returns the patch engine the store applies patches with.
func (s *Store) Engine() *Engine {
	return s.engine
}

// Clients returns the client registry.
func (s *Store) Clients() *ClientRegistry {
	return s.clients
}

// Get returns the current record. The voice ID is re-sanitized on the way out.
func (s *Store) Get() Record {
	s.mu.RLock()
	rec := s.rec
	s.mu.RUnlock()

	rec.VoiceID = s.voice.Sanitize(rec.VoiceID)
	return rec
}

// Seq returns the sequence number of the last committed change.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Apply validates p and merges it into the record. Either every recognised
// field of p is committed or none is. On success updated_at is stamped and,
// if requester is non-empty, last_by is set to it.
func (s *Store) Apply(p Patch, requester string) (Record, error) {
	requester = strings.TrimSpace(requester)
	return s.commit(ActionPatch, requester, func(next *Record) ([]string, error) {
		fields, err := s.engine.Merge(next, p)
		if err != nil {
			return nil, err
		}
		if requester != "" {
			next.LastBy = requester
		}
		return fields, nil
	})
}

// Reset restores every field to its default, clears last_by and stamps
// updated_at.
func (s *Store) Reset() Record {
	return s.ResetBy("")
}

// ResetBy is Reset with the requester recorded on the emitted Change.
// last_by is cleared either way.
func (s *Store) ResetBy(requester string) Record {
	requester = strings.TrimSpace(requester)
	rec, _ := s.commit(ActionReset, requester, func(next *Record) ([]string, error) { //nolint:errcheck // reset cannot fail
		*next = DefaultRecord(s.def)
		next.LastBy = ""
		return resetFields(), nil
	})
	return rec
}

// Link registers a client and optionally sets the user name. A non-empty
// client ID is added to the registry and recorded as last_by. updated_at is
// stamped even when both arguments are blank. It returns the new record
// and the sorted registry.
func (s *Store) Link(clientID, userName string) (Record, []string) {
	clientID = strings.TrimSpace(clientID)
	userName = strings.TrimSpace(userName)

	rec, _ := s.commit(ActionLink, clientID, func(next *Record) ([]string, error) { //nolint:errcheck // link cannot fail
		var fields []string
		if clientID != "" {
			if s.clients.Add(clientID, s.now()) {
				s.logger.Info("client linked", "client", clientID)
			}
			next.LastBy = clientID
			fields = append(fields, FieldLastBy)
		}
		if userName != "" {
			next.UserName = userName
			fields = append(fields, FieldUserName)
		}
		return fields, nil
	})
	return rec, s.clients.List()
}

// Subscribe registers an observer. The returned function removes it.
func (s *Store) Subscribe(obs Observer) (cancel func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// commit runs mutate against a copy of the record and swaps it in.
func (s *Store) commit(action Action, by string, mutate func(next *Record) ([]string, error)) (Record, error) {
	s.mu.Lock()
	next := s.rec
	fields, err := mutate(&next)
	if err != nil {
		s.mu.Unlock()
		return Record{}, err
	}

	next.VoiceID = s.voice.Sanitize(next.VoiceID)
	next.UpdatedAt = s.stampLocked()
	s.rec = next
	s.seq++

	change := Change{
		Seq:    s.seq,
		Action: action,
		Fields: fields,
		By:     by,
		Record: next,
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.notify(change)
	s.notifyMu.Unlock()

	s.logger.Debug("state changed",
		"seq", change.Seq,
		"action", change.Action,
		"fields", change.Fields,
		"by", change.By,
	)
	return next, nil
}

// stampLocked returns the current time, never earlier than the last stamp.
// Caller must hold mu.
func (s *Store) stampLocked() Timestamp {
	now := s.now()
	if now.Before(s.rec.UpdatedAt.Time) {
		now = s.rec.UpdatedAt.Time
	}
	return NewTimestamp(now)
}

// notify calls every observer. Caller must hold notifyMu.
func (s *Store) notify(change Change) {
	s.obsMu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.obsMu.RUnlock()

	for _, obs := range observers {
		s.safeNotify(obs, change)
	}
}

// safeNotify isolates the store from a panicking observer.
func (s *Store) safeNotify(obs Observer, change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state observer panic recovered",
				"seq", change.Seq,
				"panic", r,
			)
		}
	}()
	obs(change)
}

// resetFields lists every writable field, the set a reset touches.
func resetFields() []string {
	fields := make([]string, 0, len(fieldRules)+1)
	for i := range fieldRules {
		fields = append(fields, fieldRules[i].name)
	}
	return append(fields, FieldLastBy)
}
