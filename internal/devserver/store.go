// Package devserver is a self-contained stub backend for developing the
// terminal client against: in-memory rooms, scripted (or Ark-generated)
// push streams, review debates, and export jobs.
package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agora-chat/agora/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrGenerationNotFound   = errors.New("generation not found")
	ErrJobNotFound          = errors.New("export job not found")
)

// sseFrame is one event queued for a generation stream.
type sseFrame struct {
	Event string
	Data  map[string]any
}

// generation is the pending push stream behind one posted message. Either
// Frames carries a scripted sequence, or Prompt asks the Ark generator for
// a live one.
type generation struct {
	ConversationID string
	MessageID      string
	Frames         []sseFrame
	Prompt         string
	// Final is the assembled reply persisted once the stream completes.
	Final string
	// Review marks a debate stream; Report is published when it finishes.
	Review bool
	Report string
}

// reviewState tracks one review room's lifecycle. The report becomes
// fetchable only after ReadyAt, simulating write-propagation lag.
type reviewState struct {
	Status  string
	Topic   string
	Report  string
	ReadyAt time.Time
}

type exportJob struct {
	ConversationID string
	CreatedAt      time.Time
	FileURL        string
}

// Store holds all devserver state behind one lock.
type Store struct {
	mu            sync.RWMutex
	order         []string
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	generations   map[string]*generation
	reviews       map[string]*reviewState
	exports       map[string]*exportJob
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
		generations:   make(map[string]*generation),
		reviews:       make(map[string]*reviewState),
		exports:       make(map[string]*exportJob),
	}
}

// AddConversation registers a room, preserving insertion order for listing.
func (s *Store) AddConversation(conv chat.Conversation) chat.Conversation {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt == 0 {
		conv.CreatedAt = time.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; !ok {
		s.order = append(s.order, conv.ID)
	}
	s.conversations[conv.ID] = conv
	if _, ok := s.messages[conv.ID]; !ok {
		s.messages[conv.ID] = make([]chat.Message, 0, 16)
	}
	if conv.Kind == chat.KindReview {
		if _, ok := s.reviews[conv.ID]; !ok {
			s.reviews[conv.ID] = &reviewState{Status: "pending", Topic: conv.Topic}
		}
	}
	return conv
}

// Conversations lists rooms in insertion order.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id])
	}
	return out
}

// Conversation fetches one room.
func (s *Store) Conversation(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	return conv, ok
}

// SaveMessage appends a message to a room's persisted log.
func (s *Store) SaveMessage(msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().Unix()
	}
	if msg.Status == "" {
		msg.Status = chat.StatusComplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return chat.Message{}, ErrConversationNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

// Transcript returns a copy of one room's persisted log.
func (s *Store) Transcript(conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	messages := s.messages[conversationID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// PutGeneration queues the push stream for a posted message.
func (s *Store) PutGeneration(gen *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[gen.MessageID] = gen
}

// TakeGeneration claims a pending stream. A second subscriber to the same
// message finds nothing; streams are consumed once.
func (s *Store) TakeGeneration(messageID string) (*generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[messageID]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	delete(s.generations, messageID)
	return gen, nil
}

// Review returns one review room's lifecycle state.
func (s *Store) Review(conversationID string) (reviewState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.reviews[conversationID]
	if !ok {
		return reviewState{}, false
	}
	return *state, true
}

// CompleteReview marks a review done and schedules report availability.
func (s *Store) CompleteReview(conversationID, report string, readyAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.reviews[conversationID]
	if !ok {
		return
	}
	state.Status = "completed"
	state.Report = report
	state.ReadyAt = readyAt
}

// ReviewReport returns the report once its propagation delay has elapsed.
func (s *Store) ReviewReport(conversationID string, now time.Time) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.reviews[conversationID]
	if !ok || state.Status != "completed" || now.Before(state.ReadyAt) {
		return "", false
	}
	return state.Report, true
}

// CreateExportJob registers a job for a room's transcript.
func (s *Store) CreateExportJob(conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return "", ErrConversationNotFound
	}
	id := uuid.NewString()
	s.exports[id] = &exportJob{
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
		FileURL:        "/export/files/" + id + ".json",
	}
	return id, nil
}

// ExportJobStatus derives a job's phase from its age: queued, then
// processing, then done.
func (s *Store) ExportJobStatus(jobID string, now time.Time) (status, fileURL string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.exports[jobID]
	if !ok {
		return "", "", ErrJobNotFound
	}
	age := now.Sub(job.CreatedAt)
	switch {
	case age < time.Second:
		return "queued", "", nil
	case age < 3*time.Second:
		return "processing", "", nil
	default:
		return "done", job.FileURL, nil
	}
}
