package analysis

import "sync"

// Token is the cancellation signal of exactly one task. Once tripped it stays
// tripped.
type Token struct {
	id   uint64
	done chan struct{}
	once sync.Once
}

func newToken(id uint64) *Token {
	return &Token{id: id, done: make(chan struct{})}
}

func (t *Token) ID() uint64 { return t.id }

func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) Trip() {
	t.once.Do(func() { close(t.done) })
}

func (t *Token) Tripped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// TaskSlot holds the single current task. Submitting replaces it and trips
// the previous token; tasks submitted between two reads are dropped.
type TaskSlot struct {
	mu    sync.Mutex
	seq   uint64
	task  Task
	has   bool
	token *Token
	wake  chan struct{}
}

func NewTaskSlot() *TaskSlot {
	t := newToken(0)
	t.Trip()
	return &TaskSlot{token: t, wake: make(chan struct{}, 1)}
}

func (s *TaskSlot) Submit(prior, resulting Position, move string) uint64 {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.task = Task{ID: id, Prior: prior, Resulting: resulting, Move: move}
	s.has = true
	s.token.Trip()
	s.token = newToken(id)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return id
}

// Current returns the latest task and its token. ok is false until the first
// Submit.
func (s *TaskSlot) Current() (Task, *Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task, s.token, s.has
}

// CancelCurrent trips the current token without installing a new task.
func (s *TaskSlot) CancelCurrent() {
	s.mu.Lock()
	s.token.Trip()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wake fires after Submit or CancelCurrent. It is coalesced to one pending signal.
func (s *TaskSlot) Wake() <-chan struct{} { return s.wake }
