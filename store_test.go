package majordomo

import (
	"context"
	"fmt"
	"sync"
)

// memState is an in-memory StateStore for tests in this package, which
// cannot import store/sqlite without a cycle.
type memState struct {
	mu       sync.Mutex
	actions  map[string]PendingAction
	aOrder   []string
	outcomes map[string]Outcome
	oOrder   []string
	plans    []Plan
	alerts   map[string]Alert
	alOrder  []string
}

func newMemState() *memState {
	return &memState{
		actions:  make(map[string]PendingAction),
		outcomes: make(map[string]Outcome),
		alerts:   make(map[string]Alert),
	}
}

func (s *memState) Init(context.Context) error { return nil }

func (s *memState) InsertPendingAction(_ context.Context, a PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = a
	s.aOrder = append(s.aOrder, a.ID)
	return nil
}

func (s *memState) PendingByUser(_ context.Context, userID string) (PendingAction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.aOrder) - 1; i >= 0; i-- {
		a := s.actions[s.aOrder[i]]
		if a.UserID == userID && a.State == ActionPending {
			return a, true, nil
		}
	}
	return PendingAction{}, false, nil
}

func (s *memState) GetAction(_ context.Context, id string) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return PendingAction{}, fmt.Errorf("action %s not found", id)
	}
	return a, nil
}

func (s *memState) TransitionAction(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.State != from {
		return false, nil
	}
	a.State = to
	s.actions[id] = a
	return true, nil
}

func (s *memState) ExpirePending(_ context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.actions {
		if a.State == ActionPending && a.ExpiresAt <= cutoff {
			a.State = ActionExpired
			s.actions[id] = a
			n++
		}
	}
	return n, nil
}

func (s *memState) LastCompleted(_ context.Context, userID string, since int64) (PendingAction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.aOrder) - 1; i >= 0; i-- {
		a := s.actions[s.aOrder[i]]
		if a.UserID == userID && a.State == ActionComplete && a.ProposedAt >= since {
			return a, true, nil
		}
	}
	return PendingAction{}, false, nil
}

func (s *memState) CreateOutcome(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.ActionID] = o
	s.oOrder = append(s.oOrder, o.ActionID)
	return nil
}

func (s *memState) GetOutcome(_ context.Context, actionID string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[actionID]
	if !ok {
		return Outcome{}, fmt.Errorf("outcome %s not found", actionID)
	}
	return o, nil
}

func (s *memState) UpdateOutcome(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outcomes[o.ActionID]; !ok {
		return fmt.Errorf("outcome %s not found", o.ActionID)
	}
	s.outcomes[o.ActionID] = o
	return nil
}

func (s *memState) RecentOutcomes(_ context.Context, userID string, n int) ([]Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outcome
	for i := len(s.oOrder) - 1; i >= 0 && len(out) < n; i-- {
		o := s.outcomes[s.oOrder[i]]
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memState) CreatePlan(_ context.Context, p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, p)
	return nil
}

func (s *memState) UpdatePlan(_ context.Context, p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.plans {
		if s.plans[i].ID == p.ID {
			s.plans[i] = p
			return nil
		}
	}
	return fmt.Errorf("plan %s not found", p.ID)
}

func (s *memState) RecentPlans(_ context.Context, userID string, n int) ([]Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Plan
	for i := len(s.plans) - 1; i >= 0 && len(out) < n; i-- {
		if s.plans[i].UserID == userID {
			out = append(out, s.plans[i])
		}
	}
	return out, nil
}

func (s *memState) CreateAlert(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = a
	s.alOrder = append(s.alOrder, a.ID)
	return nil
}

func (s *memState) GetAlert(_ context.Context, id string) (Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return Alert{}, fmt.Errorf("alert %s not found", id)
	}
	return a, nil
}

func (s *memState) AlertByKey(_ context.Context, key string, since int64) (Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.alOrder) - 1; i >= 0; i-- {
		a := s.alerts[s.alOrder[i]]
		if a.Key == key && a.CreatedAt >= since {
			return a, true, nil
		}
	}
	return Alert{}, false, nil
}

func (s *memState) UpdateAlert(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return fmt.Errorf("alert %s not found", a.ID)
	}
	s.alerts[a.ID] = a
	return nil
}

func (s *memState) DueAlerts(_ context.Context, now int64) ([]Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Alert
	for _, id := range s.alOrder {
		a := s.alerts[id]
		if a.AcknowledgedAt == 0 && a.NextEscalateAt > 0 && a.NextEscalateAt <= now {
			out = append(out, a)
		}
	}
	return out, nil
}

var _ StateStore = (*memState)(nil)

// memMemory is the MemoryStore counterpart.
type memMemory struct {
	mu            sync.Mutex
	conversations []ConversationEntry
	facts         map[string]UserFact
	fOrder        []string
	tasks         map[string]Task
	tOrder        []string
	jobs          map[string]ScheduledJob
	jOrder        []string
	bindings      map[string]ChatBinding
	config        map[string]string
}

func newMemMemory() *memMemory {
	return &memMemory{
		facts:    make(map[string]UserFact),
		tasks:    make(map[string]Task),
		jobs:     make(map[string]ScheduledJob),
		bindings: make(map[string]ChatBinding),
		config:   make(map[string]string),
	}
}

func (m *memMemory) Init(context.Context) error { return nil }

func (m *memMemory) AppendConversation(_ context.Context, e ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = append(m.conversations, e)
	return nil
}

func (m *memMemory) RecentConversation(_ context.Context, chatID string, n int) ([]ConversationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var match []ConversationEntry
	for _, e := range m.conversations {
		if e.ChatID == chatID {
			match = append(match, e)
		}
	}
	if len(match) > n {
		match = match[len(match)-n:]
	}
	return match, nil
}

func (m *memMemory) SetFact(_ context.Context, f UserFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := f.UserID + "\x00" + f.Key
	if _, ok := m.facts[key]; !ok {
		m.fOrder = append(m.fOrder, key)
	}
	m.facts[key] = f
	return nil
}

func (m *memMemory) ListFacts(_ context.Context, userID string, n int) ([]UserFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserFact
	for _, k := range m.fOrder {
		f := m.facts[k]
		if f.UserID == userID {
			out = append(out, f)
		}
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (m *memMemory) CreateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	m.tOrder = append(m.tOrder, t.ID)
	return nil
}

func (m *memMemory) UpdateTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *memMemory) GetTask(_ context.Context, id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s not found", id)
	}
	return t, nil
}

func (m *memMemory) ListTasks(_ context.Context, userID, status string) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, id := range m.tOrder {
		t := m.tasks[id]
		if t.UserID == userID && (status == "" || t.Status == status) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memMemory) UpsertJob(_ context.Context, j ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.Name]; !ok {
		m.jOrder = append(m.jOrder, j.Name)
	}
	m.jobs[j.Name] = j
	return nil
}

func (m *memMemory) ListJobs(context.Context) ([]ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScheduledJob, 0, len(m.jOrder))
	for _, name := range m.jOrder {
		out = append(out, m.jobs[name])
	}
	return out, nil
}

func (m *memMemory) MarkJobRun(_ context.Context, name string, lastRun, nextRun int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	j.LastRun = lastRun
	j.NextRun = nextRun
	m.jobs[name] = j
	return nil
}

func (m *memMemory) SetJobEnabled(_ context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	j.Enabled = enabled
	m.jobs[name] = j
	return nil
}

func (m *memMemory) SaveBinding(_ context.Context, b ChatBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[b.Platform+"\x00"+b.ChatID] = b
	return nil
}

func (m *memMemory) ListBindings(context.Context) ([]ChatBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatBinding, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, b)
	}
	return out, nil
}

func (m *memMemory) GetConfig(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config[key], nil
}

func (m *memMemory) SetConfig(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

var _ MemoryStore = (*memMemory)(nil)
