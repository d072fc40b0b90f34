// Package survey drives one respondent through the survey wizard and keeps the
// progress store in step with every event.
package survey

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"surveycmi/internal/progress"
	"surveycmi/internal/surveyclient"

	"github.com/google/uuid"
)

type Step string

const (
	StepWelcome    Step = "welcome"
	StepName       Step = "identity:name"
	StepAge        Step = "identity:age"
	StepGender     Step = "identity:gender"
	StepLoading    Step = "loading"
	StepAnswering  Step = "answering"
	StepSubmitting Step = "submitting"
	StepDone       Step = "done"
)

var (
	ErrInvalidStep        = errors.New("action not allowed in current step")
	ErrInvalidInput       = errors.New("invalid input")
	ErrOutOfRange         = errors.New("question index out of range")
	ErrUnknownOption      = errors.New("option not in current question")
	ErrQuestionsNotLoaded = errors.New("questions not loaded")
	ErrSubmitInFlight     = errors.New("submission already in flight")
)

type QuestionLoader interface {
	ListQuestions(ctx context.Context) ([]surveyclient.Question, error)
}

type Submitter interface {
	Submit(ctx context.Context, sub surveyclient.Submission, idempotencyKey string) (*surveyclient.SubmitAck, error)
}

type Config struct {
	Store     progress.Store
	Submitter Submitter
	Logger    *log.Logger
	// NewSessionID defaults to random UUIDs.
	NewSessionID func() string
}

// Machine serializes events with a mutex; callers never see a half-applied event.
type Machine struct {
	mu        sync.Mutex
	store     progress.Store
	submitter Submitter
	logger    *log.Logger
	newID     func() string

	step      Step
	sessionID string
	identity  Identity
	answers   []string
	position  int
	questions []surveyclient.Question
	inFlight  bool
}

// State is a copy of what a view needs to render the machine.
type State struct {
	Step           Step
	SessionID      string
	Identity       Identity
	Answers        []string
	Position       int
	QuestionCount  int
	Current        *surveyclient.Question
	SubmitInFlight bool
}

func NewMachine(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	newID := cfg.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Machine{
		store:     cfg.Store,
		submitter: cfg.Submitter,
		logger:    logger,
		newID:     newID,
		step:      StepWelcome,
	}
}

// Restore loads the persisted session. A missing or unreadable record leaves
// the machine on the welcome screen.
func (m *Machine) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, progress.ErrNotFound):
		m.reset(StepWelcome)
		return nil
	case errors.Is(err, progress.ErrVersionMismatch):
		m.logger.Printf("survey progress discarded: %v", err)
		m.reset(StepWelcome)
		m.clearStore(ctx)
		return nil
	case err != nil:
		m.logger.Printf("survey progress restore failed: %v", err)
		m.reset(StepWelcome)
		return fmt.Errorf("restore progress: %w", err)
	}

	step := Step(rec.Step)
	switch step {
	case StepName, StepAge, StepGender, StepAnswering, StepSubmitting:
	default:
		m.reset(StepWelcome)
		return nil
	}

	m.step = step
	m.sessionID = rec.SessionID
	m.identity = Identity{Name: rec.Name, Age: rec.Age, Gender: rec.Gender}
	m.answers = append([]string(nil), rec.Answers...)
	m.position = rec.Position
	if m.position < 0 {
		m.position = 0
	}
	m.fitQuestions()
	return nil
}

func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(StepWelcome); err != nil {
		return err
	}
	m.reset(StepName)
	m.sessionID = m.newID()
	m.answers = make([]string, len(m.questions))
	m.save(ctx)
	return nil
}

func (m *Machine) SetName(ctx context.Context, v string) error {
	return m.setField(ctx, StepName, func() { m.identity.Name = v })
}

func (m *Machine) SetAge(ctx context.Context, v string) error {
	return m.setField(ctx, StepAge, func() { m.identity.Age = v })
}

func (m *Machine) SetGender(ctx context.Context, v string) error {
	if v != "" && !validGender(v) {
		return fmt.Errorf("%w: unknown gender %q", ErrInvalidInput, v)
	}
	return m.setField(ctx, StepGender, func() { m.identity.Gender = v })
}

func (m *Machine) setField(ctx context.Context, step Step, apply func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(step); err != nil {
		return err
	}
	apply()
	m.save(ctx)
	return nil
}

// Next moves forward. Identity fields must validate; question slots may be
// left unanswered.
func (m *Machine) Next(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return ErrSubmitInFlight
	}

	switch m.step {
	case StepName:
		if !validName(m.identity.Name) {
			return fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		m.step = StepAge
	case StepAge:
		if _, ok := parseAge(m.identity.Age); !ok {
			return fmt.Errorf("%w: age must be between %d and %d", ErrInvalidInput, MinAge, MaxAge)
		}
		m.step = StepGender
	case StepGender:
		if !validGender(m.identity.Gender) {
			return fmt.Errorf("%w: gender is required", ErrInvalidInput)
		}
		m.step = StepAnswering
		m.position = 0
	case StepAnswering:
		if len(m.questions) == 0 {
			return ErrQuestionsNotLoaded
		}
		if m.position == len(m.questions)-1 {
			m.step = StepSubmitting
		} else {
			m.position++
		}
	default:
		return ErrInvalidStep
	}

	m.save(ctx)
	return nil
}

func (m *Machine) Back(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return ErrSubmitInFlight
	}

	switch m.step {
	case StepAge:
		m.step = StepName
	case StepGender:
		m.step = StepAge
	case StepAnswering:
		if len(m.questions) == 0 {
			return ErrQuestionsNotLoaded
		}
		if m.position == 0 {
			return ErrOutOfRange
		}
		m.position--
	case StepSubmitting:
		if len(m.questions) == 0 {
			return ErrQuestionsNotLoaded
		}
		m.step = StepAnswering
		m.position = len(m.questions) - 1
	default:
		return ErrInvalidStep
	}

	m.save(ctx)
	return nil
}

// GoTo jumps straight to slot j without touching any stored answer.
func (m *Machine) GoTo(ctx context.Context, j int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardQuestions(); err != nil {
		return err
	}
	if j < 0 || j >= len(m.questions) {
		return ErrOutOfRange
	}
	m.step = StepAnswering
	m.position = j
	m.save(ctx)
	return nil
}

// Select records the option's text as the answer of the current slot.
func (m *Machine) Select(ctx context.Context, optionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(StepAnswering); err != nil {
		return err
	}
	if len(m.questions) == 0 {
		return ErrQuestionsNotLoaded
	}
	q := m.questions[m.position]
	for _, opt := range q.Options {
		if opt.ID == optionID {
			m.answers[m.position] = opt.Text
			m.save(ctx)
			return nil
		}
	}
	return ErrUnknownOption
}

// Clear empties the current slot only.
func (m *Machine) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard(StepAnswering); err != nil {
		return err
	}
	if len(m.questions) == 0 {
		return ErrQuestionsNotLoaded
	}
	m.answers[m.position] = ""
	m.save(ctx)
	return nil
}

// LoadQuestions fetches the question set. A failed fetch is logged and leaves
// the machine as it was.
func (m *Machine) LoadQuestions(ctx context.Context, loader QuestionLoader) error {
	qs, err := loader.ListQuestions(ctx)
	if err != nil {
		m.logger.Printf("survey questions load failed: %v", err)
		return fmt.Errorf("load questions: %w", err)
	}
	m.SetQuestions(ctx, qs)
	return nil
}

// SetQuestions installs the question set, resizing the answer slots and
// clamping the position if the count changed since the session was saved.
func (m *Machine) SetQuestions(ctx context.Context, qs []surveyclient.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.questions = append([]surveyclient.Question(nil), qs...)
	if m.fitQuestions() && m.hasSession() {
		m.save(ctx)
	}
}

// Submit sends the finished survey once. On success progress is cleared and
// the machine is done; on failure it stays on the submit screen.
func (m *Machine) Submit(ctx context.Context) error {
	m.mu.Lock()
	if err := m.guard(StepSubmitting); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(m.questions) == 0 {
		m.mu.Unlock()
		return ErrQuestionsNotLoaded
	}
	sub, unmatched, err := BuildSubmission(m.identity, m.questions, m.answers)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if len(unmatched) > 0 {
		m.logger.Printf("survey submit: session=%s answers matched no option for questions %v, scored 0", m.sessionID, unmatched)
	}
	key := m.sessionID
	m.inFlight = true
	m.mu.Unlock()

	start := time.Now()
	ack, err := m.submitter.Submit(ctx, sub, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
	if err != nil {
		m.logger.Printf("survey submit failed: session=%s elapsed=%s: %v", key, time.Since(start).Round(time.Millisecond), err)
		return fmt.Errorf("submit survey: %w", err)
	}
	if ack != nil {
		m.logger.Printf("survey submitted: session=%s user_id=%d", key, ack.UserID)
	}

	m.clearStore(ctx)
	m.reset(StepDone)
	return nil
}

// Restart abandons whatever is in progress and returns to the welcome screen.
func (m *Machine) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return ErrSubmitInFlight
	}
	m.clearStore(ctx)
	m.reset(StepWelcome)
	return nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Step:           m.step,
		SessionID:      m.sessionID,
		Identity:       m.identity,
		Answers:        append([]string(nil), m.answers...),
		Position:       m.position,
		QuestionCount:  len(m.questions),
		SubmitInFlight: m.inFlight,
	}
	if m.step == StepAnswering || m.step == StepSubmitting {
		if len(m.questions) == 0 {
			st.Step = StepLoading
		} else if m.step == StepAnswering {
			q := m.questions[m.position]
			st.Current = &q
		}
	}
	return st
}

func (m *Machine) guard(step Step) error {
	if m.inFlight {
		return ErrSubmitInFlight
	}
	if m.step != step {
		return ErrInvalidStep
	}
	return nil
}

func (m *Machine) guardQuestions() error {
	if m.inFlight {
		return ErrSubmitInFlight
	}
	if m.step != StepAnswering && m.step != StepSubmitting {
		return ErrInvalidStep
	}
	if len(m.questions) == 0 {
		return ErrQuestionsNotLoaded
	}
	return nil
}

func (m *Machine) hasSession() bool {
	return m.step != StepWelcome && m.step != StepDone
}

// fitQuestions reports whether answers or position had to change.
func (m *Machine) fitQuestions() bool {
	n := len(m.questions)
	if n == 0 {
		return false
	}
	changed := false
	if len(m.answers) != n {
		resized := make([]string, n)
		copy(resized, m.answers)
		m.answers = resized
		changed = true
	}
	if m.position > n-1 {
		m.position = n - 1
		changed = true
	}
	return changed
}

func (m *Machine) reset(step Step) {
	m.step = step
	m.sessionID = ""
	m.identity = Identity{}
	m.answers = nil
	m.position = 0
}

func (m *Machine) save(ctx context.Context) {
	rec := &progress.Record{
		SessionID: m.sessionID,
		Step:      string(m.step),
		Name:      m.identity.Name,
		Age:       m.identity.Age,
		Gender:    m.identity.Gender,
		Answers:   append([]string(nil), m.answers...),
		Position:  m.position,
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Printf("survey progress save failed: session=%s step=%s: %v", m.sessionID, m.step, err)
	}
}

func (m *Machine) clearStore(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Printf("survey progress clear failed: %v", err)
	}
}
