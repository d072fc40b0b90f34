// Package console holds the line-oriented front-ends: the survey taker that
// walks a respondent through survey.Machine and the admin console commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"surveycmi/internal/survey"
)

var errQuit = errors.New("quit")

// Taker renders the machine after every event and reads one command per line.
// Commands start with ':'; anything else is a field value or an option number.
type Taker struct {
	machine *survey.Machine
	loader  survey.QuestionLoader
	in      *bufio.Scanner
	out     io.Writer
}

func NewTaker(m *survey.Machine, loader survey.QuestionLoader, in io.Reader, out io.Writer) *Taker {
	return &Taker{machine: m, loader: loader, in: bufio.NewScanner(in), out: out}
}

// Run restores any saved session, then loops until :q or end of input.
func (t *Taker) Run(ctx context.Context) error {
	if err := t.machine.Restore(ctx); err != nil {
		t.printf("! could not restore saved progress, starting over\n")
	}
	t.load(ctx)

	for {
		st := t.machine.State()
		t.render(st)
		if !t.in.Scan() {
			return t.in.Err()
		}
		err := t.handle(ctx, st, strings.TrimSpace(t.in.Text()))
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			t.printf("! %s\n", describe(err))
		}
	}
}

func (t *Taker) load(ctx context.Context) {
	if err := t.machine.LoadQuestions(ctx, t.loader); err != nil {
		t.printf("! questions could not be loaded\n")
	}
}

func (t *Taker) render(st survey.State) {
	switch st.Step {
	case survey.StepWelcome:
		t.printf("\nWelcome to the survey.\n[enter] start  :q quit\n> ")
	case survey.StepName:
		t.printf("\nYour name%s:\n> ", current(st.Identity.Name))
	case survey.StepAge:
		t.printf("\nYour age (%d-%d)%s:\n> ", survey.MinAge, survey.MaxAge, current(st.Identity.Age))
	case survey.StepGender:
		t.printf("\nGender (%s)%s:\n> ", strings.Join(survey.Genders, "/"), current(st.Identity.Gender))
	case survey.StepLoading:
		t.printf("\nLoading questions...\n[enter] retry  :q quit\n> ")
	case survey.StepAnswering:
		t.renderQuestion(st)
	case survey.StepSubmitting:
		t.printf("\n%s\nAnswered %d of %d questions.\n:s submit  :b back  :g N go to question  :q quit\n> ",
			navigator(st), answered(st.Answers), st.QuestionCount)
	case survey.StepDone:
		t.printf("\nThank you! Your answers were submitted.\n:r take the survey again  :q quit\n> ")
	}
}

func (t *Taker) renderQuestion(st survey.State) {
	q := st.Current
	t.printf("\n%s\nQuestion %d of %d\n%s\n", navigator(st), st.Position+1, st.QuestionCount, q.Text)
	for i, opt := range q.Options {
		mark := " "
		if st.Answers[st.Position] == opt.Text {
			mark = "x"
		}
		t.printf("  [%s] %d. %s\n", mark, i+1, opt.Text)
	}
	next := "Skip"
	if st.Answers[st.Position] != "" {
		next = "Next"
	}
	t.printf("N pick option  [enter] %s  :b back  :c clear  :g N go to  :q quit\n> ", next)
}

func (t *Taker) handle(ctx context.Context, st survey.State, line string) error {
	cmd, arg := splitCommand(line)
	if cmd == ":q" {
		return errQuit
	}

	switch st.Step {
	case survey.StepWelcome:
		if cmd == "" {
			return t.machine.Start(ctx)
		}
	case survey.StepName, survey.StepAge, survey.StepGender:
		return t.handleIdentity(ctx, st.Step, cmd, line)
	case survey.StepLoading:
		if cmd == "" {
			t.load(ctx)
			return nil
		}
	case survey.StepAnswering:
		return t.handleAnswer(ctx, st, cmd, arg, line)
	case survey.StepSubmitting:
		switch cmd {
		case ":s":
			return t.machine.Submit(ctx)
		case ":b":
			return t.machine.Back(ctx)
		case ":g":
			return t.goTo(ctx, arg)
		case "":
			return nil
		}
	case survey.StepDone:
		if cmd == ":r" {
			return t.machine.Restart(ctx)
		}
		if cmd == "" {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown command %q", survey.ErrInvalidInput, line)
}

func (t *Taker) handleIdentity(ctx context.Context, step survey.Step, cmd, line string) error {
	if cmd == ":b" {
		return t.machine.Back(ctx)
	}
	if strings.HasPrefix(cmd, ":") {
		return fmt.Errorf("%w: unknown command %q", survey.ErrInvalidInput, line)
	}
	if line != "" {
		var err error
		switch step {
		case survey.StepName:
			err = t.machine.SetName(ctx, line)
		case survey.StepAge:
			err = t.machine.SetAge(ctx, line)
		case survey.StepGender:
			err = t.machine.SetGender(ctx, strings.ToUpper(line))
		}
		if err != nil {
			return err
		}
	}
	return t.machine.Next(ctx)
}

func (t *Taker) handleAnswer(ctx context.Context, st survey.State, cmd, arg, line string) error {
	switch cmd {
	case "":
		return t.machine.Next(ctx)
	case ":b":
		return t.machine.Back(ctx)
	case ":c":
		return t.machine.Clear(ctx)
	case ":g":
		return t.goTo(ctx, arg)
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(st.Current.Options) {
		return fmt.Errorf("%w: pick an option between 1 and %d", survey.ErrInvalidInput, len(st.Current.Options))
	}
	return t.machine.Select(ctx, st.Current.Options[n-1].ID)
}

func (t *Taker) goTo(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: :g needs a question number", survey.ErrInvalidInput)
	}
	return t.machine.GoTo(ctx, n-1)
}

func (t *Taker) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(t.out, format, args...)
}

// navigator draws one cell per question: '>' marks the current one and '*'
// an answered one.
func navigator(st survey.State) string {
	var sb strings.Builder
	for i, a := range st.Answers {
		mark := ""
		if a != "" {
			mark = "*"
		}
		if st.Step == survey.StepAnswering && i == st.Position {
			fmt.Fprintf(&sb, "[>%d%s]", i+1, mark)
			continue
		}
		fmt.Fprintf(&sb, "[%d%s]", i+1, mark)
	}
	return sb.String()
}

func answered(answers []string) int {
	n := 0
	for _, a := range answers {
		if a != "" {
			n++
		}
	}
	return n
}

func current(v string) string {
	if v == "" {
		return ""
	}
	return fmt.Sprintf(" [%s]", v)
}

func splitCommand(line string) (string, string) {
	if !strings.HasPrefix(line, ":") {
		if line == "" {
			return "", ""
		}
		return line, ""
	}
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func describe(err error) string {
	switch {
	case errors.Is(err, survey.ErrSubmitInFlight):
		return "submission in progress, please wait"
	case errors.Is(err, survey.ErrQuestionsNotLoaded):
		return "questions are not loaded yet"
	case errors.Is(err, survey.ErrOutOfRange):
		return "no such question"
	default:
		return err.Error()
	}
}
