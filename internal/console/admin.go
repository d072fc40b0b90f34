package console

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"surveycmi/internal/auth"
	"surveycmi/internal/scoring"
	"surveycmi/internal/surveyclient"
)

var ErrUsage = errors.New("usage")

// AdminAPI is the part of surveyclient.Client the console drives.
type AdminAPI interface {
	ListQuestions(ctx context.Context) ([]surveyclient.Question, error)
	CreateQuestion(ctx context.Context, in surveyclient.QuestionInput) (*surveyclient.Question, error)
	UpdateQuestion(ctx context.Context, id int64, in surveyclient.QuestionInput) (*surveyclient.Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
	ListUsers(ctx context.Context) ([]surveyclient.User, error)
	GetUser(ctx context.Context, id int64) (*surveyclient.User, error)
	ListUserResponses(ctx context.Context, userID int64) ([]surveyclient.UserResponse, error)
	ListSubscales(ctx context.Context) ([]surveyclient.Subscale, error)
	GetSubscale(ctx context.Context, id int64) (*surveyclient.Subscale, error)
	CreateSubscale(ctx context.Context, in surveyclient.Subscale) (*surveyclient.Subscale, error)
	UpdateSubscale(ctx context.Context, id int64, in surveyclient.Subscale) (*surveyclient.Subscale, error)
	DeleteSubscale(ctx context.Context, id int64) error
	NormalizationTable(ctx context.Context, subscaleID int64) ([]surveyclient.NormalizationRow, error)
	ExportNormalizationTable(ctx context.Context, subscaleID int64, w io.Writer) error
	UploadNormalizationCSV(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*surveyclient.ImportReport, error)
}

type Admin struct {
	api  AdminAPI
	auth *auth.Authenticator
	out  io.Writer
}

func NewAdmin(api AdminAPI, authn *auth.Authenticator, out io.Writer) *Admin {
	return &Admin{api: api, auth: authn, out: out}
}

const adminUsage = `commands:
  questions list
  questions add -text TEXT -option "TEXT=SCORE" [-option ...]
  questions update ID [-text TEXT] [-option "TEXT=SCORE" ...]
  questions delete ID
  subscales list
  subscales add -name NAME -method sum|average -questions 1,2,3
  subscales update ID [-name NAME] [-method M] [-questions IDS]
  subscales delete ID
  norms show SUBSCALE_ID
  norms upload SUBSCALE_ID FILE.csv|FILE.xlsx
  norms export SUBSCALE_ID FILE.xlsx
  users list
  users show ID
  preview USER_ID SUBSCALE_ID`

// Run executes one command on behalf of the logged-in session.
func (a *Admin) Run(ctx context.Context, s *auth.Session, args []string) error {
	if err := a.auth.Check(s); err != nil {
		return err
	}
	if len(args) == 0 {
		a.printf("%s\n", adminUsage)
		return ErrUsage
	}

	group, rest := args[0], args[1:]
	var err error
	switch group {
	case "questions":
		err = a.questions(ctx, rest)
	case "subscales":
		err = a.subscales(ctx, rest)
	case "norms":
		err = a.norms(ctx, rest)
	case "users":
		err = a.users(ctx, rest)
	case "preview":
		err = a.preview(ctx, rest)
	case "help":
		a.printf("%s\n", adminUsage)
		return nil
	default:
		err = fmt.Errorf("%w: unknown command %q", ErrUsage, group)
	}
	if errors.Is(err, ErrUsage) {
		a.printf("%s\n", adminUsage)
	}
	return err
}

func (a *Admin) questions(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: questions needs a subcommand", ErrUsage)
	}
	switch args[0] {
	case "list":
		items, err := a.api.ListQuestions(ctx)
		if err != nil {
			return err
		}
		for _, q := range items {
			a.printf("#%d %s\n", q.ID, q.Text)
			for _, o := range q.Options {
				a.printf("    [%d] %s = %d\n", o.ID, o.Text, o.RawScore)
			}
		}
		return nil
	case "add":
		fs, text, options := questionFlags("questions add")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		opts, err := parseOptions(*options)
		if err != nil {
			return err
		}
		q, err := a.api.CreateQuestion(ctx, surveyclient.QuestionInput{Text: *text, Options: opts})
		if err != nil {
			return err
		}
		a.printf("created question #%d\n", q.ID)
		return nil
	case "update":
		id, err := idArg(args[1:], "question id")
		if err != nil {
			return err
		}
		fs, text, options := questionFlags("questions update")
		if err := fs.Parse(args[2:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		existing, err := a.findQuestion(ctx, id)
		if err != nil {
			return err
		}
		in := surveyclient.QuestionInput{Text: existing.Text, Options: keepOptions(existing.Options)}
		if *text != "" {
			in.Text = *text
		}
		if len(*options) > 0 {
			opts, err := parseOptions(*options)
			if err != nil {
				return err
			}
			in.Options = matchOptionIDs(existing.Options, opts)
		}
		q, err := a.api.UpdateQuestion(ctx, id, in)
		if err != nil {
			return err
		}
		a.printf("updated question #%d (%d options)\n", q.ID, len(q.Options))
		return nil
	case "delete":
		id, err := idArg(args[1:], "question id")
		if err != nil {
			return err
		}
		if err := a.api.DeleteQuestion(ctx, id); err != nil {
			return err
		}
		a.printf("deleted question #%d\n", id)
		return nil
	}
	return fmt.Errorf("%w: unknown questions subcommand %q", ErrUsage, args[0])
}

func (a *Admin) findQuestion(ctx context.Context, id int64) (*surveyclient.Question, error) {
	items, err := a.api.ListQuestions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("question #%d: %w", id, surveyclient.ErrNotFound)
}

func (a *Admin) subscales(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: subscales needs a subcommand", ErrUsage)
	}
	switch args[0] {
	case "list":
		items, err := a.api.ListSubscales(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMETHOD\tQUESTIONS")
		for _, s := range items {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.ID, s.Name, s.Method, joinIDs(s.QuestionIDs))
		}
		return tw.Flush()
	case "add":
		fs, name, method, ids := subscaleFlags("subscales add")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		qids, err := parseIDs(*ids)
		if err != nil {
			return err
		}
		s, err := a.api.CreateSubscale(ctx, surveyclient.Subscale{Name: *name, Method: *method, QuestionIDs: qids})
		if err != nil {
			return err
		}
		a.printf("created subscale #%d\n", s.ID)
		return nil
	case "update":
		id, err := idArg(args[1:], "subscale id")
		if err != nil {
			return err
		}
		fs, name, method, ids := subscaleFlags("subscales update")
		if err := fs.Parse(args[2:]); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		existing, err := a.api.GetSubscale(ctx, id)
		if err != nil {
			return err
		}
		in := *existing
		in.ID = 0
		if *name != "" {
			in.Name = *name
		}
		if *method != "" {
			in.Method = *method
		}
		if *ids != "" {
			if in.QuestionIDs, err = parseIDs(*ids); err != nil {
				return err
			}
		}
		s, err := a.api.UpdateSubscale(ctx, id, in)
		if err != nil {
			return err
		}
		a.printf("updated subscale #%d\n", s.ID)
		return nil
	case "delete":
		id, err := idArg(args[1:], "subscale id")
		if err != nil {
			return err
		}
		if err := a.api.DeleteSubscale(ctx, id); err != nil {
			return err
		}
		a.printf("deleted subscale #%d\n", id)
		return nil
	}
	return fmt.Errorf("%w: unknown subscales subcommand %q", ErrUsage, args[0])
}

func (a *Admin) norms(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: norms needs a subcommand", ErrUsage)
	}
	id, err := idArg(args[1:], "subscale id")
	if err != nil {
		return err
	}
	switch args[0] {
	case "show":
		rows, err := a.api.NormalizationTable(ctx, id)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			a.printf("subscale #%d has no normalization table\n", id)
			return nil
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AGE\tSEX\tRAW\tNORMALIZED")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%g\n", r.Age, r.Sex, r.RawScore, r.NormalizedScore)
		}
		return tw.Flush()
	case "upload":
		if len(args) < 3 {
			return fmt.Errorf("%w: norms upload needs a file", ErrUsage)
		}
		f, err := os.Open(args[2])
		if err != nil {
			return fmt.Errorf("open normalization file: %w", err)
		}
		defer f.Close()
		report, err := a.api.UploadNormalizationCSV(ctx, id, filepath.Base(args[2]), f)
		if report != nil {
			for _, e := range report.Errors {
				a.printf("row %d: %s\n", e.Row, e.Error)
			}
		}
		if err != nil {
			return err
		}
		a.printf("imported %d of %d rows into subscale #%d\n", report.ImportedRows, report.TotalRows, id)
		return nil
	case "export":
		if len(args) < 3 {
			return fmt.Errorf("%w: norms export needs an output file", ErrUsage)
		}
		f, err := os.Create(args[2])
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		if err := a.api.ExportNormalizationTable(ctx, id, f); err != nil {
			_ = f.Close()
			_ = os.Remove(args[2])
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close export file: %w", err)
		}
		a.printf("wrote %s\n", args[2])
		return nil
	}
	return fmt.Errorf("%w: unknown norms subcommand %q", ErrUsage, args[0])
}

func (a *Admin) users(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: users needs a subcommand", ErrUsage)
	}
	switch args[0] {
	case "list":
		items, err := a.api.ListUsers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tAGE\tGENDER")
		for _, u := range items {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", u.ID, u.Name, u.Age, u.Gender)
		}
		return tw.Flush()
	case "show":
		id, err := idArg(args[1:], "user id")
		if err != nil {
			return err
		}
		u, err := a.api.GetUser(ctx, id)
		if err != nil {
			return err
		}
		responses, err := a.api.ListUserResponses(ctx, id)
		if err != nil {
			return err
		}
		a.printf("#%d %s, %d, %s\n", u.ID, u.Name, u.Age, u.Gender)
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUESTION\tANSWER\tRAW")
		for _, r := range responses {
			answer := r.Answer
			if answer == "" {
				answer = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", r.QuestionText, answer, r.RawScore)
		}
		return tw.Flush()
	}
	return fmt.Errorf("%w: unknown users subcommand %q", ErrUsage, args[0])
}

// preview computes a user's score on one subscale locally. Nothing is saved.
func (a *Admin) preview(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: preview needs a user id and a subscale id", ErrUsage)
	}
	userID, err := idArg(args[:1], "user id")
	if err != nil {
		return err
	}
	subscaleID, err := idArg(args[1:2], "subscale id")
	if err != nil {
		return err
	}

	u, err := a.api.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	responses, err := a.api.ListUserResponses(ctx, userID)
	if err != nil {
		return err
	}
	sub, err := a.api.GetSubscale(ctx, subscaleID)
	if err != nil {
		return err
	}
	rows, err := a.api.NormalizationTable(ctx, subscaleID)
	if err != nil {
		return err
	}

	method, err := scoring.ParseMethod(sub.Method)
	if err != nil {
		return fmt.Errorf("subscale #%d: %w", sub.ID, err)
	}
	res, err := scoring.Preview(
		scoring.Subscale{ID: sub.ID, Name: sub.Name, Method: method, QuestionIDs: sub.QuestionIDs},
		toScoringResponses(responses),
		toScoringRows(rows),
		u.Age, u.Gender,
	)
	if err != nil {
		return err
	}

	a.printf("%s for %s (%d, %s)\n", sub.Name, u.Name, u.Age, u.Gender)
	a.printf("  raw score (%s of %d answers): %d\n", method, res.Counted, res.RawScore)
	if res.Found {
		a.printf("  normalized score: %g\n", res.NormalizedScore)
	} else {
		a.printf("  normalized score: no row for age %d, sex %s, raw %d\n", u.Age, u.Gender, res.RawScore)
	}
	return nil
}

func (a *Admin) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ", ") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func questionFlags(name string) (*flag.FlagSet, *string, *stringList) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	text := fs.String("text", "", "question text")
	options := &stringList{}
	fs.Var(options, "option", `option as "TEXT=SCORE", repeatable`)
	return fs, text, options
}

func subscaleFlags(name string) (*flag.FlagSet, *string, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	n := fs.String("name", "", "subscale name")
	m := fs.String("method", "", "sum or average")
	ids := fs.String("questions", "", "comma separated question ids")
	return fs, n, m, ids
}

func parseOptions(values []string) ([]surveyclient.OptionInput, error) {
	out := make([]surveyclient.OptionInput, 0, len(values))
	for _, raw := range values {
		i := strings.LastIndex(raw, "=")
		if i <= 0 {
			return nil, fmt.Errorf("%w: option %q must look like TEXT=SCORE", ErrUsage, raw)
		}
		score, err := strconv.Atoi(strings.TrimSpace(raw[i+1:]))
		if err != nil {
			return nil, fmt.Errorf("%w: option %q has a non-numeric score", ErrUsage, raw)
		}
		out = append(out, surveyclient.OptionInput{Text: strings.TrimSpace(raw[:i]), RawScore: score})
	}
	return out, nil
}

func keepOptions(opts []surveyclient.Option) []surveyclient.OptionInput {
	out := make([]surveyclient.OptionInput, 0, len(opts))
	for _, o := range opts {
		id := o.ID
		out = append(out, surveyclient.OptionInput{ID: &id, Text: o.Text, RawScore: o.RawScore})
	}
	return out
}

// matchOptionIDs reuses the id of an existing option with the same text so
// the server updates it in place instead of replacing it.
func matchOptionIDs(existing []surveyclient.Option, in []surveyclient.OptionInput) []surveyclient.OptionInput {
	byText := make(map[string]int64, len(existing))
	for _, o := range existing {
		byText[o.Text] = o.ID
	}
	for i := range in {
		if id, ok := byText[in[i].Text]; ok {
			in[i].ID = &id
		}
	}
	return in
}

func parseIDs(v string) ([]int64, error) {
	out := make([]int64, 0)
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid question id %q", ErrUsage, p)
		}
		out = append(out, id)
	}
	return out, nil
}

func idArg(args []string, what string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing %s", ErrUsage, what)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrUsage, what, args[0])
	}
	return id, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func toScoringResponses(in []surveyclient.UserResponse) []scoring.Response {
	out := make([]scoring.Response, 0, len(in))
	for _, r := range in {
		out = append(out, scoring.Response{QuestionID: r.QuestionID, RawScore: r.RawScore})
	}
	return out
}

func toScoringRows(in []surveyclient.NormalizationRow) []scoring.NormalizationRow {
	out := make([]scoring.NormalizationRow, 0, len(in))
	for _, r := range in {
		out = append(out, scoring.NormalizationRow{Age: r.Age, Sex: r.Sex, RawScore: r.RawScore, NormalizedScore: r.NormalizedScore})
	}
	return out
}
