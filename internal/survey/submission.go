package survey

import (
	"fmt"
	"strconv"
	"strings"

	"surveycmi/internal/surveyclient"
)

// Genders is the closed set accepted for Identity.Gender.
var Genders = []string{"M", "F"}

const (
	MinAge = 1
	MaxAge = 99
)

// Identity holds the fields exactly as entered; Age stays a string until submission.
type Identity struct {
	Name   string `json:"name"`
	Age    string `json:"age"`
	Gender string `json:"gender"`
}

func validName(v string) bool {
	return strings.TrimSpace(v) != ""
}

func parseAge(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < MinAge || n > MaxAge {
		return 0, false
	}
	return n, true
}

func validGender(v string) bool {
	for _, g := range Genders {
		if v == g {
			return true
		}
	}
	return false
}

// BuildSubmission resolves every slot to the raw score of the option whose text
// equals the stored answer. Unanswered slots and answers that match no option
// score 0; the ids of the latter are returned so callers can report them.
func BuildSubmission(id Identity, questions []surveyclient.Question, answers []string) (surveyclient.Submission, []int64, error) {
	if !validName(id.Name) {
		return surveyclient.Submission{}, nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	age, ok := parseAge(id.Age)
	if !ok {
		return surveyclient.Submission{}, nil, fmt.Errorf("%w: age must be between %d and %d", ErrInvalidInput, MinAge, MaxAge)
	}
	if !validGender(id.Gender) {
		return surveyclient.Submission{}, nil, fmt.Errorf("%w: gender must be one of %s", ErrInvalidInput, strings.Join(Genders, ", "))
	}

	sub := surveyclient.Submission{
		User: surveyclient.SubmissionUser{
			Name:   strings.TrimSpace(id.Name),
			Age:    age,
			Gender: id.Gender,
		},
		Responses: make([]surveyclient.SubmissionResponse, 0, len(questions)),
	}

	var unmatched []int64
	for i, q := range questions {
		answer := ""
		if i < len(answers) {
			answer = answers[i]
		}
		raw, matched := rawScoreFor(q, answer)
		if answer != "" && !matched {
			unmatched = append(unmatched, q.ID)
		}
		sub.Responses = append(sub.Responses, surveyclient.SubmissionResponse{
			QuestionID: q.ID,
			Answer:     answer,
			RawScore:   raw,
		})
	}
	return sub, unmatched, nil
}

func rawScoreFor(q surveyclient.Question, answer string) (int, bool) {
	if answer == "" {
		return 0, false
	}
	for _, opt := range q.Options {
		if opt.Text == answer {
			return opt.RawScore, true
		}
	}
	return 0, false
}
