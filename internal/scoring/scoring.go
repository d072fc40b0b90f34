// Package scoring computes the read-only subscale preview shown in the admin
// console. The authoritative scores live server-side; nothing here is written back.
package scoring

import (
	"errors"
	"math"
	"strings"
)

var ErrUnknownMethod = errors.New("unknown subscale method")

type Method string

const (
	MethodSum     Method = "sum"
	MethodAverage Method = "average"
)

// ParseMethod accepts the method names used by the subscale API.
func ParseMethod(v string) (Method, error) {
	switch Method(strings.TrimSpace(strings.ToLower(v))) {
	case MethodSum:
		return MethodSum, nil
	case MethodAverage:
		return MethodAverage, nil
	default:
		return "", ErrUnknownMethod
	}
}

type Subscale struct {
	ID          int64
	Name        string
	Method      Method
	QuestionIDs []int64
}

type Response struct {
	QuestionID int64
	RawScore   int
}

type NormalizationRow struct {
	Age             int
	Sex             string
	RawScore        int
	NormalizedScore float64
}

type Result struct {
	RawScore        int
	Counted         int
	NormalizedScore float64
	Found           bool
}

// Aggregate folds the raw scores of the member questions. An empty member set
// averages to 0.
func Aggregate(method Method, memberIDs []int64, responses []Response) (int, error) {
	sum, count := memberTotals(memberIDs, responses)
	switch method {
	case MethodSum:
		return sum, nil
	case MethodAverage:
		return roundHalfUp(sum, count), nil
	default:
		return 0, ErrUnknownMethod
	}
}

// Lookup finds the row matching age, sex and raw score exactly.
func Lookup(rows []NormalizationRow, age int, sex string, raw int) (float64, bool) {
	for _, row := range rows {
		if row.Age == age && row.Sex == sex && row.RawScore == raw {
			return row.NormalizedScore, true
		}
	}
	return 0, false
}

func Preview(sub Subscale, responses []Response, rows []NormalizationRow, age int, sex string) (Result, error) {
	raw, err := Aggregate(sub.Method, sub.QuestionIDs, responses)
	if err != nil {
		return Result{}, err
	}
	_, counted := memberTotals(sub.QuestionIDs, responses)
	norm, found := Lookup(rows, age, sex, raw)
	return Result{RawScore: raw, Counted: counted, NormalizedScore: norm, Found: found}, nil
}

func memberTotals(memberIDs []int64, responses []Response) (int, int) {
	members := make(map[int64]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}
	sum, count := 0, 0
	for _, r := range responses {
		if _, ok := members[r.QuestionID]; !ok {
			continue
		}
		sum += r.RawScore
		count++
	}
	return sum, count
}

func roundHalfUp(sum, count int) int {
	if count == 0 {
		return 0
	}
	return int(math.Floor(float64(sum)/float64(count) + 0.5))
}
