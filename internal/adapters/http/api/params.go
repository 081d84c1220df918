package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/medrank/internal/validation"
)

type recommendParams struct {
	TreatmentID   *int64   `query:"treatment_id" validate:"omitempty,gt=0"`
	Country       *string  `query:"country" validate:"omitempty,max=64"`
	Language      *string  `query:"language" validate:"omitempty,max=64"`
	Limit         int      `query:"limit" validate:"gte=0"`
	MinScore      *float64 `query:"min_score" validate:"omitempty,gte=0,lte=1"`
	MinSampleSize *int     `query:"min_sample_size" validate:"omitempty,gte=0"`
}

type periodParams struct {
	Period string `query:"period" validate:"omitempty,oneof=last_30d last_90d all_time"`
}

type refreshParams struct {
	Period string `query:"period" validate:"omitempty,oneof=last_30d last_90d all_time"`
	Async  bool   `query:"async"`
	Reason string `query:"reason" validate:"max=128"`
}

type simulateParams struct {
	GlobalRate *float64 `query:"global_rate" validate:"omitempty,gte=0,lte=1"`
	M          *float64 `query:"m" validate:"omitempty,gt=0"`
}

// query reads typed values from a URL query, remembering the first parse
// failure. Empty values count as absent.
type query struct {
	v   url.Values
	err error
}

func (q *query) raw(key string) (string, bool) {
	s := strings.TrimSpace(q.v.Get(key))
	return s, s != ""
}

func (q *query) fail(key, want string) {
	if q.err == nil {
		q.err = fmt.Errorf("%w: %s must be %s", ErrBadRequest, key, want)
	}
}

func (q *query) string(key string) *string {
	s, ok := q.raw(key)
	if !ok {
		return nil
	}
	return &s
}

func (q *query) int64(key string) *int64 {
	s, ok := q.raw(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		q.fail(key, "an integer")
		return nil
	}
	return &n
}

func (q *query) int(key string) *int {
	n := q.int64(key)
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

func (q *query) float(key string) *float64 {
	s, ok := q.raw(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		q.fail(key, "a finite number")
		return nil
	}
	return &f
}

func (q *query) bool(key string) bool {
	s, ok := q.raw(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		q.fail(key, "a boolean")
	}
	return b
}

// check validates p once every value parsed.
func (q *query) check(p any) error {
	if q.err != nil {
		return q.err
	}
	if err := validation.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func parseRecommend(v url.Values) (recommendParams, error) {
	q := &query{v: v}
	p := recommendParams{
		TreatmentID:   q.int64("treatment_id"),
		Country:       q.string("country"),
		Language:      q.string("language"),
		MinScore:      q.float("min_score"),
		MinSampleSize: q.int("min_sample_size"),
	}
	if n := q.int("limit"); n != nil {
		p.Limit = *n
	}
	return p, q.check(p)
}

func parsePeriod(v url.Values) (periodParams, error) {
	q := &query{v: v}
	p := periodParams{}
	if s := q.string("period"); s != nil {
		p.Period = *s
	}
	return p, q.check(p)
}

func parseRefresh(v url.Values) (refreshParams, error) {
	q := &query{v: v}
	p := refreshParams{Async: q.bool("async")}
	if s := q.string("period"); s != nil {
		p.Period = *s
	}
	if s := q.string("reason"); s != nil {
		p.Reason = *s
	}
	return p, q.check(p)
}

func parseSimulate(v url.Values) (simulateParams, error) {
	q := &query{v: v}
	p := simulateParams{GlobalRate: q.float("global_rate"), M: q.float("m")}
	return p, q.check(p)
}
