package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
)

// Expectation 对观察值的断言
type Expectation interface {
	Check(got gjson.Result) error
	String() string
}

// AssertionError 断言失败，携带观察值
type AssertionError struct {
	Scenario string
	Want     string
	Got      string
	Reason   string
}

func (e *AssertionError) Error() string {
	msg := fmt.Sprintf("%s: want %s, got %s", e.Scenario, e.Want, e.Got)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// errMismatch 断言内部使用，由 Runner 包装为 AssertionError
type errMismatch struct{ reason string }

func (e errMismatch) Error() string { return e.reason }

func mismatch(format string, args ...any) error {
	return errMismatch{reason: fmt.Sprintf(format, args...)}
}

func raw(r gjson.Result) string {
	if !r.Exists() {
		return "undefined"
	}
	return r.Raw
}

// RecordStatus 结果列表中 ID 记录的状态等于（或不等于）Status
type RecordStatus struct {
	ID     string
	Status string
	Not    bool
}

func (e RecordStatus) Check(got gjson.Result) error {
	rec := FindRecord(got, e.ID)
	if !rec.Exists() {
		return mismatch("no record %q", e.ID)
	}
	st := rec.Get("status").String()
	if (st == e.Status) == e.Not {
		return mismatch("record %q status %q", e.ID, st)
	}
	return nil
}

func (e RecordStatus) String() string {
	op := "=="
	if e.Not {
		op = "!="
	}
	return fmt.Sprintf("%s.status %s %q", e.ID, op, e.Status)
}

// Equals 观察值与 Value 的 JSON 形式相等
type Equals struct {
	Value any
}

func (e Equals) Check(got gjson.Result) error {
	b, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshal expected value: %w", err)
	}
	want := gjson.ParseBytes(b)
	if IsNull(got) != IsNull(want) || !reflect.DeepEqual(got.Value(), want.Value()) {
		return mismatch("not equal")
	}
	return nil
}

func (e Equals) String() string {
	b, _ := json.Marshal(e.Value)
	return string(b)
}

// IsNullValue 观察值缺失或为 null
type IsNullValue struct{}

func (IsNullValue) Check(got gjson.Result) error {
	if !IsNull(got) {
		return mismatch("not null")
	}
	return nil
}

func (IsNullValue) String() string { return "null" }

// SearchExcludes URL 查询串不含参数 Param
type SearchExcludes struct{ Param string }

func (e SearchExcludes) Check(got gjson.Result) error {
	q, err := search(got)
	if err != nil {
		return err
	}
	if q.Has(e.Param) {
		return mismatch("search contains %s", e.Param)
	}
	return nil
}

func (e SearchExcludes) String() string { return "search without " + e.Param }

// SearchContains URL 查询串包含 Param=Value
type SearchContains struct {
	Param string
	Value string
}

func (e SearchContains) Check(got gjson.Result) error {
	q, err := search(got)
	if err != nil {
		return err
	}
	if !q.Has(e.Param) || q.Get(e.Param) != e.Value {
		return mismatch("search lacks %s=%s", e.Param, e.Value)
	}
	return nil
}

func (e SearchContains) String() string { return fmt.Sprintf("search with %s=%s", e.Param, e.Value) }

func search(got gjson.Result) (url.Values, error) {
	if got.Type != gjson.String {
		return nil, mismatch("not a url")
	}
	u, err := url.Parse(got.Str)
	if err != nil {
		return nil, mismatch("bad url: %v", err)
	}
	return u.Query(), nil
}

// Envelope 原始 executeScript 返回值：单个逐框架结果，包含 documentId/frameId/result
type Envelope struct {
	FrameID int
	Result  any
}

func (e Envelope) Check(got gjson.Result) error {
	if !got.IsArray() {
		return mismatch("not an array")
	}
	items := got.Array()
	if len(items) != 1 {
		return mismatch("want 1 injection result, got %d", len(items))
	}
	r := items[0]
	for _, prop := range []string{"documentId", "frameId", "result"} {
		if !r.Get(prop).Exists() {
			return mismatch("injection result lacks %s", prop)
		}
	}
	if int(r.Get("frameId").Int()) != e.FrameID {
		return mismatch("frameId %d", r.Get("frameId").Int())
	}
	return Equals{Value: e.Result}.Check(r.Get("result"))
}

func (e Envelope) String() string {
	return fmt.Sprintf("[{documentId, frameId: %d, result: %s}]", e.FrameID, Equals{Value: e.Result})
}

// All 全部断言成立
type All []Expectation

func (a All) Check(got gjson.Result) error {
	for _, e := range a {
		if err := e.Check(got); err != nil {
			return err
		}
	}
	return nil
}

func (a All) String() string {
	parts := make([]string, 0, len(a))
	for _, e := range a {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, " && ")
}

// checkExpectation 执行断言并将不匹配包装为 AssertionError
func checkExpectation(scenario string, e Expectation, got gjson.Result) error {
	if e == nil {
		return nil
	}
	err := e.Check(got)
	if err == nil {
		return nil
	}
	var mm errMismatch
	if errors.As(err, &mm) {
		return &AssertionError{Scenario: scenario, Want: e.String(), Got: raw(got), Reason: mm.reason}
	}
	return err
}
