package harness

import (
	"fmt"

	"github.com/tidwall/gjson"
)

const (
	StatusNotLoaded = "not loaded"
	StatusLoaded    = "loaded"
)

// FindRecord 在结果列表中按 id 查找记录
func FindRecord(results gjson.Result, id string) gjson.Result {
	return results.Get(fmt.Sprintf(`#(id==%q)`, id))
}

// StatusSettled 列表中 id 对应记录的状态已离开初始的 "not loaded"
func StatusSettled(id string) Predicate {
	return func(r gjson.Result) bool {
		rec := FindRecord(r, id)
		if !rec.Exists() {
			return false
		}
		st := rec.Get("status")
		return st.Exists() && st.String() != StatusNotLoaded
	}
}

// NotNull 结果存在且非 null
func NotNull() Predicate {
	return func(r gjson.Result) bool { return !IsNull(r) }
}
