package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestExpectations(t *testing.T) {
	results := `[{"id":"script","status":"loaded"},{"id":"xmlhttprequest","status":"failed"}]`
	tests := []struct {
		name string
		exp  Expectation
		got  string
		ok   bool
	}{
		{"record found by id, not first element", RecordStatus{ID: "xmlhttprequest", Status: "failed"}, results, true},
		{"record status negated", RecordStatus{ID: "xmlhttprequest", Status: StatusLoaded, Not: true}, results, true},
		{"record status mismatch", RecordStatus{ID: "script", Status: "failed"}, results, false},
		{"record missing", RecordStatus{ID: "image", Status: StatusLoaded}, results, false},
		{"equals number", Equals{Value: 48}, `48`, true},
		{"equals string mismatch", Equals{Value: "success"}, `null`, false},
		{"equals array", Equals{Value: []string{"object", "object"}}, `["object","object"]`, true},
		{"null", IsNullValue{}, `null`, true},
		{"null mismatch", IsNullValue{}, `"success"`, false},
		{"search excludes", SearchExcludes{Param: "fbclid"}, `"https://a.test/q.html?fb_source=x&u=14"`, true},
		{"search excludes mismatch", SearchExcludes{Param: "fbclid"}, `"https://a.test/q.html?fbclid=1"`, false},
		{"search contains", SearchContains{Param: "u", Value: "14"}, `"https://a.test/q.html?u=14"`, true},
		{"search on non string", SearchContains{Param: "u", Value: "14"}, `14`, false},
		{"envelope", Envelope{FrameID: 0, Result: "https://a.test/"}, `[{"documentId":"D","frameId":0,"result":"https://a.test/"}]`, true},
		{"envelope missing result", Envelope{FrameID: 0, Result: "https://a.test/"}, `[{"documentId":"D","frameId":0}]`, false},
		{"envelope two frames", Envelope{FrameID: 0, Result: "x"}, `[{"documentId":"D","frameId":0,"result":"x"},{"documentId":"E","frameId":1,"result":"x"}]`, false},
		{"envelope bare values", Envelope{FrameID: 0, Result: "x"}, `["x"]`, false},
		{"all", All{SearchExcludes{Param: "fbclid"}, SearchContains{Param: "u", Value: "14"}}, `"https://a.test/?u=14"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.exp.Check(gjson.Parse(tt.got))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCheckExpectationWrapsMismatch(t *testing.T) {
	err := checkExpectation("image width", Equals{Value: 48}, gjson.Parse(`1`))
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "image width", ae.Scenario)
	assert.Equal(t, "48", ae.Want)
	assert.Equal(t, "1", ae.Got)
	assert.Contains(t, err.Error(), "want 48, got 1")

	require.NoError(t, checkExpectation("any", nil, gjson.Result{}))
}
