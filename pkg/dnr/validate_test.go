package dnr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{
			name: "block with anchored filter",
			rule: Block(1, 1, Condition{URLFilter: "||bad.third-party.site/*"}),
		},
		{
			name:    "zero id",
			rule:    Block(0, 1, Condition{URLFilter: "x"}),
			wantErr: true,
		},
		{
			name:    "url and regex filter together",
			rule:    Block(1, 1, Condition{URLFilter: "x", RegexFilter: "y"}),
			wantErr: true,
		},
		{
			name: "allowAllRequests on main frame",
			rule: AllowAllRequests(2, 2, Condition{URLFilter: "||privacy-test-pages.glitch.me/", ResourceTypes: []ResourceType{MainFrame}}),
		},
		{
			name:    "allowAllRequests without resource types",
			rule:    AllowAllRequests(2, 2, Condition{URLFilter: "x"}),
			wantErr: true,
		},
		{
			name:    "allowAllRequests on script",
			rule:    AllowAllRequests(2, 2, Condition{ResourceTypes: []ResourceType{Script}}),
			wantErr: true,
		},
		{
			name: "redirect to extension path",
			rule: RedirectToExtension(3, 2, "/images/icon-48.png", Condition{URLFilter: "||facebook.com/tr"}),
		},
		{
			name:    "redirect to relative extension path",
			rule:    RedirectToExtension(3, 2, "images/icon-48.png", Condition{}),
			wantErr: true,
		},
		{
			name:    "redirect without target",
			rule:    Rule{ID: 3, Action: Action{Type: ActionRedirect, Redirect: &Redirect{}}},
			wantErr: true,
		},
		{
			name: "query transform",
			rule: RemoveQueryParams(5, 2, []string{"fbclid"}, Condition{ResourceTypes: []ResourceType{MainFrame}}),
		},
		{
			name: "set request header",
			rule: SetRequestHeader(5, 6, "Sec-GPC", "1", Condition{ResourceTypes: []ResourceType{MainFrame, SubFrame}}),
		},
		{
			name:    "set header without value",
			rule:    SetRequestHeader(5, 6, "Sec-GPC", "", Condition{}),
			wantErr: true,
		},
		{
			name: "remove header with value",
			rule: Rule{ID: 6, Action: Action{
				Type:           ActionModifyHeaders,
				RequestHeaders: []HeaderInfo{{Header: "Cookie", Operation: HeaderRemove, Value: "x"}},
			}},
			wantErr: true,
		},
		{
			name:    "unknown action",
			rule:    Rule{ID: 7, Action: Action{Type: "teleport"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRule))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateBatchRejectsDuplicateIDs(t *testing.T) {
	err := ValidateBatch([]Rule{
		Block(1, 1, Condition{URLFilter: "a"}),
		Block(1, 1, Condition{URLFilter: "b"}),
	})
	require.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "duplicate id 1")
}

func TestRuleJSONMatchesExtensionAPI(t *testing.T) {
	r := RemoveQueryParams(5, 2, []string{"fbclid"}, Condition{
		URLFilter:     "||privacy-test-pages.glitch.me/*",
		ResourceTypes: []ResourceType{MainFrame},
	})
	b, err := json.Marshal(r)
	require.NoError(t, err)

	doc := gjson.ParseBytes(b)
	assert.Equal(t, int64(5), doc.Get("id").Int())
	assert.Equal(t, "redirect", doc.Get("action.type").String())
	assert.Equal(t, "fbclid", doc.Get("action.redirect.transform.queryTransform.removeParams.0").String())
	assert.Equal(t, "main_frame", doc.Get("condition.resourceTypes.0").String())
	assert.False(t, doc.Get("condition.requestDomains").Exists())
	assert.False(t, doc.Get("action.requestHeaders").Exists())
}

func TestEffectivePriorityDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, Rule{ID: 1}.EffectivePriority())
	assert.Equal(t, 6, Rule{ID: 1, Priority: 6}.EffectivePriority())
	assert.Equal(t, []int{1, 2}, IDs([]Rule{{ID: 1}, {ID: 2}}))
}
