package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dnrharness/pkg/browser"
)

func TestManagerTracksTabs(t *testing.T) {
	m := NewManager(nil)
	m.Add(OpenTab{ID: 3, URL: "https://b.test/", Scenario: "b"})
	m.Add(OpenTab{ID: 1, URL: "https://a.test/", Scenario: "a"})

	got, ok := m.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", got.Scenario)
	assert.False(t, got.OpenedAt.IsZero())

	list := m.List()
	assert.Equal(t, []browser.TabID{1, 3}, []browser.TabID{list[0].ID, list[1].ID})

	m.Delete(1)
	m.Delete(42)
	assert.Equal(t, 1, m.Len())
	_, ok = m.Get(1)
	assert.False(t, ok)
}
