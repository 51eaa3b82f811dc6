package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProject(t *testing.T) {
	t.Run("snake case record", func(t *testing.T) {
		p, err := DecodeProject(strings.NewReader(`{
			"id": "p1",
			"title": "Harbor North",
			"location": "Bergen",
			"status": "In Progress",
			"progress": 42.0,
			"created_by": "u1",
			"metadata": {"terrain_completed": true}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "p1", p.ID)
		assert.Equal(t, "u1", p.CreatedBy)
		assert.Equal(t, 42, p.Progress)
		assert.True(t, p.Flag(MetaTerrainCompleted))
	})

	t.Run("mongo style record normalizes to the same shape", func(t *testing.T) {
		p, err := DecodeProject(strings.NewReader(`{
			"_id": "p2",
			"title": "Harbor South",
			"createdBy": "u2",
			"status": "Planning",
			"progress": 0
		}`))
		require.NoError(t, err)
		assert.Equal(t, "p2", p.ID)
		assert.Equal(t, "u2", p.CreatedBy)
	})

	t.Run("id wins over _id when both present", func(t *testing.T) {
		p, err := DecodeProject(strings.NewReader(`{"id": "canonical", "_id": "legacy", "title": "x"}`))
		require.NoError(t, err)
		assert.Equal(t, "canonical", p.ID)
	})

	t.Run("progress is clamped to 0..100", func(t *testing.T) {
		p, err := DecodeProject(strings.NewReader(`{"id": "p3", "progress": 250}`))
		require.NoError(t, err)
		assert.Equal(t, 100, p.Progress)
	})

	t.Run("record without any id is rejected", func(t *testing.T) {
		_, err := DecodeProject(strings.NewReader(`{"title": "orphan"}`))
		assert.Error(t, err)
	})
}

func TestDecodeProjectList(t *testing.T) {
	list, err := DecodeProjectList(strings.NewReader(`[
		{"id": "p1", "title": "A"},
		{"title": "no id, dropped"},
		{"_id": "p2", "title": "B"}
	]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p1", list[0].ID)
	assert.Equal(t, "p2", list[1].ID)
}

func TestProjectFlag(t *testing.T) {
	p := &Project{Metadata: map[string]any{
		"a": true,
		"b": "true",
		"c": "1",
		"d": false,
		"e": "no",
		"f": 1,
	}}

	assert.True(t, p.Flag("a"))
	assert.True(t, p.Flag("b"))
	assert.True(t, p.Flag("c"))
	assert.False(t, p.Flag("d"))
	assert.False(t, p.Flag("e"))
	assert.False(t, p.Flag("f"))
	assert.False(t, p.Flag("missing"))

	var nilProject *Project
	assert.False(t, nilProject.Flag("a"))
}
