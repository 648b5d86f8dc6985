package function

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() Definition {
	return Definition{
		Name:     "Fibonacci Generator",
		Language: LanguagePython,
		Handler:  "handler",
		Code:     "def handler(event):\n    return event\n",
	}
}

func TestStoreSave(t *testing.T) {
	t.Run("CreateAssignsSlugIDAndTimestamps", func(t *testing.T) {
		store := NewStore()

		saved, err := store.Save(validDefinition())
		require.NoError(t, err)
		assert.Equal(t, "fibonacci-generator", saved.ID)
		assert.Equal(t, "handler", saved.Handler)
		assert.NotZero(t, saved.CreatedAt)
		assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)
		assert.Equal(t, DefaultTimeoutSec, saved.Limits.TimeoutSec)
	})

	t.Run("UpdatePreservesCreatedAt", func(t *testing.T) {
		store := NewStore()

		first, err := store.Save(validDefinition())
		require.NoError(t, err)

		updated := validDefinition()
		updated.Code = "def handler(event):\n    return 42\n"
		second, err := store.Save(updated)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)
	})

	t.Run("DefaultsEmptyHandler", func(t *testing.T) {
		store := NewStore()
		def := validDefinition()
		def.Handler = ""

		saved, err := store.Save(def)
		require.NoError(t, err)
		assert.Equal(t, "handler", saved.Handler)
	})

	t.Run("RejectsEmptyName", func(t *testing.T) {
		store := NewStore()
		def := validDefinition()
		def.Name = ""

		_, err := store.Save(def)
		require.Error(t, err)
	})

	t.Run("RejectsInvalidLanguage", func(t *testing.T) {
		store := NewStore()
		def := validDefinition()
		def.Language = "cobol"

		_, err := store.Save(def)
		require.Error(t, err)
	})
}

func TestStoreLookupAndDelete(t *testing.T) {
	store := NewStore()
	saved, err := store.Save(validDefinition())
	require.NoError(t, err)

	got, ok := store.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, saved, got)

	list := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, saved.ID, list[0].ID)

	assert.True(t, store.Delete(saved.ID))
	assert.False(t, store.Delete(saved.ID))

	_, ok = store.Get(saved.ID)
	assert.False(t, ok)
}
