package council

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
)

func TestCatalog_Builtins(t *testing.T) {
	c := NewCatalog()

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, TemplateStandard, list[0].Name)
	assert.Equal(t, TemplateQuick, list[1].Name)
	assert.Equal(t, TemplateFreeForAll, list[2].Name)

	standard, err := c.Get(TemplateStandard)
	require.NoError(t, err)
	assert.Len(t, standard.Rounds, 6)

	quick, err := c.Get(TemplateQuick)
	require.NoError(t, err)
	require.Len(t, quick.Rounds, 3)
	assert.Equal(t, "Pitch", quick.Rounds[0].Name)
	assert.Equal(t, []int{180, 300, 180}, []int{
		quick.Rounds[0].DurationSeconds, quick.Rounds[1].DurationSeconds, quick.Rounds[2].DurationSeconds,
	})

	ffa, err := c.Get(TemplateFreeForAll)
	require.NoError(t, err)
	assert.True(t, ffa.FreeForAll)
	assert.Empty(t, ffa.Rounds)

	for _, tmpl := range list {
		assert.NoError(t, tmpl.Validate(), tmpl.Name)
	}
}

func TestCatalog_GetReturnsCopy(t *testing.T) {
	c := NewCatalog()
	quick, err := c.Get(TemplateQuick)
	require.NoError(t, err)
	quick.Rounds[0].Name = "mutated"

	again, err := c.Get(TemplateQuick)
	require.NoError(t, err)
	assert.Equal(t, "Pitch", again.Rounds[0].Name)
}

func TestCatalog_Unknown(t *testing.T) {
	_, err := NewCatalog().Get("nope")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	tmpl := model.Template{
		Name:   "retro",
		Rounds: []model.Round{{Name: "Went well", DurationSeconds: 120, Prompt: "What went well?", WrapUpSent: true}},
	}
	got, err := c.Register(tmpl)
	require.NoError(t, err)
	assert.False(t, got.Rounds[0].WrapUpSent, "live flags are never stored")

	list := c.List()
	require.Len(t, list, 4)
	assert.Equal(t, "retro", list[3].Name)

	_, err = c.Register(model.Template{Name: TemplateQuick, Rounds: tmpl.Rounds})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = c.Register(model.Template{Name: TemplateCustom, Rounds: tmpl.Rounds})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = c.Register(model.Template{Name: "broken", Rounds: []model.Round{{Name: "x"}}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCatalog_LoadTemplatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := `templates:
  - name: retro
    description: Sprint retrospective
    rounds:
      - name: Went well
        durationSeconds: 120
        prompt: What went well?
      - name: Improve
        durationSeconds: 180
        prompt: What should change?
        wrapUpPrompt: Pick one change.
  - name: open
    freeForAll: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c := NewCatalog()
	n, err := c.LoadTemplatesFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	retro, err := c.Get("retro")
	require.NoError(t, err)
	require.Len(t, retro.Rounds, 2)
	assert.Equal(t, "Pick one change.", retro.Rounds[1].WrapUpPrompt)

	open, err := c.Get("open")
	require.NoError(t, err)
	assert.True(t, open.FreeForAll)
}

func TestCatalog_LoadTemplatesFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - name: bad\n"), 0o600))

	_, err := NewCatalog().LoadTemplatesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "templates[0]")

	_, err = NewCatalog().LoadTemplatesFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
