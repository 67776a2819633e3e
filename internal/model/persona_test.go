package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
)

func TestValidateRole_Valid(t *testing.T) {
	valid := []string{
		"strategist",
		"devils-advocate",
		"ux_lead",
		"a1",
		"a" + strings.Repeat("b", 63),
	}
	for _, role := range valid {
		require.NoError(t, model.ValidateRole(role), "expected valid: %q", role)
	}
}

func TestValidateRole_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"Strategist",
		"1st",
		"../etc",
		"a/b",
		"has space",
		"a" + strings.Repeat("b", 64),
		model.HumanAuthor,
		model.SystemAuthor,
	}
	for _, role := range invalid {
		assert.Error(t, model.ValidateRole(role), "expected invalid: %q", role)
	}
}

func TestPersonaValidate_MissingFields(t *testing.T) {
	p := model.Persona{Role: "skeptic", Name: "Skeptic"}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emoji")
	assert.Contains(t, err.Error(), "model")
	assert.Contains(t, err.Error(), "coreIdentity")
	assert.NotContains(t, err.Error(), "name,")
}

func TestPersonaValidate_Complete(t *testing.T) {
	p := model.Persona{
		Role:         "skeptic",
		Name:         "The Skeptic",
		Emoji:        "🧐",
		Model:        "sonnet",
		CoreIdentity: "Questions every assumption.",
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, "The Skeptic", p.DisplayName())
	assert.Equal(t, "skeptic", model.Persona{Role: "skeptic"}.DisplayName())
}

func TestTemplateValidate(t *testing.T) {
	good := model.Template{
		Name: "sprint",
		Rounds: []model.Round{
			{Name: "Kickoff", DurationSeconds: 60, Prompt: "State the goal."},
		},
	}
	require.NoError(t, good.Validate())

	noRounds := model.Template{Name: "empty"}
	assert.Error(t, noRounds.Validate())

	badRound := model.Template{
		Name:   "bad",
		Rounds: []model.Round{{Name: "Kickoff", Prompt: "x"}},
	}
	err := badRound.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rounds[0]")
	assert.Contains(t, err.Error(), "durationSeconds")

	ffa := model.Template{Name: "open", FreeForAll: true}
	require.NoError(t, ffa.Validate())
}

func TestSessionConfigValidate(t *testing.T) {
	assert.Error(t, model.SessionConfig{}.Validate(), "no rounds and not free-for-all")
	require.NoError(t, model.SessionConfig{FreeForAll: true}.Validate())
	assert.Error(t, model.SessionConfig{
		FreeForAll: true,
		Rounds:     []model.Round{{Name: "x", DurationSeconds: 1, Prompt: "p"}},
	}.Validate())
	assert.Error(t, model.SessionConfig{
		FreeForAll: true,
		Roles:      []string{"Bad Role"},
	}.Validate())
}
