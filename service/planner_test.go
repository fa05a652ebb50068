package service

import (
	"testing"

	"SceneForge-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	wrapped := `{"scenes":[{"description":"dawn","videoPrompt":"sun rises","narrationScript":"Morning.","musicPrompt":""}]}`
	scenes, err := ParsePlan(wrapped)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "sun rises", scenes[0].VideoPrompt)

	fenced := "```json\n[{\"description\":\"a\"},{\"description\":\"b\",\"mode\":\"image-to-video\"}]\n```"
	scenes, err = ParsePlan(fenced)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, models.ModeImageToVideo, scenes[1].Mode)

	_, err = ParsePlan(`{"scenes":[]}`)
	assert.Error(t, err)

	_, err = ParsePlan("not json")
	assert.Error(t, err)
}

func TestPlannedSceneToScene(t *testing.T) {
	sc := PlannedScene{Description: "d", VideoPrompt: "v", NarrationScript: "n"}.Scene()
	assert.Equal(t, "d", sc.Description)
	assert.Equal(t, []models.AssetType{models.AssetVideo, models.AssetNarration}, sc.RequiredAssets())
}

func TestNewOpenAIPlannerRequiresKey(t *testing.T) {
	_, err := NewOpenAIPlanner(OpenAIPlannerConfig{}, nil)
	assert.Error(t, err)

	p, err := NewOpenAIPlanner(OpenAIPlannerConfig{APIKey: "sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.model)
}
