package api

import (
	"net/http"

	"SceneForge-server/models"
	"SceneForge-server/service"

	"github.com/gin-gonic/gin"
)

// sceneOf loads the scene and checks it belongs to the project in the path.
func sceneOf(c *gin.Context) (models.Scene, bool) {
	scene, err := svc.Store.Scene(c.Param("scene_id"))
	if err != nil {
		writeError(c, err)
		return models.Scene{}, false
	}
	if scene.ProjectID != c.Param("project_id") {
		writeError(c, service.ErrSceneNotFound)
		return models.Scene{}, false
	}
	return scene, true
}

// 写入分镜：POST /v1/api/projects/:project_id/scenes
func AddScenes(c *gin.Context) {
	var req struct {
		Scenes []service.PlannedScene `json:"scenes" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, s := range req.Scenes {
		if s.Mode != "" && !s.Mode.Valid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown mode " + string(s.Mode)})
			return
		}
	}
	scenes, err := svc.Coordinator.SeedScenes(c.Request.Context(), c.Param("project_id"), req.Scenes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scenes": scenes})
}

// 编辑分镜：生成中的分镜不可编辑
func UpdateScene(c *gin.Context) {
	scene, ok := sceneOf(c)
	if !ok {
		return
	}
	var req struct {
		Description     *string                `json:"description"`
		VideoPrompt     *string                `json:"videoPrompt"`
		NarrationScript *string                `json:"narrationScript"`
		MusicPrompt     *string                `json:"musicPrompt"`
		Mode            *models.GenerationMode `json:"mode"`
		Params          *models.SceneParams    `json:"params"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := svc.Coordinator.EditScene(c.Request.Context(), scene.ID, service.SceneEdit{
		Description:     req.Description,
		VideoPrompt:     req.VideoPrompt,
		NarrationScript: req.NarrationScript,
		MusicPrompt:     req.MusicPrompt,
		Mode:            req.Mode,
		Params:          req.Params,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": updated})
}

// 生成单个分镜的素材；对失败的分镜即为手动重试
func GenerateScene(c *gin.Context) {
	scene, ok := sceneOf(c)
	if !ok {
		return
	}
	updated, err := svc.Coordinator.GenerateAssets(c.Request.Context(), scene.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scene": updated})
}
