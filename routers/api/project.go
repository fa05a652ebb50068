package api

import (
	"net/http"

	"SceneForge-server/models"
	"SceneForge-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 创建项目：POST /v1/api/projects
func CreateProject(c *gin.Context) {
	var req struct {
		Idea       string                 `json:"idea" binding:"required"`
		SceneCount int                    `json:"scene_count"`
		Render     *models.RenderConfig   `json:"render"`
		Plan       bool                   `json:"plan"`
		Scenes     []service.PlannedScene `json:"scenes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SceneCount <= 0 {
		req.SceneCount = 5
	}
	render := models.DefaultRenderConfig()
	if req.Render != nil {
		render = *req.Render
	}

	project, err := svc.Store.CreateProject(c.Request.Context(), models.Project{
		Idea:       req.Idea,
		SceneCount: req.SceneCount,
		Render:     render,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"project_id": project.ID}
	switch {
	case len(req.Scenes) > 0:
		scenes, err := svc.Coordinator.SeedScenes(c.Request.Context(), project.ID, req.Scenes)
		if err != nil {
			writeError(c, err)
			return
		}
		resp["scenes"] = scenes
	case req.Plan:
		scenes, err := svc.Coordinator.PlanStoryboard(c.Request.Context(), project.ID)
		if err != nil {
			// 项目已创建，分镜可稍后通过 /scenes 补充
			svc.Logger.Warn("storyboard planning failed", zap.String("project_id", project.ID), zap.Error(err))
			resp["plan_error"] = err.Error()
		} else {
			resp["scenes"] = scenes
		}
	}
	if p, err := svc.Store.Project(project.ID); err == nil {
		resp["project"] = p
	}
	c.JSON(http.StatusCreated, resp)
}

// 获取项目详情：项目、按顺序排列的分镜与拼接就绪状态
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := svc.Store.Project(projectID)
	if err != nil {
		writeError(c, err)
		return
	}
	scenes, err := svc.Store.Scenes(projectID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project": project,
		"scenes":  scenes,
		"ready":   service.IsReady(scenes),
	})
}

// 批量生成：POST /v1/api/projects/:project_id/generate
func GenerateProject(c *gin.Context) {
	projectID := c.Param("project_id")
	started, err := svc.Coordinator.GenerateAll(c.Request.Context(), projectID)
	if err != nil && started == nil {
		if _, perr := svc.Store.Project(projectID); perr != nil {
			writeError(c, perr)
			return
		}
	}
	resp := gin.H{
		"project_id": projectID,
		"started":    started,
	}
	if err != nil {
		resp["errors"] = err.Error()
	}
	c.JSON(http.StatusAccepted, resp)
}

func GetReady(c *gin.Context) {
	ready, err := svc.Gate.Ready(c.Param("project_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

// 拼接成片：仅当全部分镜完成时允许
func StitchProject(c *gin.Context) {
	project, err := svc.Gate.Stitch(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if project.Status == models.ProjectStatusAssembling {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"project": project})
}

// 拼接回调：由拼接 worker 回报结果
func CompleteStitch(c *gin.Context) {
	var req struct {
		FinalURL string `json:"final_url"`
		Error    string `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FinalURL == "" && req.Error == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "final_url or error is required"})
		return
	}
	project, err := svc.Gate.CompleteStitch(c.Request.Context(), c.Param("project_id"), req.FinalURL, req.Error)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}
