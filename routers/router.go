package routers

import (
	"SceneForge-server/routers/api"
	"SceneForge-server/service"

	"github.com/gin-gonic/gin"
)

func InitRouter(s *api.Services, metrics *service.Metrics) *gin.Engine {
	api.Init(s)
	r := gin.New()
	r.Use(gin.Recovery())
	if gin.Mode() != gin.TestMode {
		r.Use(gin.Logger())
	}
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", api.CreateProject)
		v1.GET("/projects/:project_id", api.GetProject)
		v1.POST("/projects/:project_id/scenes", api.AddScenes)
		v1.PUT("/projects/:project_id/scenes/:scene_id", api.UpdateScene)
		v1.POST("/projects/:project_id/scenes/:scene_id/generate", api.GenerateScene)
		v1.POST("/projects/:project_id/generate", api.GenerateProject)
		v1.GET("/projects/:project_id/ready", api.GetReady)
		v1.POST("/projects/:project_id/stitch", api.StitchProject)
		v1.POST("/projects/:project_id/stitch/complete", api.CompleteStitch)
		v1.GET("/projects/:project_id/events/wss", api.ProjectEventsWebSocket)
		v1.GET("/jobs", api.ListJobs)
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}
