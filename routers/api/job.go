package api

import (
	"net/http"
	"time"

	"SceneForge-server/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 查询轮询中的任务：GET /v1/api/jobs?project_id=
func ListJobs(c *gin.Context) {
	projectID := c.Query("project_id")
	jobs := svc.Poller.Active()
	out := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		if projectID != "" && j.ProjectID != projectID {
			continue
		}
		out = append(out, j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out, "total": len(out)})
}

// 项目事件 WebSocket 推送：先推送当前分镜快照，再转发编排事件
func ProjectEventsWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	// 先订阅再取快照，避免丢失两者之间发布的事件
	events, unsubscribe := svc.Hub.Subscribe(projectID, 64)
	defer unsubscribe()
	scenes, err := svc.Store.Scenes(projectID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		svc.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(gin.H{"type": "snapshot", "scenes": scenes}); err != nil {
		return
	}

	// 读协程只负责处理 pong 与关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
