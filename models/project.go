package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 项目状态
type ProjectStatus string

const (
	ProjectStatusDraft          ProjectStatus = "draft"           // 已创建，尚无分镜
	ProjectStatusPlanningScenes ProjectStatus = "planning_scenes" // 分镜已写入，素材生成进行中
	ProjectStatusAssembling     ProjectStatus = "assembling"      // 拼接任务已异步提交
	ProjectStatusComplete       ProjectStatus = "complete"        // 成片已生成
	ProjectStatusFailed         ProjectStatus = "failed"          // 拼接无法提交
)

// RenderConfig describes how the final video is composed.
type RenderConfig struct {
	Resolution         string  `json:"resolution"`
	Quality            string  `json:"quality"`
	VideoVolume        float64 `json:"video_volume"`
	NarrationVolume    float64 `json:"narration_volume"`
	MusicVolume        float64 `json:"music_volume"`
	TransitionStyle    string  `json:"transition_style"`
	TransitionDuration float64 `json:"transition_duration"`
	SubtitleStyle      string  `json:"subtitle_style"`
}

// DefaultRenderConfig 返回默认的渲染配置
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Resolution:         "1280x720",
		Quality:            "high",
		VideoVolume:        0.2,
		NarrationVolume:    1.0,
		MusicVolume:        0.3,
		TransitionStyle:    "fade",
		TransitionDuration: 0.5,
		SubtitleStyle:      "none",
	}
}

// Value 实现 driver.Valuer: struct -> JSON
func (r RenderConfig) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan 实现 sql.Scanner: JSON -> struct
func (r *RenderConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, r)
}

type Project struct {
	ID             string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Idea           string        `gorm:"type:text" json:"idea"`
	SceneCount     int           `json:"sceneCount"`
	Render         RenderConfig  `gorm:"type:json" json:"render"`
	Status         ProjectStatus `gorm:"type:varchar(32)" json:"status"`
	FinalOutputURL *string       `gorm:"type:text" json:"finalOutputUrl"`
	LastError      string        `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// Clone returns a copy that does not share the final output pointer.
func (p Project) Clone() Project {
	out := p
	if p.FinalOutputURL != nil {
		v := *p.FinalOutputURL
		out.FinalOutputURL = &v
	}
	return out
}
