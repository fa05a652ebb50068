package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 分镜生命周期状态
type SceneStatus string

const (
	ScenePendingPrompts SceneStatus = "pending_prompts" // 分镜已创建，提示词尚未生成
	ScenePendingAssets  SceneStatus = "pending_assets"  // 提示词就绪，可编辑参数后触发生成
	SceneGenerating     SceneStatus = "generating"      // 至少一个素材已提交
	SceneComplete       SceneStatus = "complete"        // 所需素材全部就绪
	SceneFailed         SceneStatus = "failed"          // 某个所需素材失败或超时
)

// GenerationMode selects the video provider for a scene.
type GenerationMode string

const (
	ModeTextToVideo         GenerationMode = "text-to-video"
	ModeImageToVideo        GenerationMode = "image-to-video"
	ModeImageToVideoRealism GenerationMode = "image-to-video-realism"
)

func (m GenerationMode) Valid() bool {
	switch m {
	case ModeTextToVideo, ModeImageToVideo, ModeImageToVideoRealism:
		return true
	}
	return false
}

// NeedsSourceImage reports whether the mode is driven by a source image.
func (m GenerationMode) NeedsSourceImage() bool {
	return m == ModeImageToVideo || m == ModeImageToVideoRealism
}

// AssetType 素材类型
type AssetType string

const (
	AssetVideo     AssetType = "video"
	AssetNarration AssetType = "narration"
	AssetMusic     AssetType = "music"
)

// AllAssetTypes in a stable order.
var AllAssetTypes = []AssetType{AssetVideo, AssetNarration, AssetMusic}

func (a AssetType) Valid() bool {
	switch a {
	case AssetVideo, AssetNarration, AssetMusic:
		return true
	}
	return false
}

var ErrInvalidTransition = errors.New("invalid scene status transition")

// 合法的状态迁移
var sceneTransitions = map[SceneStatus][]SceneStatus{
	ScenePendingPrompts: {ScenePendingAssets, SceneGenerating},
	ScenePendingAssets:  {SceneGenerating},
	SceneGenerating:     {SceneComplete, SceneFailed},
	SceneComplete:       {ScenePendingAssets},
	SceneFailed:         {SceneGenerating, ScenePendingAssets},
}

// CanTransition reports whether a scene may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to SceneStatus) bool {
	if from == to {
		return true
	}
	for _, next := range sceneTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SceneParams 模式相关的生成参数
type SceneParams struct {
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	CameraFixed    bool   `json:"camera_fixed,omitempty"`
	SourceImageURL string `json:"source_image_url,omitempty"`
	EffectSubject  string `json:"effect_subject,omitempty"`
	EffectType     string `json:"effect_type,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

// Value 实现 driver.Valuer
func (p SceneParams) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner
func (p *SceneParams) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
	}
	return json.Unmarshal(bytes, p)
}

type Scene struct {
	ID              string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID       string         `gorm:"index;type:varchar(64)" json:"projectId"`
	Sequence        int            `json:"sequence"`
	Description     string         `gorm:"type:text" json:"description"`
	VideoPrompt     string         `gorm:"type:text" json:"videoPrompt"`
	NarrationScript string         `gorm:"type:text" json:"narrationScript"`
	MusicPrompt     string         `gorm:"type:text" json:"musicPrompt"`
	Mode            GenerationMode `gorm:"type:varchar(32)" json:"mode"`
	Params          SceneParams    `gorm:"type:json" json:"params"`
	VideoURL        *string        `gorm:"type:text" json:"videoUrl"`
	NarrationURL    *string        `gorm:"type:text" json:"narrationUrl"`
	MusicURL        *string        `gorm:"type:text" json:"musicUrl"`
	Status          SceneStatus    `gorm:"type:varchar(32)" json:"status"`
	LastError       string         `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// RequiredAssets returns the asset types this scene must produce before it
// can be complete.
func (s *Scene) RequiredAssets() []AssetType {
	var out []AssetType
	if s.VideoPrompt != "" || s.Mode.NeedsSourceImage() {
		out = append(out, AssetVideo)
	}
	if s.NarrationScript != "" {
		out = append(out, AssetNarration)
	}
	if s.MusicPrompt != "" {
		out = append(out, AssetMusic)
	}
	return out
}

// AssetURL returns the slot for the given asset type (nil while unfilled).
func (s *Scene) AssetURL(a AssetType) *string {
	switch a {
	case AssetVideo:
		return s.VideoURL
	case AssetNarration:
		return s.NarrationURL
	case AssetMusic:
		return s.MusicURL
	}
	return nil
}

// SetAssetURL writes one slot. A nil url clears it.
func (s *Scene) SetAssetURL(a AssetType, url *string) {
	switch a {
	case AssetVideo:
		s.VideoURL = url
	case AssetNarration:
		s.NarrationURL = url
	case AssetMusic:
		s.MusicURL = url
	}
}

// MissingAssets lists required asset types whose slot is still empty.
func (s *Scene) MissingAssets() []AssetType {
	var out []AssetType
	for _, a := range s.RequiredAssets() {
		if s.AssetURL(a) == nil {
			out = append(out, a)
		}
	}
	return out
}

// HasAllRequired is vacuously true for a scene that requires nothing.
func (s *Scene) HasAllRequired() bool {
	return len(s.MissingAssets()) == 0
}

// HasPrompts reports whether the scene has anything to generate from.
func (s *Scene) HasPrompts() bool {
	return s.VideoPrompt != "" || s.NarrationScript != "" || s.MusicPrompt != "" ||
		(s.Mode.NeedsSourceImage() && s.Params.SourceImageURL != "")
}

// DeriveStatus is the single completeness rule. It is applied after every
// patch and only ever moves a scene forward along a legal edge.
func DeriveStatus(s *Scene) SceneStatus {
	switch s.Status {
	case ScenePendingPrompts:
		if s.HasPrompts() {
			return ScenePendingAssets
		}
	case SceneGenerating:
		if s.HasAllRequired() {
			return SceneComplete
		}
	}
	return s.Status
}

// Clone returns a deep copy so callers never share slot pointers with the store.
func (s Scene) Clone() Scene {
	out := s
	for _, a := range AllAssetTypes {
		if u := s.AssetURL(a); u != nil {
			v := *u
			out.SetAssetURL(a, &v)
		}
	}
	return out
}
