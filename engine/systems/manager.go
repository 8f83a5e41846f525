package systems

import (
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
)

type SystemManager struct {
	textureSystem *TextureStreamingSystem
}

// NewSystemManager builds the systems layered on top of an initialized
// renderer backend.
func NewSystemManager(backend *vulkan.VulkanRenderer) (*SystemManager, error) {
	ts, err := NewTextureStreamingSystem(&TextureStreamingConfig{
		MaxTextureCount:   1000,
		MaxPendingUploads: 256,
	}, backend)
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		textureSystem: ts,
	}, nil
}

func (sm *SystemManager) Initialize() error {
	return sm.textureSystem.Initialize()
}

// Update runs once per frame, after the frame has been submitted.
func (sm *SystemManager) Update() error {
	return sm.textureSystem.Update()
}

func (sm *SystemManager) TextureSystem() *TextureStreamingSystem {
	return sm.textureSystem
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.textureSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
