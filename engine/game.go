package engine

import (
	"github.com/spaghettifunk/framesync/engine/renderer"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
	"github.com/spaghettifunk/framesync/engine/systems"
)

// Game is what an application plugs into the engine. Every hook is optional.
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	State             interface{}

	// Collaborators recorded into every frame.
	Scene       vulkan.SceneRecorder
	Environment vulkan.PassRecorder
	UI          vulkan.PassRecorder

	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type Render func(packet *renderer.RenderPacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
