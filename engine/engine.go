package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/framesync/engine/config"
	"github.com/spaghettifunk/framesync/engine/core"
	"github.com/spaghettifunk/framesync/engine/renderer"
	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
	"github.com/spaghettifunk/framesync/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot-complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	default:
		return "shutting-down"
	}
}

// ImageAcquirer hands out the swapchain image to render the next frame into.
type ImageAcquirer interface {
	AcquireNextImage() (uint32, error)
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    bool
	isSuspended  bool
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     float64

	device           vulkan.Device
	queueFamilyIndex uint32
	swapchain        vulkan.SwapchainProvider

	config  *config.Config
	watcher *config.Watcher
	// Written by the watcher goroutine, applied on the render thread.
	reloadMutex   sync.Mutex
	pendingConfig *config.Config

	events        *core.EventSystem
	metrics       *core.Metrics
	backend       *vulkan.VulkanRenderer
	renderer      *renderer.Renderer
	systemManager *systems.SystemManager
}

// New creates an engine rendering through device into the images of swapchain.
// Window and device creation belong to the caller.
func New(g *Game, device vulkan.Device, queueFamilyIndex uint32, swapchain vulkan.SwapchainProvider) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("engine needs a game with an application config")
	}
	if device == nil || swapchain == nil {
		return nil, fmt.Errorf("engine needs a device and a swapchain")
	}
	return &Engine{
		currentStage:     EngineStageUninitialized,
		gameInstance:     g,
		clock:            core.NewClock(),
		width:            g.ApplicationConfig.StartWidth,
		height:           g.ApplicationConfig.StartHeight,
		device:           device,
		queueFamilyIndex: queueFamilyIndex,
		swapchain:        swapchain,
		events:           core.NewEventSystem(),
		metrics:          core.NewMetrics(),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting
	cfg := config.Default()
	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			core.LogError(err.Error())
			return err
		}
		cfg = loaded
	}
	e.config = cfg
	core.SetLogLevel(cfg.Level())

	e.backend = vulkan.New(e.device, e.queueFamilyIndex, e.swapchain, cfg.Renderer, e.events, e.metrics)
	e.backend.SetScene(e.gameInstance.Scene)
	e.backend.SetEnvironmentPass(e.gameInstance.Environment)
	e.backend.SetUIPass(e.gameInstance.UI)
	e.renderer = renderer.NewRenderer(e.backend, e.metrics)

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	if err := e.renderer.Initialize(); err != nil {
		return err
	}
	sm, err := systems.NewSystemManager(e.backend)
	if err != nil {
		return err
	}
	if err := sm.Initialize(); err != nil {
		return err
	}
	e.systemManager = sm
	e.gameInstance.SystemManager = sm

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		w, err := config.NewWatcher(path, cfg, e.onConfigReload)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			w.Close()
			return err
		}
		e.watcher = w
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.isRunning = true
	e.clock.Start()
	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized (%s)", e.gameInstance.ApplicationConfig.Name, e.backend)
	return nil
}

// Run draws frames until the application quits or acquiring an image fails.
func (e *Engine) Run(acquirer ImageAcquirer) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run in stage %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		imageIndex, err := acquirer.AcquireNextImage()
		if err != nil {
			if errors.Is(err, core.ErrSwapchainBooting) {
				continue
			}
			core.LogError("failed to acquire swapchain image: %s", err)
			return err
		}
		if err := e.Frame(imageIndex); err != nil {
			return err
		}
	}
	return nil
}

// Frame runs one iteration of the frame loop for imageIndex: pending config,
// game hooks, record and submit, completed tasks, texture streaming and the
// idle sweep of the timeline pool. A dropped frame is not an error here.
func (e *Engine) Frame(imageIndex uint32) error {
	e.applyPendingConfig()
	if e.isSuspended {
		return nil
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	packet := &renderer.RenderPacket{DeltaTime: delta, ImageIndex: imageIndex}

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down.")
			e.isRunning = false
			return err
		}
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(packet, delta); err != nil {
			core.LogError("Game render failed, shutting down.")
			e.isRunning = false
			return err
		}
	}

	if err := e.renderer.DrawFrame(packet); err != nil {
		switch core.ResultOf(err) {
		case core.ResultFrameDropped:
			core.LogDebug("frame for image %d dropped: %s", imageIndex, err)
		case core.ResultDegraded, core.ResultAdvisory:
			core.LogWarn("frame for image %d: %s", imageIndex, err)
		default:
			core.LogError("frame for image %d failed: %s", imageIndex, err)
			e.isRunning = false
			return err
		}
	}

	if err := e.systemManager.Update(); err != nil {
		core.LogWarn("system update: %s", err)
	}
	e.renderer.Maintain()

	e.lastTime = currentTime
	return nil
}

// OnResize is called once the swapchain has been recreated for the new size.
// A zero dimension suspends the engine until the next non-zero resize.
func (e *Engine) OnResize(width, height uint32) {
	if width == e.width && height == e.height && !e.isSuspended {
		return
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	// The backend listens for this and resets its images in flight.
	e.events.Fire(core.EVENT_CODE_SWAPCHAIN_RECREATED, e, core.EventContext{
		U32: [4]uint32{e.swapchain.ImageCount(), width, height},
	})
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("failed to close config watcher: %s", err)
		}
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError(err.Error())
		}
	}
	if e.systemManager != nil {
		if err := e.systemManager.Shutdown(); err != nil {
			return err
		}
	}
	if e.renderer != nil {
		if err := e.renderer.Shutdown(); err != nil {
			return err
		}
	}
	e.events.Shutdown()
	return nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) IsRunning() bool {
	return e.isRunning
}

func (e *Engine) IsSuspended() bool {
	return e.isSuspended
}

func (e *Engine) Events() *core.EventSystem {
	return e.events
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Backend() *vulkan.VulkanRenderer {
	return e.backend
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onConfigReload(cfg *config.Config) {
	e.reloadMutex.Lock()
	e.pendingConfig = cfg
	e.reloadMutex.Unlock()
}

func (e *Engine) applyPendingConfig() {
	e.reloadMutex.Lock()
	cfg := e.pendingConfig
	e.pendingConfig = nil
	e.reloadMutex.Unlock()
	if cfg == nil {
		return
	}
	e.ApplyConfig(cfg)
}

// ApplyConfig switches to cfg on the render thread and announces it.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	core.SetLogLevel(cfg.Level())
	if err := e.backend.ApplyConfig(cfg.Renderer); err != nil {
		core.LogWarn("renderer config not applied: %s", err)
	}
	e.config = cfg
	e.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, core.EventContext{Payload: cfg})
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT recieved, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}
