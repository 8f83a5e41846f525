package vulkantest

import (
	"errors"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framesync/engine/renderer/vulkan"
)

var ErrSceneFailed = errors.New("scene recording failed")

// Scene records a fixed list of named draws through the fake device.
type Scene struct {
	Device *FakeDevice
	Draws  []string
	// FailNext makes the next n recordings fail after their draws.
	FailNext atomic.Int32

	calls atomic.Int32
}

func NewScene(device *FakeDevice, draws ...string) *Scene {
	return &Scene{Device: device, Draws: draws}
}

func (s *Scene) RecordSceneContent(cmd *vulkan.VulkanCommandBuffer) error {
	s.calls.Add(1)
	for _, d := range s.Draws {
		s.Device.RecordDraw(cmd.Handle, d)
	}
	if s.FailNext.Load() > 0 {
		s.FailNext.Add(-1)
		return ErrSceneFailed
	}
	return nil
}

// Calls returns how many times the scene was recorded.
func (s *Scene) Calls() int {
	return int(s.calls.Load())
}

// Swapchain is a SwapchainProvider with minted images.
type Swapchain struct {
	images []vk.Image
	views  []vk.ImageView
	extent vk.Extent2D
	color  vk.Format
	depth  *vulkan.VulkanImage
}

var _ vulkan.SwapchainProvider = (*Swapchain)(nil)

func NewSwapchain(device *FakeDevice, imageCount uint32, width, height uint32, withDepth bool) *Swapchain {
	sc := &Swapchain{
		extent: vk.Extent2D{Width: width, Height: height},
		color:  vk.FormatB8g8r8a8Unorm,
	}
	sc.Resize(device, imageCount, width, height)
	if withDepth {
		image, view := device.MintImage()
		sc.depth = &vulkan.VulkanImage{Handle: image, View: view, Format: vk.FormatD32Sfloat, Width: width, Height: height}
	}
	return sc
}

// Resize replaces every image, as a swapchain recreation would.
func (sc *Swapchain) Resize(device *FakeDevice, imageCount uint32, width, height uint32) {
	sc.images = make([]vk.Image, imageCount)
	sc.views = make([]vk.ImageView, imageCount)
	for i := range sc.images {
		sc.images[i], sc.views[i] = device.MintImage()
	}
	sc.extent = vk.Extent2D{Width: width, Height: height}
}

// DropViews simulates a provider that lost its image views.
func (sc *Swapchain) DropViews() {
	sc.views = nil
}

func (sc *Swapchain) ImageCount() uint32              { return uint32(len(sc.images)) }
func (sc *Swapchain) Images() []vk.Image              { return sc.images }
func (sc *Swapchain) Views() []vk.ImageView           { return sc.views }
func (sc *Swapchain) ColorFormat() vk.Format          { return sc.color }
func (sc *Swapchain) DepthImage() *vulkan.VulkanImage { return sc.depth }
func (sc *Swapchain) Extent() vk.Extent2D             { return sc.extent }

func (sc *Swapchain) DepthFormat() vk.Format {
	if sc.depth == nil {
		return vk.FormatUndefined
	}
	return sc.depth.Format
}

// Image returns the handle of swapchain image i.
func (sc *Swapchain) Image(i int) vk.Image {
	return sc.images[i]
}
