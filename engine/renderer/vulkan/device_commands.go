//go:build !windows

package vulkan

/*
#cgo linux freebsd LDFLAGS: -ldl

#include <dlfcn.h>
#include <stdlib.h>
#include <stddef.h>
#include <stdint.h>

typedef void (*fsVoidFunction)(void);
typedef fsVoidFunction (*fsGetDeviceProcAddr)(void* device, const char* name);
typedef void (*fsCmdBeginRendering)(void* cmd, const void* info);
typedef void (*fsCmdEndRendering)(void* cmd);
typedef int32_t (*fsWaitSemaphores)(void* device, const void* info, uint64_t timeout);
typedef int32_t (*fsGetSemaphoreCounterValue)(void* device, void* semaphore, uint64_t* value);

static void* fsGetDeviceProcAddrLoader(void) {
	static const char* names[] = {
		"libvulkan.so.1",
		"libvulkan.so",
		"libvulkan.1.dylib",
		"libMoltenVK.dylib",
	};
	for (size_t i = 0; i < sizeof(names) / sizeof(names[0]); i++) {
		void* lib = dlopen(names[i], RTLD_NOW | RTLD_LOCAL);
		if (lib != NULL) {
			void* fn = dlsym(lib, "vkGetDeviceProcAddr");
			if (fn != NULL) {
				return fn;
			}
		}
	}
	return NULL;
}

static void* fsResolve(void* loader, void* device, const char* name) {
	return (void*)((fsGetDeviceProcAddr)loader)(device, name);
}

static void fsCallCmdBeginRendering(void* fn, void* cmd, const void* info) {
	((fsCmdBeginRendering)fn)(cmd, info);
}

static void fsCallCmdEndRendering(void* fn, void* cmd) {
	((fsCmdEndRendering)fn)(cmd);
}

static int32_t fsCallWaitSemaphores(void* fn, void* device, const void* info, uint64_t timeout) {
	return ((fsWaitSemaphores)fn)(device, info, timeout);
}

static int32_t fsCallGetSemaphoreCounterValue(void* fn, void* device, void* semaphore, uint64_t* value) {
	return ((fsGetSemaphoreCounterValue)fn)(device, semaphore, value);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

var (
	procAddrOnce   sync.Once
	procAddrLoader unsafe.Pointer
)

// deviceCommands holds the Vulkan 1.2/1.3 entry points the bindings do not
// wrap: dynamic rendering and timeline semaphore host access.
type deviceCommands struct {
	device                   vk.Device
	cmdBeginRendering        unsafe.Pointer
	cmdEndRendering          unsafe.Pointer
	waitSemaphores           unsafe.Pointer
	getSemaphoreCounterValue unsafe.Pointer
}

// loadDeviceCommands resolves the entry points for device through
// vkGetDeviceProcAddr, accepting the KHR aliases on older drivers.
func loadDeviceCommands(device vk.Device) (*deviceCommands, error) {
	if device == nil {
		return nil, fmt.Errorf("no logical device to resolve commands for")
	}
	procAddrOnce.Do(func() {
		procAddrLoader = C.fsGetDeviceProcAddrLoader()
	})
	if procAddrLoader == nil {
		return nil, fmt.Errorf("vkGetDeviceProcAddr not found in the Vulkan loader")
	}

	dc := &deviceCommands{device: device}
	entries := []struct {
		target *unsafe.Pointer
		names  []string
	}{
		{&dc.cmdBeginRendering, []string{"vkCmdBeginRendering", "vkCmdBeginRenderingKHR"}},
		{&dc.cmdEndRendering, []string{"vkCmdEndRendering", "vkCmdEndRenderingKHR"}},
		{&dc.waitSemaphores, []string{"vkWaitSemaphores", "vkWaitSemaphoresKHR"}},
		{&dc.getSemaphoreCounterValue, []string{"vkGetSemaphoreCounterValue", "vkGetSemaphoreCounterValueKHR"}},
	}
	for _, e := range entries {
		for _, name := range e.names {
			if fn := dc.resolve(name); fn != nil {
				*e.target = fn
				break
			}
		}
		if *e.target == nil {
			return nil, fmt.Errorf("device does not expose %s", e.names[0])
		}
	}
	return dc, nil
}

func (dc *deviceCommands) resolve(name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.fsResolve(procAddrLoader, unsafe.Pointer(dc.device), cname)
}

func (dc *deviceCommands) CmdBeginRendering(cmd vk.CommandBuffer, info *vk.RenderingInfo) {
	ref, _ := info.PassRef()
	defer info.Free()
	C.fsCallCmdBeginRendering(dc.cmdBeginRendering, unsafe.Pointer(cmd), unsafe.Pointer(ref))
}

func (dc *deviceCommands) CmdEndRendering(cmd vk.CommandBuffer) {
	C.fsCallCmdEndRendering(dc.cmdEndRendering, unsafe.Pointer(cmd))
}

func (dc *deviceCommands) WaitSemaphores(info *vk.SemaphoreWaitInfo, timeoutNs uint64) vk.Result {
	ref, _ := info.PassRef()
	defer info.Free()
	return vk.Result(C.fsCallWaitSemaphores(dc.waitSemaphores, unsafe.Pointer(dc.device), unsafe.Pointer(ref), C.uint64_t(timeoutNs)))
}

func (dc *deviceCommands) GetSemaphoreCounterValue(semaphore vk.Semaphore, value *uint64) vk.Result {
	var v C.uint64_t
	res := vk.Result(C.fsCallGetSemaphoreCounterValue(dc.getSemaphoreCounterValue, unsafe.Pointer(dc.device), unsafe.Pointer(semaphore), &v))
	*value = uint64(v)
	return res
}
