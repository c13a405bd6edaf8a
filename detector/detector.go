// Package detector reports what every registered compute backend offers on
// this machine.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/gpu"
)

/* ---------- public API ---------- */

// Report is a portable summary of the backends and their capabilities.
type Report struct {
	WhenISO string            `json:"when_iso"`
	Runtime string            `json:"runtime"`
	Devices []Device          `json:"devices"`
	Env     map[string]string `json:"env,omitempty"`
}

// Device is one backend's acquisition result.
type Device struct {
	Backend   string              `json:"backend"`
	Available bool                `json:"available"`
	Error     string              `json:"error,omitempty"`
	Info      *compute.DeviceInfo `json:"info,omitempty"`
	Adapter   *Adapter            `json:"adapter,omitempty"`
}

// Adapter carries the WebGPU adapter details behind the webgpu backend.
type Adapter struct {
	AdapterType string          `json:"adapter_type"`
	VendorID    string          `json:"vendor_id_hex"`
	DeviceID    string          `json:"device_id_hex"`
	Driver      string          `json:"driver"`
	Recommended Recommendations `json:"recommended"`
	Limits      Limits          `json:"limits"`
	Features    []string        `json:"features"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Largest 1D work-group the adapter runs.
	WorkgroupX uint32 `json:"workgroup_x"`
	// Largest element count one dispatch of WorkgroupX groups can cover.
	MaxElements uint64 `json:"max_elements"`
	// Soft budget in bytes for staging and device buffers.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// BudgetEnv overrides the recommended buffer budget, in MiB.
const BudgetEnv = "SAXPY_BUDGET_MB"

// DetectJSON runs Detect and returns the indented JSON.
func DetectJSON(backends []string, opts compute.Options) (string, error) {
	b, err := json.MarshalIndent(Detect(backends, opts), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect acquires each backend in turn, records what it reports and
// releases it again. An empty list checks every registered backend.
func Detect(backends []string, opts compute.Options) *Report {
	if len(backends) == 0 {
		backends = compute.Backends()
	}
	rep := &Report{
		WhenISO: time.Now().UTC().Format(time.RFC3339),
		Runtime: detectRuntime(),
		Env:     pickEnv([]string{BudgetEnv}),
	}
	for _, name := range backends {
		d := Device{Backend: name}
		h, err := compute.Acquire(name, opts)
		if err != nil {
			d.Error = err.Error()
			rep.Devices = append(rep.Devices, d)
			continue
		}
		info := h.Info()
		d.Available, d.Info = true, &info
		h.Release()

		if name == "webgpu" {
			if a, err := queryAdapter(opts.Debug); err == nil {
				d.Adapter = a
			} else {
				d.Error = err.Error()
			}
		}
		rep.Devices = append(rep.Devices, d)
	}
	return rep
}

func queryAdapter(debug bool) (*Adapter, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := gpu.RequestAdapter(inst, debug)
	if err != nil {
		return nil, err
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	wgX := chooseWorkgroup(limits.Limits)
	return &Adapter{
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
			MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
			MaxBufferSize:                     limits.Limits.MaxBufferSize,
		},
		Features: feats,
		Recommended: Recommendations{
			WorkgroupX:  wgX,
			MaxElements: maxElements(limits.Limits, wgX),
			BudgetBytes: budget(),
		},
	}, nil
}

/* ---------- helpers ---------- */

func chooseWorkgroup(l wgpu.Limits) uint32 {
	for _, c := range []uint32{1024, 512, 256, 128, 64, 32, 16, 8, 4, 2} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// maxElements is bounded by the dispatch grid and by the storage binding
// size of one float32 buffer.
func maxElements(l wgpu.Limits, wgX uint32) uint64 {
	n := uint64(wgX) * uint64(l.MaxComputeWorkgroupsPerDimension)
	if b := l.MaxStorageBufferBindingSize / compute.ElementSize; b < n {
		n = b - b%uint64(wgX)
	}
	return n
}

func budget() uint64 {
	b := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			b = uint64(mb) * 1024 * 1024
		}
	}
	return b
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
