// Package gpuengine defines the GPU offload seam for the sieve engine. No
// backend ships with a real kernel; Noop satisfies the interface so the
// sieve engine can run GPU-aware code paths unconditionally and simply
// never schedule GPU workers when no backend reports itself available.
package gpuengine

import (
	"errors"
	"math/big"

	"github.com/jaypipes/ghw"
)

// Gap is a raw candidate gap reported by a backend, pending the same
// primality verification CPU-found gaps go through.
type Gap struct {
	Start   *big.Int
	GapSize uint32
}

// Backend mirrors GapcoinMiner's GPU hooks: segment sieving and gap
// extraction happen device-side, with the host only verifying results.
type Backend interface {
	IsAvailable() bool
	SieveSegment(adderBase *big.Int, segment []byte) error
	FindGaps(adderBase *big.Int, segment []byte, minGapSize uint32) ([]Gap, error)
	RequestStop()
	IsStopRequested() bool
}

var errNoBackend = errors.New("gpuengine: no GPU backend available")

type noopBackend struct{}

// Noop returns a Backend that is always unavailable, matching the
// reference miner's default EnableGpu/IsGpuAvailable behavior on hosts
// without a configured device.
func Noop() Backend { return noopBackend{} }

func (noopBackend) IsAvailable() bool { return false }

func (noopBackend) SieveSegment(*big.Int, []byte) error {
	return errNoBackend
}

func (noopBackend) FindGaps(*big.Int, []byte, uint32) ([]Gap, error) {
	return nil, errNoBackend
}

func (noopBackend) RequestStop() {}

func (noopBackend) IsStopRequested() bool { return true }

// Device describes one enumerated GPU, for the listgpudevices RPC.
type Device struct {
	Index  int
	Vendor string
	Name   string
}

// ListDevices enumerates GPUs visible to the host via ghw's GPU inspector.
// It never fails the caller: enumeration errors surface as a nil slice
// plus the returned error, letting the RPC layer report an empty device
// list rather than aborting.
func ListDevices() ([]Device, error) {
	info, err := ghw.GPU()
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(info.GraphicsCards))
	for i, card := range info.GraphicsCards {
		d := Device{Index: i}
		if card.DeviceInfo != nil {
			d.Vendor = card.DeviceInfo.Vendor.Name
			d.Name = card.DeviceInfo.Product.Name
		}
		devices = append(devices, d)
	}
	return devices, nil
}
