// Package virtio implements only the bus-visible register surface of
// a VirtIO MMIO transport (version-2 layout): the magic/version/
// device-id/vendor-id identification block, queue selection and
// notification, the interrupt-status/ack pair, and the device status
// register. spec.md §1 explicitly scopes the actual block/9P device
// semantics to an external collaborator; this package gives the
// platform "one or more VirtIO transports" (spec.md §1) a real,
// bus-addressable presence without hosting a backing transport.
//
// The register-file-as-struct shape here is grounded in the
// HardwareDevice idiom of KTStephano-GVM/vm/devices.go and in the
// CSR-block's typed-field-per-register style in pkg/rvcore/csr.
package virtio

const size = 0x1000

// MMIO register offsets (VirtIO-MMIO version-2 layout).
const (
	offMagic        = 0x000
	offVersion      = 0x004
	offDeviceID     = 0x008
	offVendorID     = 0x00c
	offHostFeatures = 0x010
	offGuestFeatures = 0x020
	offQueueSel     = 0x030
	offQueueNumMax  = 0x034
	offQueueNum     = 0x038
	offQueueReady   = 0x044
	offQueueNotify  = 0x050
	offInterruptStatus = 0x060
	offInterruptAck = 0x064
	offStatus       = 0x070
	offConfig       = 0x100
)

const magicValue = 0x74726976 // "virt"

// DeviceID identifies the VirtIO device class in the MMIO header, e.g.
// 2 for block, 9 for 9P.
type DeviceID uint32

const (
	DeviceBlock DeviceID = 2
	Device9P    DeviceID = 9
)

// Device is a VirtIO MMIO register window with no backing transport:
// it accepts queue setup and notifications and can be made to raise
// its interrupt line (Notify), but never completes a request.
type Device struct {
	base     uint32
	id       DeviceID
	queueSel uint32
	queueNum [8]uint32
	features uint64
	status   uint32
	irqStatus uint32
	config   []byte

	onNotify func(queue uint32)
}

// New returns a VirtIO MMIO device of the given class, occupying a
// 4-KiB window at base. config is the device-specific configuration
// space (e.g. a virtio_blk_config) exposed read-only at offset 0x100.
func New(base uint32, id DeviceID, config []byte) *Device {
	return &Device{base: base, id: id, config: config}
}

func (d *Device) Base() uint32 { return d.base }
func (d *Device) Size() uint32 { return size }

// OnNotify registers a callback invoked when the guest writes
// QueueNotify; with no transport wired in, the default is a no-op.
func (d *Device) OnNotify(fn func(queue uint32)) { d.onNotify = fn }

// Notify synthesizes an interrupt from this device (used in tests and
// by any future backing transport); it sets the used-buffer-notify
// bit in InterruptStatus.
func (d *Device) Notify() {
	d.irqStatus |= 1
}

// Pending reports whether this device's interrupt line is asserted.
func (d *Device) Pending() bool { return d.irqStatus != 0 }

func (d *Device) Read(addr uint32, size int) (uint64, error) {
	off := addr - d.base
	switch off {
	case offMagic:
		return magicValue, nil
	case offVersion:
		return 2, nil
	case offDeviceID:
		return uint64(d.id), nil
	case offVendorID:
		return 0x554d4551, nil // "QEMU" vendor id, the de facto convention
	case offHostFeatures:
		return uint64(uint32(d.features)), nil
	case offQueueNumMax:
		return 1024, nil
	case offQueueReady:
		if d.queueNum[d.queueSel%8] != 0 {
			return 1, nil
		}
		return 0, nil
	case offInterruptStatus:
		return uint64(d.irqStatus), nil
	case offStatus:
		return uint64(d.status), nil
	}
	if off >= offConfig && int(off-offConfig) < len(d.config) {
		return uint64(d.config[off-offConfig]), nil
	}
	return 0, nil
}

func (d *Device) Write(addr uint32, size int, v uint64) error {
	off := addr - d.base
	switch off {
	case offGuestFeatures:
		d.features = (d.features &^ 0xffffffff) | uint64(uint32(v))
	case offQueueSel:
		d.queueSel = uint32(v)
	case offQueueNum:
		d.queueNum[d.queueSel%8] = uint32(v)
	case offQueueNotify:
		if d.onNotify != nil {
			d.onNotify(uint32(v))
		}
	case offInterruptAck:
		d.irqStatus &^= uint32(v)
	case offStatus:
		d.status = uint32(v)
		if d.status == 0 {
			// Guest-initiated reset.
			d.queueSel = 0
			d.features = 0
			d.irqStatus = 0
		}
	}
	return nil
}
