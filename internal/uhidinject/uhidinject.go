//go:build linux

// Package uhidinject turns opaque client input-event payloads into
// synthetic HID reports on /dev/uhid. The core treats every input-event
// frame body as a ready-to-send HID report; this package only owns the
// uhid device lifecycle (create/destroy) and the raw ioctl plumbing, not
// any interpretation of report contents.
package uhidinject

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	uhidCreate2 = 11
	uhidInput2  = 12
	uhidDestroy = 1

	reportDescMax = 4096
	nameMax       = 128
	physMax       = 64
	uniqMax       = 64
	dataMax       = 4096
)

// absolutePointerKeyboardDescriptor is a composite HID report descriptor:
// report ID 1 is an absolute-position 2-button pointer (for the client's
// injected mouse events), report ID 2 is a standard 101-key keyboard.
var absolutePointerKeyboardDescriptor = []byte{
	0x05, 0x01, 0x09, 0x02, 0xA1, 0x01, 0x85, 0x01, 0x09, 0x01, 0xA1, 0x00,
	0x05, 0x09, 0x19, 0x01, 0x29, 0x02, 0x15, 0x00, 0x25, 0x01, 0x95, 0x02, 0x75, 0x01, 0x81, 0x02,
	0x95, 0x01, 0x75, 0x06, 0x81, 0x03,
	0x05, 0x01, 0x09, 0x30, 0x09, 0x31, 0x15, 0x00, 0x26, 0xFF, 0x7F, 0x75, 0x10, 0x95, 0x02, 0x81, 0x02,
	0xC0, 0xC0,
	0x05, 0x01, 0x09, 0x06, 0xA1, 0x01, 0x85, 0x02,
	0x05, 0x07, 0x19, 0xE0, 0x29, 0xE7, 0x15, 0x00, 0x25, 0x01, 0x95, 0x08, 0x75, 0x01, 0x81, 0x02,
	0x95, 0x06, 0x75, 0x08, 0x15, 0x00, 0x25, 0x65, 0x05, 0x07, 0x19, 0x00, 0x29, 0x65, 0x81, 0x00,
	0xC0,
}

// uhidEventHeader mirrors struct uhid_event's leading 4-byte type field;
// the kernel ABI requires the union payload immediately follows, padded to
// the size of the largest variant (uhid_create2_req).
type uhidEventHeader struct {
	Type uint32
}

// Injector owns one /dev/uhid device representing the streamed client's
// synthetic input source.
type Injector struct {
	f *os.File
}

// Open creates a uhid device named name and returns an Injector ready to
// accept reports via InjectReport.
func Open(name string) (*Injector, error) {
	f, err := os.OpenFile("/dev/uhid", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("uhidinject: open /dev/uhid: %w", err)
	}

	if err := writeCreate2(f, name); err != nil {
		f.Close()
		return nil, err
	}

	return &Injector{f: f}, nil
}

func writeCreate2(f *os.File, name string) error {
	// struct uhid_create2_req layout: name[128] phys[64] uniq[64]
	// rd_size(u16) bus(u16) vendor(u32) product(u32) version(u32)
	// country(u32) rd_data[4096]
	buf := make([]byte, 4+nameMax+physMax+uniqMax+2+2+4+4+4+4+reportDescMax)
	binary.LittleEndian.PutUint32(buf[0:4], uhidCreate2)
	copy(buf[4:4+nameMax], name)

	off := 4 + nameMax + physMax + uniqMax
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(absolutePointerKeyboardDescriptor)))
	off += 2
	binary.LittleEndian.PutUint16(buf[off:off+2], unix.BUS_VIRTUAL)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:off+4], 0x0001) // vendor
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 0x0001) // product
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 0) // version
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], 0) // country
	off += 4
	copy(buf[off:off+len(absolutePointerKeyboardDescriptor)], absolutePointerKeyboardDescriptor)

	_, err := f.Write(buf)
	if err != nil {
		return fmt.Errorf("uhidinject: UHID_CREATE2 write: %w", err)
	}
	return nil
}

// InjectReport forwards an opaque client-provided byte blob as one
// UHID_INPUT2 event. The blob's first byte is the HID report ID; the core
// never inspects it further.
func (u *Injector) InjectReport(report []byte) error {
	if len(report) > dataMax {
		return fmt.Errorf("uhidinject: report too large: %d bytes", len(report))
	}

	// struct uhid_input2_req layout: size(u16) data[4096]
	buf := make([]byte, 4+2+dataMax)
	binary.LittleEndian.PutUint32(buf[0:4], uhidInput2)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(report)))
	copy(buf[6:6+len(report)], report)

	if _, err := u.f.Write(buf); err != nil {
		return fmt.Errorf("uhidinject: UHID_INPUT2 write: %w", err)
	}
	return nil
}

// Close destroys the uhid device and releases the fd.
func (u *Injector) Close() error {
	var hdr uhidEventHeader
	hdr.Type = uhidDestroy
	buf := (*[4]byte)(unsafe.Pointer(&hdr))[:]
	u.f.Write(buf)
	return u.f.Close()
}
