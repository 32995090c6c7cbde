package rpi

import (
	"errors"
	"fmt"
	"os"
	"path"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

const (
	videocoreMajorNum = 100
	memFile           = "/dev/mem"
	vcioFile          = "/dev/vcio"
	mboxDev           = 100 << 20 // Assumes devices have 12-bit major, 20-bit minor numbers
	mboxMode          = 0600
	pageSize          = 4096
)

// ErrOutOfMemory is returned when the Videocore can't satisfy a
// physical memory allocation.
var ErrOutOfMemory = errors.New("videocore out of memory")

// PhysBuf is a block of Videocore memory, locked to a bus address and
// mapped into our address space, suitable as a DMA source.
type PhysBuf struct {
	handle  uintptr
	busAddr uintptr
	buf     mmap.MMap
	offs    uintptr
}

// uint32Slice returns the buffer contents from offs onwards as a
// []uint32, accounting for the page-alignment slack at the front of
// the mapping.
func (pb *PhysBuf) uint32Slice(offs uintptr) []uint32 {
	offs += pb.offs
	n := (len(pb.buf) - int(offs)) / 4
	return unsafe.Slice((*uint32)(unsafe.Pointer(&pb.buf[offs])), n)
}

// getPhysBuf allocates, locks and maps size bytes of Videocore
// memory. Partially-acquired resources are released on any failure.
func (rp *RPi) getPhysBuf(size uint32) (*PhysBuf, error) {
	pb := PhysBuf{}
	var err error
	pb.handle, err = rp.allocVCMem(size)
	if err != nil {
		return nil, fmt.Errorf("couldn't alloc %v bytes: %w", size, err)
	}
	pb.busAddr, err = rp.lockVCMem(pb.handle)
	if err != nil {
		rp.freeVCMem(pb.handle) // Ignore error
		return nil, fmt.Errorf("couldn't lock handle %X: %w", pb.handle, err)
	}
	pb.buf, pb.offs, err = rp.mapMem(busToPhys(pb.busAddr), int(size))
	if err != nil {
		rp.unlockVCMem(pb.handle) // Ignore error
		rp.freeVCMem(pb.handle)   // Ignore error
		return nil, fmt.Errorf("couldn't map busAddr %X: %w", pb.busAddr, err)
	}
	return &pb, nil
}

// FreePhysBuf unmaps, unlocks and frees the buffer. All three are
// attempted; the first error wins.
func (rp *RPi) FreePhysBuf(pb *PhysBuf) error {
	var err, te error
	if pb.buf != nil {
		err = pb.buf.Unmap()
		pb.buf = nil
	}
	if pb.busAddr != 0 {
		pb.busAddr = 0
		te = rp.unlockVCMem(pb.handle)
		if err == nil {
			err = te
		}
	}
	if pb.handle != 0 {
		te = rp.freeVCMem(pb.handle)
		pb.handle = 0
		if err == nil {
			err = te
		}
	}
	return err
}

// busToPhys converts a BCM2835 bus address to a physical address (p7).
func busToPhys(busAddr uintptr) uintptr {
	return busAddr &^ 0xC0000000
}

// mapMem opens /dev/mem and maps the given physical address into our
// address space. The mapping has to start at a page boundary, so the
// address is rounded down and the remainder returned as an offset
// into the mapping.
func (rp *RPi) mapMem(physAddr uintptr, size int) (mmap.MMap, uintptr, error) {
	f, err := os.OpenFile(memFile, os.O_RDWR|os.O_SYNC, os.ModePerm)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't open %s: %w", memFile, err)
	}

	pagemask := ^uintptr(pageSize - 1)
	mapAddr := physAddr & pagemask
	size += int(physAddr - mapAddr)
	mm, err := mmap.MapRegion(f, size, mmap.RDWR, 0, int64(mapAddr))
	if err != nil {
		f.Close() // Ignore error
		return nil, 0, fmt.Errorf("couldn't map region (%v, %v): %w", physAddr, size, err)
	}
	f.Close() // Ignore error

	return mm, physAddr & (pageSize - 1), nil
}

// mapReg maps one peripheral register block and casts it to its
// register struct.
func mapReg[T any](rp *RPi, buf *mmap.MMap, offset uintptr, reg **T) error {
	var t T
	m, offs, err := rp.mapMem(offset+rp.hw.periphBase, int(unsafe.Sizeof(t)))
	if err != nil {
		return fmt.Errorf("couldn't map registers at %08X: %w", offset+rp.hw.periphBase, err)
	}
	*buf = m
	*reg = (*T)(unsafe.Pointer(&m[offs]))
	return nil
}

// mboxOpenTemp creates a temporary device node for ioctl-ing with the
// mailbox, opens it and immediately removes the node once it's open.
func (rp *RPi) mboxOpenTemp() error {
	tf := path.Join(os.TempDir(), fmt.Sprintf("mailbox-%d", os.Getpid()))
	err := os.Remove(tf)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("couldn't remove temp mbox: %w", err)
	}
	if err := unix.Mknod(tf, unix.S_IFCHR|mboxMode, mboxDev); err != nil {
		return fmt.Errorf("couldn't make device node: %w", err)
	}
	f, err := os.OpenFile(tf, os.O_RDONLY, os.ModePerm)
	if err != nil {
		return fmt.Errorf("couldn't open temp mbox: %w", err)
	}
	if err := os.Remove(tf); err != nil {
		f.Close() // Ignore error
		return fmt.Errorf("couldn't remove temp mbox: %w", err)
	}
	rp.mbox = f
	return nil
}

// mboxOpen opens /dev/vcio for ioctl-ing with the mailbox, falling
// back to a temporary node if it doesn't exist.
func (rp *RPi) mboxOpen() error {
	var err error
	rp.mbox, err = os.OpenFile(vcioFile, os.O_RDONLY, os.ModePerm)
	if errors.Is(err, os.ErrNotExist) {
		err = rp.mboxOpenTemp()
	}
	if err != nil {
		return fmt.Errorf("couldn't open mbox: %w", err)
	}
	return nil
}

// mboxProperty sends one property message via the mailbox.
func (rp *RPi) mboxProperty(buf []uint32) error {
	if rp.mbox == nil {
		return errors.New("mailbox not open")
	}
	req := iowr(videocoreMajorNum, 0, uintptr(0))
	if err := ioctlArrUint32(rp.mbox.Fd(), req, buf); err != nil {
		return fmt.Errorf("failed ioctl mbox property: %w", err)
	}
	return nil
}

// mboxTag sends a single-tag property request and returns the first
// word of the response value.
func (rp *RPi) mboxTag(tagID uint32, vals ...uint32) (uint32, error) {
	p := make([]uint32, 32)
	i := uint32(2) // p[0] = size (filled below), p[1] = process request
	p[i] = tagID
	i++
	p[i] = uint32(len(vals) * 4) // size of the tag value
	i++
	p[i] = 0 // request: bit 31 clear, rest reserved
	i++
	resp := i
	for _, v := range vals {
		p[i] = v
		i++
	}
	i++ // end tag
	p[0] = i * 4

	if err := rp.mboxProperty(p); err != nil {
		return 0, err
	}
	if p[resp-1]&0x80000000 == 0 {
		return 0, fmt.Errorf("response tag unset for %08X: %v", tagID, p[resp-1])
	}
	return p[resp], nil
}

// Mailbox memory tags, see the firmware wiki.
const (
	tagAllocMem  = 0x3000c
	tagLockMem   = 0x3000d
	tagUnlockMem = 0x3000e
	tagFreeMem   = 0x3000f
)

func (rp *RPi) allocVCMem(size uint32) (uintptr, error) {
	// The flag difference is inherited from rpi_ws281x's mailbox.c,
	// which uses cached coherent memory on the original BCM2835 only.
	flags := uint32(0x4) // MEM_FLAG_DIRECT
	if rp.hw.vcBase == vcBaseBCM2835 {
		flags = 0xC // MEM_FLAG_L1_NONALLOCATING
	}
	h, err := rp.mboxTag(tagAllocMem, size, pageSize, flags)
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, ErrOutOfMemory
	}
	return uintptr(h), nil
}

func (rp *RPi) lockVCMem(handle uintptr) (uintptr, error) {
	busAddr, err := rp.mboxTag(tagLockMem, uint32(handle))
	if err != nil {
		return 0, err
	}
	if busAddr == 0 {
		return 0, fmt.Errorf("lock of handle %X returned no address", handle)
	}
	return uintptr(busAddr), nil
}

func (rp *RPi) unlockVCMem(handle uintptr) error {
	status, err := rp.mboxTag(tagUnlockMem, uint32(handle))
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("unlock status non-zero: %v", status)
	}
	return nil
}

func (rp *RPi) freeVCMem(handle uintptr) error {
	status, err := rp.mboxTag(tagFreeMem, uint32(handle))
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("free status non-zero: %v", status)
	}
	return nil
}
