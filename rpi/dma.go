package rpi

import (
	"fmt"
	"time"
	"unsafe"
)

const (
	pwmOffset      = uintptr(0x0020c000)
	gpioOffset     = uintptr(0x00200000)
	cmPwmOffset    = uintptr(0x001010a0)
	pwmPeriphPhys  = uint32(0x7e20c000)
	dmaPollPeriod  = 10 * time.Microsecond
)

var dmaOffsets = map[int]uintptr{
	0:  0x00007000,
	1:  0x00007100,
	2:  0x00007200,
	3:  0x00007300,
	4:  0x00007400,
	5:  0x00007500,
	6:  0x00007600,
	7:  0x00007700,
	8:  0x00007800,
	9:  0x00007900,
	10: 0x00007a00,
	11: 0x00007b00,
	12: 0x00007c00,
	13: 0x00007d00,
	14: 0x00007e00,
	15: 0x00e05000,
}

const (
	dmaCsReset                    = 1 << 31
	dmaCsWaitOutstandingWrites    = 1 << 28
	dmaCsError                    = 1 << 8
	dmaCsInt                      = 1 << 2
	dmaCsEnd                      = 1 << 1
	dmaCsActive                   = 1 << 0
	dmaTiNoWideBursts             = 1 << 26
	dmaTiSrcInc                   = 1 << 8
	dmaTiDestDreq                 = 1 << 6
	dmaTiWaitResp                 = 1 << 3
)

// dmaT is the register block of one DMA channel (p41).
type dmaT struct {
	cs        uint32
	conblkAd  uint32
	ti        uint32
	sourceAd  uint32
	destAd    uint32
	txLen     uint32
	stride    uint32
	nextConBk uint32
	debug     uint32
}

// dmaControl is the in-memory control block the DMA engine fetches
// (p40). It sits at the head of the physical buffer, in front of the
// data it describes.
type dmaControl struct {
	ti        uint32
	sourceAd  uint32
	destAd    uint32
	txLen     uint32
	stride    uint32
	nextconbk uint32
	resvd1    uint32
	resvd2    uint32
}

// DMABuf is a physical buffer headed by a DMA control block,
// pre-pointed at the PWM FIFO.
type DMABuf struct {
	pb *PhysBuf
	c  *dmaControl
}

// GetDMABuf allocates a physical buffer big enough for bytes of
// payload plus the control block, rounded up to whole blockWords
// words and then to whole pages, and wires its control block to feed
// the PWM FIFO.
func (rp *RPi) GetDMABuf(bytes uint, blockWords int) (*DMABuf, error) {
	var d DMABuf
	var err error
	d.pb, err = rp.getPhysBuf(calcDMABufSize(bytes, blockWords))
	if err != nil {
		return nil, fmt.Errorf("couldn't get %d byte physical buffer for DMA: %w", bytes, err)
	}
	d.c = (*dmaControl)(unsafe.Pointer(&d.pb.buf[d.pb.offs]))

	d.c.ti = dmaTiNoWideBursts | // 32-bit transfers
		dmaTiWaitResp | // wait for write complete
		dmaTiDestDreq | // peripheral flow control
		dmaTiPerMap(5) | // PWM peripheral
		dmaTiSrcInc // increment source address
	d.c.sourceAd = uint32(d.pb.busAddr + unsafe.Sizeof(dmaControl{}))
	d.c.destAd = pwmPeriphPhys + uint32(unsafe.Offsetof(pwmT{}.fif1))
	d.c.txLen = 0 // set per transmission
	d.c.stride = 0
	d.c.nextconbk = 0
	return &d, nil
}

func (rp *RPi) FreeDMABuf(d *DMABuf) error {
	return rp.FreePhysBuf(d.pb)
}

// Words returns the payload area of the buffer as uint32 words.
func (d *DMABuf) Words() []uint32 {
	return d.pb.uint32Slice(unsafe.Sizeof(dmaControl{}))
}

// calcDMABufSize rounds a payload size up to whole DMA blocks and
// then whole pages, including the dmaControl header.
func calcDMABufSize(bytes uint, blockWords int) uint32 {
	if blockWords > 0 {
		block := uint(blockWords) * 4
		bytes = (bytes + block - 1) / block * block
	}
	bytes += uint(unsafe.Sizeof(dmaControl{}))
	return uint32(((bytes / pageSize) + 1) * pageSize)
}

func dmaTiPerMap(val uint32) uint32 {
	return (val & 0x1f) << 16
}

func dmaCsPanicPriority(val uint32) uint32 {
	return (val & 0xf) << 20
}

func dmaCsPriority(val uint32) uint32 {
	return (val & 0xf) << 16
}

// StartDMA kicks off one transfer of txLen payload bytes from the
// buffer to the PWM FIFO.
func (rp *RPi) StartDMA(d *DMABuf, txLen uint32) {
	d.c.txLen = txLen

	rp.dma.cs = dmaCsReset
	time.Sleep(dmaPollPeriod)

	rp.dma.cs = dmaCsInt | dmaCsEnd
	time.Sleep(dmaPollPeriod)

	rp.dma.conblkAd = uint32(d.pb.busAddr)
	rp.dma.debug = 7 // clear debug error flags
	rp.dma.cs = dmaCsWaitOutstandingWrites |
		dmaCsPanicPriority(15) |
		dmaCsPriority(15) |
		dmaCsActive
}

// WaitForDMAEnd polls until the current transfer finishes. A negative
// timeout waits forever.
func (rp *RPi) WaitForDMAEnd(timeout time.Duration) error {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		cs := rp.dma.cs
		if cs&dmaCsError != 0 {
			return fmt.Errorf("DMA error, cs %08X, debug %08X", cs, rp.dma.debug)
		}
		if cs&dmaCsActive == 0 {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for DMA, cs %08X", cs)
		}
		time.Sleep(dmaPollPeriod)
	}
}
