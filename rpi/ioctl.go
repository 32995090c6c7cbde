package rpi

import (
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request encoding, a replica of
// https://github.com/raspberrypi/linux/blob/rpi-5.4.y/include/uapi/asm-generic/ioctl.h

const (
	iocNrBits   uint32 = 8
	iocTypeBits uint32 = 8
	iocSizeBits uint32 = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

func io(typ, nr uint32) uint32 {
	return ioc(iocNone, typ, nr, 0)
}

func ior(typ, nr uint32, size interface{}) uint32 {
	return ioc(iocRead, typ, nr, uint32(reflect.TypeOf(size).Size()))
}

func iow(typ, nr uint32, size interface{}) uint32 {
	return ioc(iocWrite, typ, nr, uint32(reflect.TypeOf(size).Size()))
}

func iowr(typ, nr uint32, size interface{}) uint32 {
	return ioc(iocRead|iocWrite, typ, nr, uint32(reflect.TypeOf(size).Size()))
}

func ioctlArrUint32(fd uintptr, ioctl uint32, val []uint32) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		uintptr(ioctl),
		uintptr(unsafe.Pointer(&val[0])),
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlUint32(fd uintptr, ioctl uint32, val uint32) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		uintptr(ioctl),
		uintptr(unsafe.Pointer(&val)),
	)
	if errno != 0 {
		return errno
	}
	return nil
}
