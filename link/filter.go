package link

import (
	"errors"
	"fmt"

	"golang.org/x/net/bpf"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// offEtherType is the offset of the EtherType in an untagged Ethernet header.
const offEtherType = 12

// frameFilter is a classic BPF program accepting ARP and IPv4 frames, up to
// snapLen bytes of each, and rejecting everything else.
func frameFilter(snapLen uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(viphost.EtherTypeARP), SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(viphost.EtherTypeIPv4), SkipTrue: 1},
		bpf.RetConstant{Val: snapLen},
		bpf.RetConstant{Val: 0},
	}
}

// FrameFilter assembles the kernel filter installed by backends with the
// filter option set.
func FrameFilter(snapLen uint32) ([]bpf.RawInstruction, error) {
	if snapLen == 0 {
		return nil, errors.New("zero snap length")
	}
	raw, err := bpf.Assemble(frameFilter(snapLen))
	if err != nil {
		return nil, fmt.Errorf("assembling frame filter: %w", err)
	}
	return raw, nil
}

// ringGeometry sizes a TPACKET_V3 ring holding frames of up to snapLen bytes
// in roughly bufferMB megabytes. Frames are page aligned so every block is a
// multiple of both the page and the frame size.
func ringGeometry(bufferMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const (
		tpacketAlign  = 16
		tpacketHdrLen = 52
		targetBlock   = 1 << 20
	)
	switch {
	case bufferMB <= 0:
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %dMB", bufferMB)
	case snapLen <= 0:
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	case pageSize <= 0 || pageSize%tpacketAlign != 0:
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlign, pageSize)
	}
	frameSize = alignUp(tpacketHdrLen+snapLen, pageSize)
	blockSize = frameSize * max(1, targetBlock/frameSize)
	numBlocks = max(1, bufferMB<<20/blockSize)
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
