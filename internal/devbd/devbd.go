// Package devbd provides an in-memory bd.Device for tests: a deterministic,
// in-process substitute for the real dependency that lets package tests
// exercise corruption and wear paths without real hardware.
package devbd

import (
	"github.com/phoenix-rtos/lfsd/internal/bd"
	"github.com/phoenix-rtos/lfsd/internal/lfserr"
)

// Device is an in-memory block device. Blocks are fully erased (all 0xff)
// on creation and by Erase; Prog requires the target region to be all 0xff
// unless AllowOverwrite is set, mirroring "writing to not-erased data is
// undefined" for implementations that want to catch the violation in tests.
type Device struct {
	blocks          [][]byte
	blockSize       uint32
	readSize        uint32
	progSize        uint32
	AllowOverwrite  bool
	EraseCount      []uint32
	ReadErrOnBlock  map[uint32]error
	ProgErrOnBlock  map[uint32]error
}

func New(blockCount int, blockSize, readSize, progSize uint32) *Device {
	d := &Device{
		blocks:         make([][]byte, blockCount),
		blockSize:      blockSize,
		readSize:       readSize,
		progSize:       progSize,
		EraseCount:     make([]uint32, blockCount),
		ReadErrOnBlock: map[uint32]error{},
		ProgErrOnBlock: map[uint32]error{},
	}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, blockSize)
		for j := range d.blocks[i] {
			d.blocks[i][j] = 0xff
		}
	}
	return d
}

func (d *Device) Read(block, off uint32, buf []byte) error {
	if err := d.ReadErrOnBlock[block]; err != nil {
		return err
	}
	if int(block) >= len(d.blocks) || off+uint32(len(buf)) > d.blockSize {
		return lfserr.New("devbd.Read", lfserr.IO)
	}
	copy(buf, d.blocks[block][off:off+uint32(len(buf))])
	return nil
}

func (d *Device) Prog(block, off uint32, buf []byte) error {
	if err := d.ProgErrOnBlock[block]; err != nil {
		return err
	}
	if int(block) >= len(d.blocks) || off+uint32(len(buf)) > d.blockSize {
		return lfserr.New("devbd.Prog", lfserr.IO)
	}
	if !d.AllowOverwrite {
		for _, b := range d.blocks[block][off : off+uint32(len(buf))] {
			if b != 0xff {
				return lfserr.New("devbd.Prog", lfserr.CORRUPT)
			}
		}
	}
	copy(d.blocks[block][off:off+uint32(len(buf))], buf)
	return nil
}

func (d *Device) Erase(block uint32) error {
	if int(block) >= len(d.blocks) {
		return lfserr.New("devbd.Erase", lfserr.IO)
	}
	for i := range d.blocks[block] {
		d.blocks[block][i] = 0xff
	}
	d.EraseCount[block]++
	return nil
}

func (d *Device) Sync() error { return nil }

var _ bd.Device = (*Device)(nil)
