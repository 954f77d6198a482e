// Package storetest builds record regions and media for tests.
package storetest

import (
	"context"
	"encoding/binary"
	"os"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/store"
)

// Epoch is the epoch used by Image: time offset 0 is 2024-01-01 00:00 UTC.
var Epoch = record.EpochAt(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))

// Image is an in-memory record region. All slots start uninitialized.
type Image struct {
	buf []byte
}

// NewImage returns a region with every slot uninitialized.
func NewImage() *Image {
	buf := make([]byte, store.HeaderSize+store.SlotCount*store.SlotSize)
	for i := range buf {
		buf[i] = 0xff
	}

	return &Image{buf: buf}
}

// Put writes s at index modulo SlotCount.
func (im *Image) Put(index int, s record.Slot) {
	slot := int(record.FloorMod(int64(index), store.SlotCount))
	copy(im.buf[store.HeaderSize+slot*store.SlotSize:], Encode(s))
}

// Clear marks the slot at index as uninitialized.
func (im *Image) Clear(index int) {
	im.Put(index, record.Slot{TimeOffset: -1, Consumption: 0xffffffff})
}

// Fill writes one slot per index in [from, to), dated consecutively from the
// time offset of from, using gen to fill the remaining fields.
func (im *Image) Fill(from, to int, offset0 int32, gen func(i int) record.Slot) {
	for i := from; i < to; i++ {
		s := gen(i)
		s.TimeOffset = offset0 + int32(i-from)
		im.Put(i, s)
	}
}

// Bytes returns the region.
func (im *Image) Bytes() []byte {
	return im.buf
}

// WriteFile writes the image as a data file, region preceded by FileOffset
// bytes of padding.
func (im *Image) WriteFile(t *testing.T, path string) {
	t.Helper()

	data := make([]byte, store.FileOffset+len(im.buf))
	copy(data[store.FileOffset:], im.buf)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

// Encode lays out s in slot format.
func Encode(s record.Slot) []byte {
	b := make([]byte, record.SlotSize)
	le := binary.LittleEndian

	//nolint:gosec // G115: two's complement round trip
	le.PutUint32(b[0:], uint32(s.TimeOffset))
	le.PutUint32(b[4:], s.Consumption)
	le.PutUint16(b[8:], s.Unused)
	le.PutUint16(b[10:], s.CostRate)
	le.PutUint16(b[12:], s.Generation)
	le.PutUint16(b[14:], s.GainRate)
	le.PutUint32(b[16:], s.Accumulator)
	le.PutUint16(b[20:], s.Reserved)
	b[22] = s.Flags
	b[23] = s.Temp2
	b[24] = s.Temp1
	b[25] = s.Spare

	return b
}

// Medium serves an Image and records how it was used. Failures makes the
// next n attaches fail.
type Medium struct {
	Image *Image

	mu       sync.Mutex
	failures int
	attaches int
	resets   int
	open     int
	closes   int
}

// NewMedium returns a medium serving im.
func NewMedium(im *Image) *Medium {
	return &Medium{Image: im}
}

// FailNext makes the next n attaches fail.
func (m *Medium) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *Medium) Attach(_ context.Context) (store.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attaches++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New().WithMessage(store.ErrMountFailed, "medium not present")
	}
	m.open++

	return &region{medium: m}, nil
}

func (m *Medium) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++

	return nil
}

// Stats reports attach attempts, resets, closes and currently open regions.
func (m *Medium) Stats() (attaches, resets, closes, open int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attaches, m.resets, m.closes, m.open
}

type region struct {
	medium *Medium
	closed bool
}

func (r *region) Bytes() []byte {
	return r.medium.Image.Bytes()
}

func (r *region) Close() error {
	r.medium.mu.Lock()
	defer r.medium.mu.Unlock()

	if !r.closed {
		r.closed = true
		r.medium.open--
		r.medium.closes++
	}

	return nil
}
