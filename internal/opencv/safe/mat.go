package safe

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// MemoryTracker observes native Mat allocations.
type MemoryTracker interface {
	TrackAllocation(id uint64, size int64, tag string)
	TrackDeallocation(id uint64, tag string)
}

// Mat owns a gocv.Mat and guards it against use after Close.
// A Leaf holds its source image and masks as *Mat so that a failed stage can
// release everything it allocated without leaking native memory.
type Mat struct {
	mat        gocv.Mat
	isValid    int32
	mu         sync.RWMutex
	id         uint64
	memTracker MemoryTracker
	tag        string
}

var (
	nextMatID uint64

	trackerMu     sync.RWMutex
	globalTracker MemoryTracker
)

// SetMemoryTracker installs t for every Mat created afterwards. A nil t
// stops tracking new Mats; Mats already tracked report to the tracker they
// were created under.
func SetMemoryTracker(t MemoryTracker) {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	globalTracker = t
}

func currentTracker() MemoryTracker {
	trackerMu.RLock()
	defer trackerMu.RUnlock()
	return globalTracker
}

// NewMat allocates a zero-filled Mat.
func NewMat(rows, cols int, matType gocv.MatType, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}

	mat := gocv.Zeros(rows, cols, matType)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to create Mat with size %dx%d", cols, rows)
	}

	return wrap(mat, tag), nil
}

// Adopt takes ownership of srcMat without copying it. The caller must not
// close srcMat afterwards.
func Adopt(srcMat gocv.Mat, tag string) (*Mat, error) {
	if srcMat.Empty() {
		srcMat.Close()
		return nil, fmt.Errorf("source Mat is empty")
	}

	if srcMat.Rows() <= 0 || srcMat.Cols() <= 0 {
		srcMat.Close()
		return nil, fmt.Errorf("source Mat has invalid dimensions: %dx%d", srcMat.Cols(), srcMat.Rows())
	}

	return wrap(srcMat, tag), nil
}

// NewMatFromMat clones srcMat into a new owned Mat.
func NewMatFromMat(srcMat gocv.Mat, tag string) (*Mat, error) {
	if srcMat.Empty() {
		return nil, fmt.Errorf("source Mat is empty")
	}

	clonedMat := srcMat.Clone()
	if clonedMat.Empty() {
		clonedMat.Close()
		return nil, fmt.Errorf("failed to clone Mat")
	}

	return wrap(clonedMat, tag), nil
}

// NewMatFromBytes builds an owned Mat from a packed pixel buffer.
func NewMatFromBytes(rows, cols int, matType gocv.MatType, data []byte, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}

	mat, err := gocv.NewMatFromBytes(rows, cols, matType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mat from bytes: %w", err)
	}

	// NewMatFromBytes shares the Go buffer; clone so the Mat owns its data.
	owned := mat.Clone()
	mat.Close()

	return Adopt(owned, tag)
}

func wrap(mat gocv.Mat, tag string) *Mat {
	safeMat := &Mat{
		mat:        mat,
		isValid:    1,
		id:         atomic.AddUint64(&nextMatID, 1),
		memTracker: currentTracker(),
		tag:        tag,
	}

	if safeMat.memTracker != nil {
		size := int64(mat.Total()) * int64(mat.ElemSize())
		safeMat.memTracker.TrackAllocation(safeMat.id, size, tag)
	}

	// Set finalizer for cleanup if Close() is not called
	runtime.SetFinalizer(safeMat, (*Mat).finalize)

	return safeMat
}

func (sm *Mat) IsValid() bool {
	return sm != nil && atomic.LoadInt32(&sm.isValid) == 1
}

func (sm *Mat) Empty() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return true
	}

	return sm.mat.Empty()
}

func (sm *Mat) Rows() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}

	return sm.mat.Rows()
}

func (sm *Mat) Cols() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}

	return sm.mat.Cols()
}

func (sm *Mat) Channels() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}

	return sm.mat.Channels()
}

func (sm *Mat) Type() gocv.MatType {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return gocv.MatTypeCV8UC1
	}

	return sm.mat.Type()
}

func (sm *Mat) Tag() string {
	return sm.tag
}

func (sm *Mat) Clone() (*Mat, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return nil, fmt.Errorf("cannot clone invalid Mat %q", sm.tag)
	}

	return NewMatFromMat(sm.mat, sm.tag+"_clone")
}

// CountNonZero counts set pixels of a single-channel Mat.
func (sm *Mat) CountNonZero() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() || sm.mat.Empty() {
		return 0
	}

	return gocv.CountNonZero(sm.mat)
}

// Bytes returns a copy of the pixel buffer.
func (sm *Mat) Bytes() []byte {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() || sm.mat.Empty() {
		return nil
	}

	return sm.mat.ToBytes()
}

// GetMat exposes the underlying gocv.Mat for read-only gocv calls. The Mat
// stays owned by sm.
func (sm *Mat) GetMat() gocv.Mat {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.mat
}

// Update runs fn with exclusive access to the underlying Mat.
func (sm *Mat) Update(fn func(m *gocv.Mat)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.IsValid() {
		return fmt.Errorf("Mat %q is invalid", sm.tag)
	}

	fn(&sm.mat)
	return nil
}

func (sm *Mat) ID() uint64 {
	return sm.id
}

func (sm *Mat) Close() {
	if sm == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if atomic.CompareAndSwapInt32(&sm.isValid, 1, 0) {
		if sm.memTracker != nil {
			sm.memTracker.TrackDeallocation(sm.id, sm.tag)
		}
		sm.mat.Close()
		runtime.SetFinalizer(sm, nil)
	}
}

// finalize is called by Go's garbage collector as last resort cleanup
func (sm *Mat) finalize() {
	if atomic.LoadInt32(&sm.isValid) == 1 {
		sm.Close()
	}
}
