package safe

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Tracker observes native Mat lifetimes; implemented by memory.Manager.
type Tracker interface {
	TrackAllocation(id uint64, size int64, tag string)
	TrackDeallocation(id uint64, tag string)
}

// Mat wraps a gocv.Mat so that it is closed exactly once and reported to a
// Tracker. It is not safe for concurrent use; the pipeline is single-threaded.
type Mat struct {
	mat     gocv.Mat
	isValid int32
	id      uint64
	size    int64
	tracker Tracker
	tag     string
}

var nextMatID uint64

func NewMatWithTracker(rows, cols int, matType gocv.MatType, tracker Tracker, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}

	mat := gocv.NewMatWithSize(rows, cols, matType)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to create Mat with size %dx%d", cols, rows)
	}
	return adopt(mat, tracker, tag), nil
}

// FromBytes builds a Mat over data. gocv does not copy the buffer, so data must
// stay alive and unmodified until the Mat is closed.
func FromBytes(rows, cols int, matType gocv.MatType, data []byte, tracker Tracker, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}
	want := rows * cols * matTypeSize(matType)
	if len(data) < want {
		return nil, fmt.Errorf("buffer of %d bytes too small for %dx%d (%d bytes)", len(data), cols, rows, want)
	}
	mat, err := gocv.NewMatFromBytes(rows, cols, matType, data[:want])
	if err != nil {
		return nil, fmt.Errorf("create Mat from bytes: %w", err)
	}
	return adopt(mat, tracker, tag), nil
}

// Wrap takes ownership of an existing gocv.Mat.
func Wrap(mat gocv.Mat, tracker Tracker, tag string) (*Mat, error) {
	if mat.Ptr() == nil {
		return nil, fmt.Errorf("cannot wrap nil Mat for %s", tag)
	}
	return adopt(mat, tracker, tag), nil
}

func adopt(mat gocv.Mat, tracker Tracker, tag string) *Mat {
	sm := &Mat{
		mat:     mat,
		isValid: 1,
		id:      atomic.AddUint64(&nextMatID, 1),
		size:    int64(mat.Rows() * mat.Cols() * matTypeSize(mat.Type())),
		tracker: tracker,
		tag:     tag,
	}
	if tracker != nil {
		tracker.TrackAllocation(sm.id, sm.size, tag)
	}

	// Last resort if Close is never called.
	runtime.SetFinalizer(sm, (*Mat).finalize)
	return sm
}

func (sm *Mat) IsValid() bool {
	return sm != nil && atomic.LoadInt32(&sm.isValid) == 1
}

func (sm *Mat) Empty() bool {
	if !sm.IsValid() {
		return true
	}
	return sm.mat.Empty()
}

func (sm *Mat) Rows() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Rows()
}

func (sm *Mat) Cols() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Cols()
}

func (sm *Mat) Channels() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Channels()
}

func (sm *Mat) Type() gocv.MatType {
	if !sm.IsValid() {
		return gocv.MatTypeCV8UC1
	}
	return sm.mat.Type()
}

// GetMat returns the underlying Mat for read-only use as an OpenCV source.
func (sm *Mat) GetMat() gocv.Mat {
	return sm.mat
}

// Ptr returns the underlying Mat for use as an OpenCV destination.
func (sm *Mat) Ptr() *gocv.Mat {
	return &sm.mat
}

// Bytes copies the pixel data out. Non-continuous Mats are cloned first.
func (sm *Mat) Bytes() ([]byte, error) {
	if !sm.IsValid() {
		return nil, fmt.Errorf("Mat %s is invalid", sm.tagOrID())
	}
	if sm.mat.IsContinuous() {
		return sm.mat.ToBytes(), nil
	}
	clone := sm.mat.Clone()
	defer clone.Close()
	return clone.ToBytes(), nil
}

func (sm *Mat) ID() uint64 {
	return sm.id
}

func (sm *Mat) Tag() string {
	return sm.tag
}

func (sm *Mat) Close() {
	if sm == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&sm.isValid, 1, 0) {
		if sm.tracker != nil {
			sm.tracker.TrackDeallocation(sm.id, sm.tag)
		}
		sm.mat.Close()
		runtime.SetFinalizer(sm, nil)
	}
}

func (sm *Mat) finalize() {
	if atomic.LoadInt32(&sm.isValid) == 1 {
		sm.Close()
	}
}

func (sm *Mat) tagOrID() string {
	if sm.tag != "" {
		return sm.tag
	}
	return fmt.Sprintf("#%d", sm.id)
}

func matTypeSize(matType gocv.MatType) int {
	switch matType {
	case gocv.MatTypeCV8UC1:
		return 1
	case gocv.MatTypeCV8UC3:
		return 3
	case gocv.MatTypeCV8UC4:
		return 4
	case gocv.MatTypeCV16UC1:
		return 2
	case gocv.MatTypeCV32SC1, gocv.MatTypeCV32FC1:
		return 4
	case gocv.MatTypeCV64FC1:
		return 8
	case gocv.MatTypeCV64FC2:
		return 16
	default:
		return 1
	}
}
