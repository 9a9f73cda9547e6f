// Package components measures connected foreground regions of a BinaryMask.
package components

import (
	"fmt"
	"image"
	"sort"

	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/opencv/conversion"
	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// DefaultMinBoxArea is the smallest bounding box drawn in preview overlays.
const DefaultMinBoxArea = 40

// Extractor labels masks with 8-connectivity. The zero value is usable.
type Extractor struct {
	memory *memory.Manager
}

func NewExtractor(mem *memory.Manager) *Extractor {
	return &Extractor{memory: mem}
}

func (e *Extractor) manager() *memory.Manager {
	if e == nil || e.memory == nil {
		return memory.NewManager(nil)
	}
	return e.memory
}

// Extract returns the pixel area of every component at least minArea large,
// in label order. Background label 0 is skipped.
func (e *Extractor) Extract(mask frames.BinaryMask, minArea int) ([]int, error) {
	if mask.Empty() || mask.Foreground() == 0 {
		return []int{}, nil
	}

	scope := e.manager().NewScope("components")
	defer scope.Close()

	src, err := conversion.MaskToMat(scope, mask)
	if err != nil {
		return nil, fmt.Errorf("extract components: %w", err)
	}
	labels, err := scope.Empty("labels")
	if err != nil {
		return nil, err
	}
	stats, err := scope.Empty("stats")
	if err != nil {
		return nil, err
	}
	centroids, err := scope.Empty("centroids")
	if err != nil {
		return nil, err
	}

	count := gocv.ConnectedComponentsWithStats(src.GetMat(), labels.Ptr(), stats.Ptr(), centroids.Ptr())
	table := stats.Ptr()
	areas := make([]int, 0, count)
	for label := 1; label < count; label++ {
		area := int(table.GetIntAt(label, int(gocv.CC_STAT_AREA)))
		if area >= minArea {
			areas = append(areas, area)
		}
	}
	return areas, nil
}

// Boxes returns bounding rectangles of external contours whose box area is at
// least minBoxArea, ordered left to right then top to bottom.
func (e *Extractor) Boxes(mask frames.BinaryMask, minBoxArea int) ([]image.Rectangle, error) {
	if mask.Empty() || mask.Foreground() == 0 {
		return nil, nil
	}

	scope := e.manager().NewScope("boxes")
	defer scope.Close()

	src, err := conversion.MaskToMat(scope, mask)
	if err != nil {
		return nil, fmt.Errorf("find contours: %w", err)
	}
	if err := safe.ValidateGray(src, "find contours"); err != nil {
		return nil, err
	}

	contours := gocv.FindContours(src.GetMat(), gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rect := gocv.BoundingRect(contours.At(i))
		if rect.Dx()*rect.Dy() >= minBoxArea {
			boxes = append(boxes, rect)
		}
	}
	sort.Slice(boxes, func(i, j int) bool {
		if boxes[i].Min.X != boxes[j].Min.X {
			return boxes[i].Min.X < boxes[j].Min.X
		}
		return boxes[i].Min.Y < boxes[j].Min.Y
	})
	return boxes, nil
}

// Extract labels mask with a throwaway memory manager.
func Extract(mask frames.BinaryMask, minArea int) ([]int, error) {
	return (*Extractor)(nil).Extract(mask, minArea)
}

// Boxes finds overlay rectangles with a throwaway memory manager.
func Boxes(mask frames.BinaryMask, minBoxArea int) ([]image.Rectangle, error) {
	return (*Extractor)(nil).Boxes(mask, minBoxArea)
}
