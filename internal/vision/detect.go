package vision

import (
	"fmt"
	"image"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/imaging"
)

// Detection is one face box in source image pixels, relative to the
// image bounds origin.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

const (
	detectorInput    = 640
	detectorInputTag = "input.1"
	anchorsPerCell   = 2
	nmsIoU           = 0.4
	// Boxes narrower or shorter than this, in source pixels, are noise.
	minFaceSide = 8
)

// detectorHead names the score and box outputs of one det_10g stride.
// Landmark outputs exist in the export but are not bound.
type detectorHead struct {
	stride int
	score  string
	box    string
}

var detectorHeads = []detectorHead{
	{stride: 8, score: "448", box: "451"},
	{stride: 16, score: "471", box: "474"},
	{stride: 32, score: "494", box: "497"},
}

// Detector runs the RetinaFace det_10g model. A session owns one set of
// tensors, so runs are serialised.
type Detector struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	boxes     []*ort.Tensor[float32]
	threshold float32
	size      int
}

// NewDetector loads the model. opts may be nil for ORT defaults.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, size: detectorInput}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detectorInput, detectorInput))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names := make([]string, 0, 2*len(detectorHeads))
	values := make([]ort.Value, 0, 2*len(detectorHeads))
	for _, h := range detectorHeads {
		cells := int64((detectorInput / h.stride) * (detectorInput / h.stride) * anchorsPerCell)

		score, err := ort.NewEmptyTensor[float32](ort.NewShape(cells, 1))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create score tensor %s: %w", h.score, err)
		}
		d.scores = append(d.scores, score)

		box, err := ort.NewEmptyTensor[float32](ort.NewShape(cells, 4))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create box tensor %s: %w", h.box, err)
		}
		d.boxes = append(d.boxes, box)

		names = append(names, h.score, h.box)
		values = append(values, score, box)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{detectorInputTag}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect finds faces in img. The image is letterboxed into the model input
// so boxes keep their aspect ratio.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	canvas, scale := imaging.Letterbox(img, d.size)
	if scale == 0 {
		return nil, imaging.ErrEmptyImage
	}
	tensor := imaging.Pack(canvas, imaging.LayoutNCHW, imaging.NormRetinaFace)

	d.mu.Lock()
	copy(d.input.GetData(), tensor)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("run detection: %w", err)
	}
	raw := d.decode(scale, img.Bounds().Dx(), img.Bounds().Dy())
	d.mu.Unlock()

	return nms(raw, nmsIoU), nil
}

// decode turns anchor offsets into boxes. Offsets are edge distances in
// stride units from the anchor centre. Must be called with mu held.
func (d *Detector) decode(scale float32, width, height int) []Detection {
	var out []Detection
	w, h := float32(width), float32(height)

	for hi, head := range detectorHeads {
		scores := d.scores[hi].GetData()
		boxes := d.boxes[hi].GetData()
		side := d.size / head.stride
		st := float32(head.stride)

		for i, score := range scores {
			if score < d.threshold {
				continue
			}
			cell := i / anchorsPerCell
			ax := float32(cell%side) * st
			ay := float32(cell/side) * st
			off := boxes[i*4 : i*4+4]

			box := [4]float32{
				clampF((ax-off[0]*st)/scale, 0, w),
				clampF((ay-off[1]*st)/scale, 0, h),
				clampF((ax+off[2]*st)/scale, 0, w),
				clampF((ay+off[3]*st)/scale, 0, h),
			}
			if box[2]-box[0] < minFaceSide || box[3]-box[1] < minFaceSide {
				continue
			}
			out = append(out, Detection{BBox: box, Confidence: score})
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.scores {
		t.Destroy()
	}
	for _, t := range d.boxes {
		t.Destroy()
	}
}

// nms keeps the most confident box of every overlapping group, ordered by
// descending confidence. The input slice is not modified.
func nms(detections []Detection, threshold float32) []Detection {
	order := make([]Detection, len(detections))
	copy(order, detections)
	sort.SliceStable(order, func(i, j int) bool { return order[i].Confidence > order[j].Confidence })

	kept := make([]Detection, 0, len(order))
next:
	for _, cand := range order {
		for _, k := range kept {
			if iou(cand.BBox, k.BBox) > threshold {
				continue next
			}
		}
		kept = append(kept, cand)
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	iw := max(0, min(a[2], b[2])-max(a[0], b[0]))
	ih := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := iw * ih

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
