package cpu

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/nnbridge/dtypes"
	"github.com/gomlx/nnbridge/nnbuilder"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// resizeBilinear runs RESIZE_BILINEAR on NHWC tensors. The target height and width are the ones of the
// output operand.
func resizeBilinear(inRaw []byte, inType nnbuilder.OperandType, outRaw []byte, outType nnbuilder.OperandType, options nnbuilder.ResizeOptions) error {
	switch inType.DType {
	case dtypes.Float32:
		resizeBilinearFloat32(asSlice[float32](inRaw), inType.Dimensions, asSlice[float32](outRaw), outType.Dimensions, options)
		return nil
	case dtypes.Float16:
		// Computed in float32 and rounded back.
		in16 := asSlice[float16.Float16](inRaw)
		in := make([]float32, len(in16))
		for ii, v := range in16 {
			in[ii] = v.Float32()
		}
		out := make([]float32, outType.Size())
		resizeBilinearFloat32(in, inType.Dimensions, out, outType.Dimensions, options)
		out16 := asSlice[float16.Float16](outRaw)
		for ii, v := range out {
			out16[ii] = float16.Fromfloat32(v)
		}
		return nil
	}
	return errors.Errorf("dtype %s not supported", inType.DType)
}

// resizeScale returns the ratio of input to output coordinates along one axis.
func resizeScale(inSize, outSize int, alignCorners bool) float32 {
	if alignCorners && outSize > 1 {
		return float32(inSize-1) / float32(outSize-1)
	}
	return float32(inSize) / float32(outSize)
}

// interpolationBounds returns the two source indices around the output coordinate dst, and the weight of the
// upper one.
func interpolationBounds(dst int, scale float32, inSize int, halfPixelCenters bool) (lower, upper int, weight float32) {
	var src float32
	if halfPixelCenters {
		src = (float32(dst)+0.5)*scale - 0.5
	} else {
		src = float32(dst) * scale
	}
	lower = max(int(math32.Floor(src)), 0)
	upper = min(int(math32.Ceil(src)), inSize-1)
	lower = min(lower, inSize-1)
	weight = math32.Min(math32.Max(src-float32(lower), 0), 1)
	return
}

// resizeBilinearFloat32 is the float32 kernel. Each output value is a+(b-a)*w along the width, then along the
// height, so resizing constant regions reproduces the exact input value.
func resizeBilinearFloat32(in []float32, inDims []int, out []float32, outDims []int, options nnbuilder.ResizeOptions) {
	batch, inHeight, inWidth, channels := inDims[0], inDims[1], inDims[2], inDims[3]
	outHeight, outWidth := outDims[1], outDims[2]
	heightScale := resizeScale(inHeight, outHeight, options.AlignCorners)
	widthScale := resizeScale(inWidth, outWidth, options.AlignCorners)

	// Precompute the column bounds, they are the same for every row.
	type bounds struct {
		lower, upper int
		weight       float32
	}
	columns := make([]bounds, outWidth)
	for x := range columns {
		l, u, w := interpolationBounds(x, widthScale, inWidth, options.HalfPixelCenters)
		columns[x] = bounds{l * channels, u * channels, w}
	}

	inRowStride := inWidth * channels
	inBatchStride := inHeight * inRowStride
	outIdx := 0
	for b := 0; b < batch; b++ {
		inBatch := in[b*inBatchStride : (b+1)*inBatchStride]
		for y := 0; y < outHeight; y++ {
			y0, y1, dy := interpolationBounds(y, heightScale, inHeight, options.HalfPixelCenters)
			top := inBatch[y0*inRowStride : (y0+1)*inRowStride]
			bottom := inBatch[y1*inRowStride : (y1+1)*inRowStride]
			for _, col := range columns {
				for c := 0; c < channels; c++ {
					topLeft, topRight := top[col.lower+c], top[col.upper+c]
					bottomLeft, bottomRight := bottom[col.lower+c], bottom[col.upper+c]
					t := topLeft + (topRight-topLeft)*col.weight
					v := bottomLeft + (bottomRight-bottomLeft)*col.weight
					out[outIdx] = t + (v-t)*dy
					outIdx++
				}
			}
		}
	}
}
