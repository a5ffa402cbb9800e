package assets

import (
	"image"

	"golang.org/x/image/draw"
)

// ScaleRGBA re-encodes a cached top-mip RGBA8 buffer to the resolution of
// a lower mip level, per SPEC_FULL.md's image-primer supplement: "if only
// the top-resolution override exists, lower mips are re-encoded from the
// cached RGBA on subsequent uploads of the same image" (spec.md §4.H
// CmdCopyBufferToImage). Uses bilinear filtering, matching the quality a
// GPU's own mip generation would produce for a non-power-of-two scale.
func ScaleRGBA(src []byte, srcW, srcH, dstW, dstH int) []byte {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return nil
	}
	if dstW == srcW && dstH == srcH {
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}

	srcImg := &image.NRGBA{
		Pix:    src,
		Stride: srcW * 4,
		Rect:   image.Rect(0, 0, srcW, srcH),
	}
	dstImg := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Over, nil)
	return dstImg.Pix
}
