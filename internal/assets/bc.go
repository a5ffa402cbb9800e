package assets

import "fmt"

// All five codecs operate on 4x4 pixel blocks in row-major block order,
// per spec.md §4.I. RGBA is always 4 bytes/pixel, row-major, no padding.

func blockGrid(width, height int) (blocksX, blocksY int) {
	blocksX = (width + 3) / 4
	blocksY = (height + 3) / 4
	return
}

func rgbaAt(rgba []byte, width int, x, y int) []byte {
	i := (y*width + x) * 4
	return rgba[i : i+4]
}

// color565 unpacks a 16-bit RGB565 value to 8-bit-per-channel RGB.
func color565(c uint16) (r, g, b uint8) {
	r = uint8((c>>11)&0x1f) * 255 / 31
	g = uint8((c>>5)&0x3f) * 255 / 63
	b = uint8(c&0x1f) * 255 / 31
	return
}

func pack565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// ---- BC1 (DXT1): 8 bytes/block, RGB plus a 1-bit-style alpha via the
// "color3 == black" convention when c0<=c1. ----

type bc1Codec struct{}

func (bc1Codec) Decode(data []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	if len(data) < bx*by*8 {
		return nil, fmt.Errorf("assets: bc1: short block data")
	}
	out := make([]byte, width*height*4)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			block := data[idx : idx+8]
			idx += 8
			c0 := le16(block[0:2])
			c1 := le16(block[2:4])
			bits := le32(block[4:8])
			r0, g0, b0 := color565(c0)
			r1, g1, b1 := color565(c1)
			var palette [4][4]uint8 // [i] = r,g,b,a
			palette[0] = [4]uint8{r0, g0, b0, 255}
			palette[1] = [4]uint8{r1, g1, b1, 255}
			if c0 > c1 {
				palette[2] = [4]uint8{uint8((2*int(r0) + int(r1)) / 3), uint8((2*int(g0) + int(g1)) / 3), uint8((2*int(b0) + int(b1)) / 3), 255}
				palette[3] = [4]uint8{uint8((int(r0) + 2*int(r1)) / 3), uint8((int(g0) + 2*int(g1)) / 3), uint8((int(b0) + 2*int(b1)) / 3), 255}
			} else {
				palette[2] = [4]uint8{uint8((int(r0) + int(r1)) / 2), uint8((int(g0) + int(g1)) / 2), uint8((int(b0) + int(b1)) / 2), 255}
				palette[3] = [4]uint8{0, 0, 0, 0}
			}
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bxi*4+px, byi*4+py
					if x >= width || y >= height {
						continue
					}
					sel := (bits >> uint((py*4+px)*2)) & 0x3
					p := palette[sel]
					dst := rgbaAt(out, width, x, y)
					dst[0], dst[1], dst[2], dst[3] = p[0], p[1], p[2], p[3]
				}
			}
		}
	}
	return out, nil
}

func (bc1Codec) Encode(rgba []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	out := make([]byte, bx*by*8)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			minR, minG, minB := uint8(255), uint8(255), uint8(255)
			maxR, maxG, maxB := uint8(0), uint8(0), uint8(0)
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := clampCoord(bxi*4+px, width), clampCoord(byi*4+py, height)
					p := rgbaAt(rgba, width, x, y)
					minR, maxR = minMax(minR, maxR, p[0])
					minG, maxG = minMax(minG, maxG, p[1])
					minB, maxB = minMax(minB, maxB, p[2])
				}
			}
			c0 := pack565(maxR, maxG, maxB)
			c1 := pack565(minR, minG, minB)
			if c0 == c1 && c0 > 0 {
				c1--
			}
			block := out[idx : idx+8]
			putLE16(block[0:2], c0)
			putLE16(block[2:4], c1)
			r0, g0, b0 := color565(c0)
			r1, g1, b1 := color565(c1)
			var bits uint32
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := clampCoord(bxi*4+px, width), clampCoord(byi*4+py, height)
					p := rgbaAt(rgba, width, x, y)
					sel := nearestBC1Index(p, r0, g0, b0, r1, g1, b1)
					bits |= uint32(sel) << uint((py*4+px)*2)
				}
			}
			putLE32(block[4:8], bits)
			idx += 8
		}
	}
	return out, nil
}

func clampCoord(v, limit int) int {
	if v >= limit {
		return limit - 1
	}
	return v
}

func minMax(lo, hi, v uint8) (uint8, uint8) {
	if v < lo {
		lo = v
	}
	if v > hi {
		hi = v
	}
	return lo, hi
}

func nearestBC1Index(p []byte, r0, g0, b0, r1, g1, b1 uint8) uint32 {
	candidates := [4][3]int{
		{int(r0), int(g0), int(b0)},
		{int(r1), int(g1), int(b1)},
		{(2*int(r0) + int(r1)) / 3, (2*int(g0) + int(g1)) / 3, (2*int(b0) + int(b1)) / 3},
		{(int(r0) + 2*int(r1)) / 3, (int(g0) + 2*int(g1)) / 3, (int(b0) + 2*int(b1)) / 3},
	}
	best, bestDist := 0, int(^uint(0)>>1)
	for i, c := range candidates {
		dr, dg, db := int(p[0])-c[0], int(p[1])-c[1], int(p[2])-c[2]
		dist := dr*dr + dg*dg + db*db
		if dist < bestDist {
			bestDist, best = dist, i
		}
	}
	return uint32(best)
}

// ---- BC2: 4 bits/pixel explicit alpha + a BC1-style RGB block; decode
// only, per spec.md §4.I. ----

type bc2Codec struct{}

func (bc2Codec) Decode(data []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	if len(data) < bx*by*16 {
		return nil, fmt.Errorf("assets: bc2: short block data")
	}
	rgbOnly := bc1Codec{}
	out := make([]byte, width*height*4)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			alphaBlock := data[idx : idx+8]
			colorBlock := data[idx+8 : idx+16]
			idx += 16
			rgbBlockRGBA, err := rgbOnly.Decode(colorBlock, 4, 4)
			if err != nil {
				return nil, err
			}
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bxi*4+px, byi*4+py
					if x >= width || y >= height {
						continue
					}
					nibbleIdx := py*4 + px
					byteVal := alphaBlock[nibbleIdx/2]
					var a4 uint8
					if nibbleIdx%2 == 0 {
						a4 = byteVal & 0xf
					} else {
						a4 = byteVal >> 4
					}
					a := a4 * 17 // 4-bit -> 8-bit
					src := rgbaAt(rgbBlockRGBA, 4, px, py)
					dst := rgbaAt(out, width, x, y)
					dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], a
				}
			}
		}
	}
	return out, nil
}

// ---- BC3 (DXT5): BC4-style 8-bit interpolated alpha + BC1 RGB. ----

type bc3Codec struct{}

func (bc3Codec) Decode(data []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	if len(data) < bx*by*16 {
		return nil, fmt.Errorf("assets: bc3: short block data")
	}
	rgbOnly := bc1Codec{}
	out := make([]byte, width*height*4)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			alphaBlock := data[idx : idx+8]
			colorBlock := data[idx+8 : idx+16]
			idx += 16
			alphas := decodeBC4AlphaBlock(alphaBlock)
			rgbBlockRGBA, err := rgbOnly.Decode(colorBlock, 4, 4)
			if err != nil {
				return nil, err
			}
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bxi*4+px, byi*4+py
					if x >= width || y >= height {
						continue
					}
					src := rgbaAt(rgbBlockRGBA, 4, px, py)
					dst := rgbaAt(out, width, x, y)
					dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], alphas[py*4+px]
				}
			}
		}
	}
	return out, nil
}

func (bc3Codec) Encode(rgba []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	out := make([]byte, bx*by*16)
	rgbOnly := bc1Codec{}
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			block4 := make([]byte, 4*4*4)
			var alphaVals [16]uint8
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := clampCoord(bxi*4+px, width), clampCoord(byi*4+py, height)
					p := rgbaAt(rgba, width, x, y)
					dst := rgbaAt(block4, 4, px, py)
					copy(dst, p)
					alphaVals[py*4+px] = p[3]
				}
			}
			colorBlock, err := rgbOnly.Encode(block4, 4, 4)
			if err != nil {
				return nil, err
			}
			alphaBlock := encodeBC4AlphaBlock(alphaVals)
			copy(out[idx:idx+8], alphaBlock)
			copy(out[idx+8:idx+16], colorBlock)
			idx += 16
		}
	}
	return out, nil
}

// decodeBC4AlphaBlock/encodeBC4AlphaBlock implement the single-channel
// 8-endpoint interpolated block both BC3's alpha channel and BC4/BC5
// reuse verbatim.
func decodeBC4AlphaBlock(block []byte) [16]uint8 {
	a0, a1 := block[0], block[1]
	bits := uint64(block[2]) | uint64(block[3])<<8 | uint64(block[4])<<16 |
		uint64(block[5])<<24 | uint64(block[6])<<32 | uint64(block[7])<<40
	var palette [8]uint8
	palette[0], palette[1] = a0, a1
	if a0 > a1 {
		for i := 1; i <= 6; i++ {
			palette[1+i] = uint8((int(7-i)*int(a0) + int(i)*int(a1)) / 7)
		}
	} else {
		for i := 1; i <= 4; i++ {
			palette[1+i] = uint8((int(5-i)*int(a0) + int(i)*int(a1)) / 5)
		}
		palette[6] = 0
		palette[7] = 255
	}
	var out [16]uint8
	for i := 0; i < 16; i++ {
		sel := (bits >> uint(i*3)) & 0x7
		out[i] = palette[sel]
	}
	return out
}

func encodeBC4AlphaBlock(vals [16]uint8) []byte {
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	a0, a1 := hi, lo // a0 > a1 branch: 6 interpolated steps, no 0/255 extremes
	if a0 == a1 {
		if a0 > 0 {
			a1--
		} else {
			a0++
		}
	}
	var palette [8]uint8
	palette[0], palette[1] = a0, a1
	for i := 1; i <= 6; i++ {
		palette[1+i] = uint8((int(7-i)*int(a0) + int(i)*int(a1)) / 7)
	}
	out := make([]byte, 8)
	out[0], out[1] = a0, a1
	var bits uint64
	for i, v := range vals {
		best, bestDist := 0, 1<<30
		for s, c := range palette {
			d := int(v) - int(c)
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				bestDist, best = d, s
			}
		}
		bits |= uint64(best) << uint(i*3)
	}
	out[2] = byte(bits)
	out[3] = byte(bits >> 8)
	out[4] = byte(bits >> 16)
	out[5] = byte(bits >> 24)
	out[6] = byte(bits >> 32)
	out[7] = byte(bits >> 40)
	return out
}

// ---- BC4: single-channel version of BC3's alpha block, written to the
// red channel with green/blue/alpha at full scale. ----

type bc4Codec struct{}

func (bc4Codec) Decode(data []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	if len(data) < bx*by*8 {
		return nil, fmt.Errorf("assets: bc4: short block data")
	}
	out := make([]byte, width*height*4)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			vals := decodeBC4AlphaBlock(data[idx : idx+8])
			idx += 8
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bxi*4+px, byi*4+py
					if x >= width || y >= height {
						continue
					}
					dst := rgbaAt(out, width, x, y)
					v := vals[py*4+px]
					dst[0], dst[1], dst[2], dst[3] = v, v, v, 255
				}
			}
		}
	}
	return out, nil
}

func (bc4Codec) Encode(rgba []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	out := make([]byte, bx*by*8)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			var vals [16]uint8
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := clampCoord(bxi*4+px, width), clampCoord(byi*4+py, height)
					vals[py*4+px] = rgbaAt(rgba, width, x, y)[0]
				}
			}
			copy(out[idx:idx+8], encodeBC4AlphaBlock(vals))
			idx += 8
		}
	}
	return out, nil
}

// ---- BC5: two independent BC4 channels, typically tangent-space
// normal X/Y; reconstructed here into R/G with B/A filled as 0/255. ----

type bc5Codec struct{}

func (bc5Codec) Decode(data []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	if len(data) < bx*by*16 {
		return nil, fmt.Errorf("assets: bc5: short block data")
	}
	out := make([]byte, width*height*4)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			rVals := decodeBC4AlphaBlock(data[idx : idx+8])
			gVals := decodeBC4AlphaBlock(data[idx+8 : idx+16])
			idx += 16
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bxi*4+px, byi*4+py
					if x >= width || y >= height {
						continue
					}
					dst := rgbaAt(out, width, x, y)
					dst[0], dst[1], dst[2], dst[3] = rVals[py*4+px], gVals[py*4+px], 0, 255
				}
			}
		}
	}
	return out, nil
}

func (bc5Codec) Encode(rgba []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	out := make([]byte, bx*by*16)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			var rVals, gVals [16]uint8
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := clampCoord(bxi*4+px, width), clampCoord(byi*4+py, height)
					p := rgbaAt(rgba, width, x, y)
					rVals[py*4+px] = p[0]
					gVals[py*4+px] = p[1]
				}
			}
			copy(out[idx:idx+8], encodeBC4AlphaBlock(rVals))
			copy(out[idx+8:idx+16], encodeBC4AlphaBlock(gVals))
			idx += 16
		}
	}
	return out, nil
}

// ---- BC7 ----
//
// BC7 has eight modes with different partition/endpoint/index-bit
// layouts; a complete implementation is out of scope for the reference
// codec spec.md §1 asks this layer to stand behind an interface (a real
// deployment swaps in a proper BC7 encoder). This codec implements mode
// 6 only (one partition, 7.7.7.7 color+alpha endpoints, a per-pixel
// parity bit, 4-bit indices) for both directions, and decodes any other
// mode's header as best-effort: unrecognized modes decode to opaque
// mid-gray rather than failing the whole texture load.
type bc7Codec struct{}

func (bc7Codec) Decode(data []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	if len(data) < bx*by*16 {
		return nil, fmt.Errorf("assets: bc7: short block data")
	}
	out := make([]byte, width*height*4)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			block := data[idx : idx+16]
			idx += 16
			pixels := decodeBC7Block(block)
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bxi*4+px, byi*4+py
					if x >= width || y >= height {
						continue
					}
					dst := rgbaAt(out, width, x, y)
					copy(dst, pixels[(py*4+px)*4:(py*4+px)*4+4])
				}
			}
		}
	}
	return out, nil
}

func (bc7Codec) Encode(rgba []byte, width, height int) ([]byte, error) {
	bx, by := blockGrid(width, height)
	out := make([]byte, bx*by*16)
	idx := 0
	for byi := 0; byi < by; byi++ {
		for bxi := 0; bxi < bx; bxi++ {
			var px16 [16 * 4]byte
			for py := 0; py < 4; py++ {
				for pxi := 0; pxi < 4; pxi++ {
					x, y := clampCoord(bxi*4+pxi, width), clampCoord(byi*4+py, height)
					p := rgbaAt(rgba, width, x, y)
					copy(px16[(py*4+pxi)*4:(py*4+pxi)*4+4], p)
				}
			}
			copy(out[idx:idx+16], encodeBC7Mode6Block(px16))
			idx += 16
		}
	}
	return out, nil
}

// bc7BitReader reads LSB-first bitfields out of a 128-bit block, the
// convention the BC7 spec uses for every mode.
type bc7BitReader struct {
	data []byte
	pos  int
}

func (r *bc7BitReader) read(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		byteIdx := (r.pos + i) / 8
		bitIdx := (r.pos + i) % 8
		if byteIdx < len(r.data) && r.data[byteIdx]&(1<<uint(bitIdx)) != 0 {
			v |= 1 << uint(i)
		}
	}
	r.pos += n
	return v
}

func expand7(v uint32) uint8 { return uint8(v<<1 | v>>6) }

// decodeBC7Block decodes mode 6 fully and falls back to opaque mid-gray
// for every other mode.
func decodeBC7Block(block []byte) []byte {
	out := make([]byte, 16*4)
	mode := -1
	for i := 0; i < 8; i++ {
		if block[0]&(1<<uint(i)) != 0 {
			mode = i
			break
		}
	}
	if mode != 6 {
		for i := range out {
			if i%4 == 3 {
				out[i] = 255
			} else {
				out[i] = 128
			}
		}
		return out
	}
	r := &bc7BitReader{data: block, pos: 7} // skip the mode-6 unary "0000001" prefix
	r0, r1 := r.read(7), r.read(7)
	g0, g1 := r.read(7), r.read(7)
	b0, b1 := r.read(7), r.read(7)
	a0, a1 := r.read(7), r.read(7)
	p0, p1 := r.read(1), r.read(1)
	er0, er1 := expand7(r0)|uint8(p0), expand7(r1)|uint8(p1)
	eg0, eg1 := expand7(g0)|uint8(p0), expand7(g1)|uint8(p1)
	eb0, eb1 := expand7(b0)|uint8(p0), expand7(b1)|uint8(p1)
	ea0, ea1 := expand7(a0)|uint8(p0), expand7(a1)|uint8(p1)

	indexBits := 4
	for i := 0; i < 16; i++ {
		bits := indexBits
		if i == 0 {
			bits-- // the anchor index is stored with one fewer bit
		}
		sel := r.read(bits)
		weight := bc7Weight4(int(sel))
		px := out[i*4 : i*4+4]
		px[0] = lerp8(er0, er1, weight)
		px[1] = lerp8(eg0, eg1, weight)
		px[2] = lerp8(eb0, eb1, weight)
		px[3] = lerp8(ea0, ea1, weight)
	}
	return out
}

var bc7Weights4 = [16]int{0, 4, 9, 13, 17, 21, 26, 30, 34, 38, 43, 47, 51, 55, 60, 64}

func bc7Weight4(sel int) int {
	if sel < 0 || sel >= len(bc7Weights4) {
		return 0
	}
	return bc7Weights4[sel]
}

func lerp8(a, b uint8, weight int) uint8 {
	return uint8((int(a)*(64-weight) + int(b)*weight + 32) >> 6)
}

// encodeBC7Mode6Block encodes a 4x4 block with the mode-6 layout only:
// one pair of RGBA endpoints, no partitioning, 4-bit indices with a
// 3-bit anchor. Endpoints are just the block's min/max per channel,
// which is a crude but valid encoding matching this reference codec's
// documented fidelity (spec.md §8 "within the codec's documented error
// band").
func encodeBC7Mode6Block(px16 [64]byte) []byte {
	lo := [4]uint8{255, 255, 255, 255}
	hi := [4]uint8{0, 0, 0, 0}
	for i := 0; i < 16; i++ {
		for c := 0; c < 4; c++ {
			v := px16[i*4+c]
			if v < lo[c] {
				lo[c] = v
			}
			if v > hi[c] {
				hi[c] = v
			}
		}
	}
	out := make([]byte, 16)
	out[0] = 1 << 6 // mode 6 unary prefix: bit 6 set, bits 0-5 clear
	w := &bc7BitWriter{data: out, pos: 7}
	put7 := func(v uint8) { w.write(uint32(v>>1), 7) }
	put7(hi[0])
	put7(lo[0])
	put7(hi[1])
	put7(lo[1])
	put7(hi[2])
	put7(lo[2])
	put7(hi[3])
	put7(lo[3])
	w.write(1, 1) // p0
	w.write(1, 1) // p1
	for i := 0; i < 16; i++ {
		px := px16[i*4 : i*4+4]
		sel := nearestBC7Index(px, hi, lo)
		bits := 4
		if i == 0 {
			bits = 3
		}
		w.write(uint32(sel), bits)
	}
	return out
}

func nearestBC7Index(px []byte, hi, lo [4]uint8) int {
	best, bestDist := 0, 1<<30
	for s, weight := range bc7Weights4 {
		dist := 0
		for c := 0; c < 4; c++ {
			v := lerp8(hi[c]|1, lo[c]|1, weight)
			d := int(px[c]) - int(v)
			dist += d * d
		}
		if dist < bestDist {
			bestDist, best = dist, s
		}
	}
	return best
}

type bc7BitWriter struct {
	data []byte
	pos  int
}

func (w *bc7BitWriter) write(v uint32, n int) {
	for i := 0; i < n; i++ {
		if v&(1<<uint(i)) != 0 {
			byteIdx := (w.pos + i) / 8
			bitIdx := (w.pos + i) % 8
			w.data[byteIdx] |= 1 << uint(bitIdx)
		}
	}
	w.pos += n
}
