package sheet

import (
	"image"
	"image/color"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlit(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}

	testCases := []struct {
		origin  image.Point
		wantErr bool
	}{
		{origin: image.Pt(0, 0)},
		{origin: image.Pt(3, 1)},
		{origin: image.Pt(4, 0), wantErr: true},
		{origin: image.Pt(0, 2), wantErr: true},
		{origin: image.Pt(-1, 0), wantErr: true},
	}
	for i, tC := range testCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			dst := image.NewNRGBA(image.Rect(0, 0, 5, 3))
			err := blit(dst, src, tC.origin)
			if tC.wantErr {
				assert.Error(t, err)
				assert.Equal(t, make([]byte, len(dst.Pix)), dst.Pix, "dst untouched")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint8(0xff), dst.NRGBAAt(tC.origin.X, tC.origin.Y).A)
			assert.Equal(t, uint8(0xff), dst.NRGBAAt(tC.origin.X+1, tC.origin.Y+1).A)
			assert.Equal(t, uint8(0), dst.NRGBAAt(tC.origin.X+2, tC.origin.Y).A)
		})
	}
}

func TestBlitSubImageSource(t *testing.T) {
	full := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	full.SetNRGBA(2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 4})
	sub := full.SubImage(image.Rect(2, 2, 4, 4)).(*image.NRGBA)

	dst := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	require.NoError(t, blit(dst, sub, image.Pt(1, 1)))
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 4}, dst.NRGBAAt(1, 1))
	assert.Equal(t, color.NRGBA{}, dst.NRGBAAt(0, 0))
}
