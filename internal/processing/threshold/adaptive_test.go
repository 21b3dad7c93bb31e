package threshold

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshcam/internal/frame"
)

func newFrame(t testing.TB, w, h int, pix ...uint8) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, h)
	require.NoError(t, err)
	if len(pix) > 0 {
		require.Len(t, pix, w*h)
		copy(f.Pix, pix)
	}
	return f
}

func randomFrame(t testing.TB, rng *rand.Rand, w, h int) *frame.Frame {
	f := newFrame(t, w, h)
	for i := range f.Pix {
		f.Pix[i] = uint8(rng.Intn(256))
	}
	return f
}

// reference computes the expected output one pixel at a time.
func reference(src *frame.Frame, p Params) []uint8 {
	r := p.BlockSize / 2
	area := p.BlockSize * p.BlockSize
	out := make([]uint8, len(src.Pix))
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			sum := 0
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					sum += int(src.At(clamp(x+dx, src.Width), clamp(y+dy, src.Height)))
				}
			}
			mean := (sum + area/2) / area
			d := int(src.At(x, y)) - mean
			var fg bool
			if p.Direction == Binary {
				fg = d > -int(math.Ceil(p.Offset))
			} else {
				fg = d < -int(math.Floor(p.Offset))
			}
			if fg {
				out[y*src.Width+x] = p.MaxValue
			}
		}
	}
	return out
}

func TestNewRejectsInvalidBlockSize(t *testing.T) {
	for _, bs := range []int{-1, 0, 1, 2, 4, 20, MaxBlockSize + 2} {
		p := DefaultParams()
		p.BlockSize = bs
		_, err := New(p)
		assert.ErrorIs(t, err, ErrInvalidParameter, "block size %d", bs)
	}
}

func TestNewRejectsOtherInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.MaxValue = 0
	_, err := New(p)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	p = DefaultParams()
	p.Offset = math.NaN()
	_, err = New(p)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	p = DefaultParams()
	p.Direction = Direction(7)
	_, err = New(p)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestInvalidParamsNeverTouchSamples(t *testing.T) {
	p := Params{BlockSize: 2, Offset: 0, Direction: Binary, MaxValue: 255}
	a, err := New(p)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Nil(t, a)
}

func TestIsolatedBrightPixel(t *testing.T) {
	f := newFrame(t, 3, 3,
		10, 10, 10,
		10, 200, 10,
		10, 10, 10,
	)
	a, err := New(Params{BlockSize: 3, Offset: 5, Direction: Binary, MaxValue: 255})
	require.NoError(t, err)

	out, err := a.Process(f)
	require.NoError(t, err)
	assert.Equal(t, []uint8{
		0, 0, 0,
		0, 255, 0,
		0, 0, 0,
	}, out.Pix)
}

func TestUniformFrameHasNoEdges(t *testing.T) {
	for _, dir := range []Direction{Binary, BinaryInverted} {
		for _, v := range []uint8{0, 17, 128, 255} {
			f := newFrame(t, 9, 7)
			f.Fill(v)
			a, err := New(Params{BlockSize: 5, Offset: 0, Direction: dir, MaxValue: 255})
			require.NoError(t, err)

			out, err := a.Process(f)
			require.NoError(t, err)
			for i, s := range out.Pix {
				require.Equal(t, uint8(0), s, "%s value %d sample %d", dir, v, i)
			}
		}
	}
}

func TestMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cases := []struct {
		w, h int
		p    Params
	}{
		{16, 12, Params{BlockSize: 3, Offset: 5, Direction: Binary, MaxValue: 255}},
		{16, 12, Params{BlockSize: 5, Offset: -3, Direction: BinaryInverted, MaxValue: 200}},
		{31, 17, DefaultParams()},
		{4, 3, Params{BlockSize: 9, Offset: 2.5, Direction: Binary, MaxValue: 1}},
		{1, 1, Params{BlockSize: 3, Offset: 0, Direction: BinaryInverted, MaxValue: 255}},
		{40, 1, Params{BlockSize: 7, Offset: 1.5, Direction: BinaryInverted, MaxValue: 255}},
	}
	for _, tc := range cases {
		src := randomFrame(t, rng, tc.w, tc.h)
		want := reference(src, tc.p)

		a, err := New(tc.p)
		require.NoError(t, err)
		out, err := a.Process(src.Clone())
		require.NoError(t, err)
		assert.Equal(t, want, out.Pix, "%dx%d %+v", tc.w, tc.h, tc.p)
	}
}

func TestOutputShapeAndLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := Params{BlockSize: 7, Offset: 3, Direction: Binary, MaxValue: 180}
	a, err := New(p)
	require.NoError(t, err)

	src := randomFrame(t, rng, 23, 11)
	out, err := a.Process(src.Clone())
	require.NoError(t, err)

	assert.Equal(t, src.Width, out.Width)
	assert.Equal(t, src.Height, out.Height)
	for _, s := range out.Pix {
		if s != 0 && s != p.MaxValue {
			t.Fatalf("unexpected level %d", s)
		}
	}
}

func TestDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	src := randomFrame(t, rng, 64, 48)

	a, err := New(DefaultParams())
	require.NoError(t, err)
	first, err := a.Process(src.Clone())
	require.NoError(t, err)
	second, err := a.Process(src.Clone())
	require.NoError(t, err)

	b, err := New(DefaultParams())
	require.NoError(t, err)
	third, err := b.Process(src.Clone())
	require.NoError(t, err)

	assert.Equal(t, first.Pix, second.Pix)
	assert.Equal(t, first.Pix, third.Pix)
}

func TestProcessIntoMatchesInPlace(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	src := randomFrame(t, rng, 20, 20)
	src.Seq = 9

	a, err := New(DefaultParams())
	require.NoError(t, err)

	dst := newFrame(t, 20, 20)
	require.NoError(t, a.ProcessInto(dst, src))
	assert.Equal(t, uint64(9), dst.Seq)

	inPlace, err := a.Process(src.Clone())
	require.NoError(t, err)
	assert.Equal(t, inPlace.Pix, dst.Pix)
}

func TestProcessIntoRejectsMismatchedDestination(t *testing.T) {
	a, err := New(DefaultParams())
	require.NoError(t, err)

	err = a.ProcessInto(newFrame(t, 4, 4), newFrame(t, 5, 4))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBuffersReusedForSameSize(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a, err := New(DefaultParams())
	require.NoError(t, err)

	w, h := a.BufferSize()
	assert.Zero(t, w)
	assert.Zero(t, h)

	_, err = a.Process(randomFrame(t, rng, 32, 24))
	require.NoError(t, err)
	_, err = a.Process(randomFrame(t, rng, 32, 24))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Allocations())

	f := randomFrame(t, rng, 32, 24)
	allocs := testing.AllocsPerRun(20, func() {
		if _, err := a.Process(f); err != nil {
			t.Fatal(err)
		}
	})
	assert.Zero(t, allocs)
	assert.Equal(t, 1, a.Allocations())
}

func TestBuffersResizeOnNewDimensions(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	a, err := New(DefaultParams())
	require.NoError(t, err)

	_, err = a.Process(randomFrame(t, rng, 10, 10))
	require.NoError(t, err)

	src := randomFrame(t, rng, 12, 8)
	want := reference(src, a.Params())
	out, err := a.Process(src)
	require.NoError(t, err)
	assert.Equal(t, want, out.Pix)
	assert.Equal(t, 2, a.Allocations())

	w, h := a.BufferSize()
	assert.Equal(t, 12, w)
	assert.Equal(t, 8, h)
}

func TestReleaseDropsBuffers(t *testing.T) {
	a, err := New(DefaultParams())
	require.NoError(t, err)
	_, err = a.Process(newFrame(t, 6, 6))
	require.NoError(t, err)

	a.Release()
	w, h := a.BufferSize()
	assert.Zero(t, w+h)

	_, err = a.Process(newFrame(t, 6, 6))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Allocations())
}

func TestApplyHonorsCancelledContext(t *testing.T) {
	a, err := New(DefaultParams())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Apply(ctx, newFrame(t, 3, 3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "adaptive_threshold", a.Name())
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("Binary")
	require.NoError(t, err)
	assert.Equal(t, Binary, d)

	d, err = ParseDirection("binary_inv")
	require.NoError(t, err)
	assert.Equal(t, BinaryInverted, d)

	_, err = ParseDirection("otsu")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func BenchmarkProcessVGA(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	f := randomFrame(b, rng, 640, 480)
	a, err := New(DefaultParams())
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := a.Process(f); err != nil {
			b.Fatal(err)
		}
	}
}
