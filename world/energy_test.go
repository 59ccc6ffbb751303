package world

import (
	"errors"
	"math"
	"testing"
)

func TestRegistryResolveUnknownTag(t *testing.T) {
	r := NewRegistry()
	_, _, _, err := r.Intensity(FuncRef{Tag: FuncTag(999)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown tag, got %v", err)
	}
}

func TestRegistryResolveWrongArgCount(t *testing.T) {
	r := NewRegistry()
	_, _, _, err := r.Intensity(FuncRef{Tag: TagConstant, Args: []float64{1, 2}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for bad arg count, got %v", err)
	}
}

func TestRegistryConstantIntensity(t *testing.T) {
	r := NewRegistry()
	fn, stationary, timeIndependent, err := r.Intensity(FuncRef{Tag: TagConstant, Args: []float64{-3.5}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !stationary || !timeIndependent {
		t.Fatalf("CONSTANT intensity should be stationary and time-independent")
	}
	if got := fn(Position{5, 5}, nil); got != -3.5 {
		t.Errorf("CONSTANT(-3.5) at any position = %v, want -3.5", got)
	}
}

func TestRegistryCustomRegistration(t *testing.T) {
	r := NewRegistry()
	r.RegisterIntensity(FuncTag(500), func(pos Position, args []float64) float64 {
		return float64(pos.X) * args[0]
	}, false, true, 1)
	fn, _, _, err := r.Intensity(FuncRef{Tag: FuncTag(500), Args: []float64{2}})
	if err != nil {
		t.Fatalf("resolve custom: %v", err)
	}
	if got := fn(Position{3, 0}, nil); got != 6 {
		t.Errorf("custom intensity(3,0) = %v, want 6", got)
	}
}

func TestMooreInteractionNeighborhood(t *testing.T) {
	origin := Position{0, 0}
	for dx := int64(-2); dx <= 2; dx++ {
		for dy := int64(-2); dy <= 2; dy++ {
			p := Position{dx, dy}
			got := mooreInteraction(origin, p, []float64{7})
			inMoore := dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1 && !(dx == 0 && dy == 0)
			want := 0.0
			if inMoore {
				want = 7
			}
			if got != want {
				t.Errorf("mooreInteraction(origin, %v) = %v, want %v", p, got, want)
			}
		}
	}
}

func TestFourInteractionVonNeumannOnly(t *testing.T) {
	origin := Position{0, 0}
	cases := map[Position]float64{
		{1, 0}:  5,
		{-1, 0}: 5,
		{0, 1}:  5,
		{0, -1}: 5,
		{1, 1}:  0,
		{0, 0}:  0,
	}
	for p, want := range cases {
		if got := fourInteraction(origin, p, []float64{5}); got != want {
			t.Errorf("fourInteraction(origin, %v) = %v, want %v", p, got, want)
		}
	}
}

func TestGaussianInteractionDecaysWithDistance(t *testing.T) {
	origin := Position{0, 0}
	near := gaussianInteraction(origin, Position{1, 0}, []float64{2, 1})
	far := gaussianInteraction(origin, Position{10, 0}, []float64{2, 1})
	if !(near > far) {
		t.Fatalf("expected GAUSSIAN energy to decay with distance: near=%v far=%v", near, far)
	}
	if got := gaussianInteraction(origin, origin, []float64{2, 1}); math.Abs(got-1) > 1e-9 {
		t.Errorf("GAUSSIAN at zero displacement = %v, want amplitude 1", got)
	}
}

func TestCustomRegenerationBoundsChecked(t *testing.T) {
	args := []float64{0.1, 0.2, 0.3}
	if got := customRegeneration(Position{}, -1, args); got != 0 {
		t.Errorf("tick -1 should return 0, got %v", got)
	}
	if got := customRegeneration(Position{}, 3, args); got != 0 {
		t.Errorf("tick beyond len(args) should return 0, got %v", got)
	}
	if got := customRegeneration(Position{}, 1, args); got != 0.2 {
		t.Errorf("tick 1 = %v, want 0.2", got)
	}
}

func TestRadialHashIntensityDeterministic(t *testing.T) {
	args := []float64{0, 1, 0, 1}
	a := radialHashIntensity(Position{42, -17}, args)
	b := radialHashIntensity(Position{42, -17}, args)
	if a != b {
		t.Fatalf("RADIAL_HASH is not deterministic for the same position: %v != %v", a, b)
	}
}
