package world

import (
	"errors"
	"testing"
)

func validTestConfig() Config {
	return Config{
		RandomSeed:                1,
		PatchSize:                 8,
		MCMCIterations:            4,
		SamplerMode:               ModeMetropolisHastings,
		ScentDim:                  2,
		ColorDim:                  2,
		VisionRange:               3,
		MaxStepsPerMovement:       1,
		AllowedMovementDirections: [4]bool{true, true, true, true},
		AllowedTurnDirections:     [4]bool{true, true, true, true},
		ItemTypes: []ItemType{{
			Name:               "bean",
			Scent:              []float64{1, 0},
			Color:              []float64{1, 0},
			RequiredItemCounts: []int{0},
			RequiredItemCosts:  []int{0},
			Intensity:          FuncRef{Tag: TagConstant, Args: []float64{-2}},
			Interaction:        []FuncRef{{Tag: TagGaussian, Args: []float64{2, 1}}},
			Regeneration:       FuncRef{Tag: TagZero},
		}},
		AgentColor:          []float64{0, 1},
		CollisionPolicy:     FirstComeFirstServe,
		ScentDecay:          0.5,
		ScentDiffusion:      0.1,
		RemovedItemLifetime: 4,
		FieldOfView:         3.14,
	}
}

func TestConfigNewAcceptsValidConfig(t *testing.T) {
	sim, err := validTestConfig().New()
	if err != nil {
		t.Fatalf("New() failed on a valid config: %v", err)
	}
	if sim == nil {
		t.Fatal("New() returned a nil simulator without an error")
	}
}

func TestConfigNewRejectsNonPositivePatchSize(t *testing.T) {
	conf := validTestConfig()
	conf.PatchSize = 0
	if _, err := conf.New(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for patch size 0, got %v", err)
	}
}

func TestConfigNewRejectsScentColorLengthMismatch(t *testing.T) {
	conf := validTestConfig()
	conf.ItemTypes[0].Scent = []float64{1}
	if _, err := conf.New(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for mismatched scent length, got %v", err)
	}
}

func TestConfigNewRejectsBadScentDecay(t *testing.T) {
	for _, decay := range []float64{0, 1, -0.1, 1.1} {
		conf := validTestConfig()
		conf.ScentDecay = decay
		if _, err := conf.New(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("decay=%v: expected ErrInvalidArgument, got %v", decay, err)
		}
	}
}

func TestConfigNewRejectsUnresolvableEnergyFunction(t *testing.T) {
	conf := validTestConfig()
	conf.ItemTypes[0].Intensity = FuncRef{Tag: FuncTag(9999)}
	if _, err := conf.New(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unresolvable intensity tag, got %v", err)
	}
}

func TestConfigNewRequiresAtLeastOneItemType(t *testing.T) {
	conf := validTestConfig()
	conf.ItemTypes = nil
	if _, err := conf.New(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty catalog, got %v", err)
	}
}
