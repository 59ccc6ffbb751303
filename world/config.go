package world

import (
	"fmt"
	"log/slog"
)

// CollisionPolicy selects how the stepper resolves multiple agents moving
// into the same cell.
type CollisionPolicy uint8

const (
	NoCollisions CollisionPolicy = iota
	FirstComeFirstServe
	RandomCollision
)

// Config is the immutable-after-construction simulator configuration. It is
// validated and turned into a *Simulator by its own New method rather than a
// free function.
type Config struct {
	// Log is the Logger used for warnings and step-failure diagnostics. If
	// nil, Log defaults to slog.Default().
	Log *slog.Logger

	RandomSeed     uint64
	PatchSize      int64 // n, power-of-two recommended
	MCMCIterations int
	SamplerMode    SamplerMode
	ScentDim       int
	ColorDim       int
	VisionRange    int64

	MaxStepsPerMovement       int64
	AllowedMovementDirections [4]bool
	AllowedTurnDirections     [4]bool
	NoOpAllowed               bool

	ItemTypes  []ItemType
	AgentColor []float64

	CollisionPolicy     CollisionPolicy
	ScentDecay          float64 // lambda, in (0,1)
	ScentDiffusion      float64 // delta, in [0,1)
	RemovedItemLifetime int64
	FieldOfView         float64 // radians

	// Registry supplies custom energy functions beyond the required
	// built-ins. If nil, a fresh NewRegistry() is used.
	Registry *Registry

	// CompressSnapshots wraps the patch-map section of saved snapshots in a
	// zstd stream.
	CompressSnapshots bool
}

// New validates conf and constructs a ready-to-use Simulator. Construction
// errors are fatal: the returned error wraps ErrInvalidArgument and no
// partial Simulator is returned.
func (conf Config) New() (*Simulator, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.PatchSize <= 0 {
		return nil, fmt.Errorf("%w: patch size must be positive", ErrInvalidArgument)
	}
	if conf.MCMCIterations < 0 {
		return nil, fmt.Errorf("%w: mcmc iterations must be non-negative", ErrInvalidArgument)
	}
	if conf.ScentDim <= 0 || conf.ColorDim <= 0 {
		return nil, fmt.Errorf("%w: scent and color dimensions must be positive", ErrInvalidArgument)
	}
	if conf.VisionRange < 0 {
		return nil, fmt.Errorf("%w: vision range must be non-negative", ErrInvalidArgument)
	}
	if conf.ScentDecay <= 0 || conf.ScentDecay >= 1 {
		return nil, fmt.Errorf("%w: scent decay must be in (0,1)", ErrInvalidArgument)
	}
	if conf.ScentDiffusion < 0 || conf.ScentDiffusion >= 1 {
		return nil, fmt.Errorf("%w: scent diffusion must be in [0,1)", ErrInvalidArgument)
	}
	if len(conf.AgentColor) != conf.ColorDim {
		return nil, fmt.Errorf("%w: agent color must have length color_dim", ErrInvalidArgument)
	}
	if len(conf.ItemTypes) == 0 {
		return nil, fmt.Errorf("%w: at least one item type is required", ErrInvalidArgument)
	}
	registry := conf.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	n := len(conf.ItemTypes)
	for _, it := range conf.ItemTypes {
		if len(it.Scent) != conf.ScentDim {
			return nil, fmt.Errorf("%w: item type %q scent must have length scent_dim", ErrInvalidArgument, it.Name)
		}
		if len(it.Color) != conf.ColorDim {
			return nil, fmt.Errorf("%w: item type %q color must have length color_dim", ErrInvalidArgument, it.Name)
		}
		if len(it.RequiredItemCounts) != n || len(it.RequiredItemCosts) != n {
			return nil, fmt.Errorf("%w: item type %q required-item arrays must have length item_type_count", ErrInvalidArgument, it.Name)
		}
		if len(it.Interaction) != n {
			return nil, fmt.Errorf("%w: item type %q interaction list must have length item_type_count", ErrInvalidArgument, it.Name)
		}
		if _, _, _, err := registry.Intensity(it.Intensity); err != nil {
			return nil, fmt.Errorf("item type %q: %w", it.Name, err)
		}
		for j, ref := range it.Interaction {
			if _, _, _, err := registry.Interaction(ref); err != nil {
				return nil, fmt.Errorf("item type %q interaction[%d]: %w", it.Name, j, err)
			}
		}
		if _, _, err := registry.Regeneration(it.Regeneration); err != nil {
			return nil, fmt.Errorf("item type %q regeneration: %w", it.Name, err)
		}
	}

	conf.Registry = registry
	return newSimulator(conf)
}
