package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/jbw-sim/jbw/world"
)

// UserConfig is the on-disk, TOML-serialisable configuration for the
// jbw-server binary. It is converted to a world.Config by UserConfig.WorldConfig.
type UserConfig struct {
	Network struct {
		Address string
	}
	World struct {
		RandomSeed          uint64
		PatchSize           int64
		MCMCIterations      int
		SamplerMode         string
		ScentDim            int
		ColorDim            int
		VisionRange         int64
		ScentDecay          float64
		ScentDiffusion      float64
		RemovedItemLifetime int64
		FieldOfView         float64
		CollisionPolicy     string
	}
	Agent struct {
		MaxStepsPerMovement int64
		NoOpAllowed         bool
	}
	Persistence struct {
		SnapshotFile      string
		CompressSnapshots bool
		PatchCacheDir     string
	}
}

// DefaultConfig returns a UserConfig with reasonable defaults filled out,
// sufficient to run a small single-jellybean-type world.
func DefaultConfig() UserConfig {
	var c UserConfig
	c.Network.Address = ":54321"
	c.World.RandomSeed = 1
	c.World.PatchSize = 32
	c.World.MCMCIterations = 10
	c.World.SamplerMode = "metropolis_hastings"
	c.World.ScentDim = 3
	c.World.ColorDim = 3
	c.World.VisionRange = 5
	c.World.ScentDecay = 0.6
	c.World.ScentDiffusion = 0.3
	c.World.RemovedItemLifetime = 10
	c.World.FieldOfView = 3.14159265
	c.World.CollisionPolicy = "first_come_first_serve"
	c.Agent.MaxStepsPerMovement = 1
	c.Agent.NoOpAllowed = true
	c.Persistence.SnapshotFile = "jbw.snapshot"
	c.Persistence.PatchCacheDir = ""
	return c
}

// LoadOrCreateConfig reads path, or writes DefaultConfig() to it if it does
// not yet exist.
func LoadOrCreateConfig(path string) (UserConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c := DefaultConfig()
		encoded, mErr := toml.Marshal(c)
		if mErr != nil {
			return c, fmt.Errorf("encode default config: %w", mErr)
		}
		if wErr := os.WriteFile(path, encoded, 0644); wErr != nil {
			return c, fmt.Errorf("write default config: %w", wErr)
		}
		return c, nil
	}
	if err != nil {
		return UserConfig{}, fmt.Errorf("read config: %w", err)
	}
	c := DefaultConfig()
	if err := toml.Unmarshal(data, &c); err != nil {
		return UserConfig{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

func parseSamplerMode(s string) world.SamplerMode {
	if strings.EqualFold(s, "gibbs") {
		return world.ModeGibbs
	}
	return world.ModeMetropolisHastings
}

func parseCollisionPolicy(s string) world.CollisionPolicy {
	switch strings.ToLower(s) {
	case "no_collisions":
		return world.NoCollisions
	case "random_collision":
		return world.RandomCollision
	default:
		return world.FirstComeFirstServe
	}
}

// defaultCatalog returns a minimal single-item-type catalog used when no
// richer catalog is configured: a jellybean with a mildly clustering
// Gaussian self-interaction and constant intensity and regeneration.
func defaultCatalog(scentDim, colorDim int) []world.ItemType {
	scent := make([]float64, scentDim)
	if scentDim > 0 {
		scent[0] = 1
	}
	color := make([]float64, colorDim)
	if colorDim > 0 {
		color[0] = 1
	}
	return []world.ItemType{{
		Name:               "jellybean",
		Scent:              scent,
		Color:              color,
		RequiredItemCounts: []int{0},
		RequiredItemCosts:  []int{0},
		BlocksMovement:     false,
		VisualOcclusion:    0,
		Intensity:          world.FuncRef{Tag: world.TagConstant, Args: []float64{-6}},
		Interaction:        []world.FuncRef{{Tag: world.TagGaussian, Args: []float64{3, 2}}},
		Regeneration:       world.FuncRef{Tag: world.TagConstant, Args: []float64{0.01}},
		Lifetime:           0,
	}}
}

// WorldConfig converts uc to a world.Config, ready for (world.Config).New.
func (uc UserConfig) WorldConfig(log *slog.Logger) world.Config {
	return world.Config{
		Log:                       log,
		RandomSeed:                uc.World.RandomSeed,
		PatchSize:                 uc.World.PatchSize,
		MCMCIterations:            uc.World.MCMCIterations,
		SamplerMode:               parseSamplerMode(uc.World.SamplerMode),
		ScentDim:                  uc.World.ScentDim,
		ColorDim:                  uc.World.ColorDim,
		VisionRange:               uc.World.VisionRange,
		MaxStepsPerMovement:       uc.Agent.MaxStepsPerMovement,
		AllowedMovementDirections: [4]bool{true, true, true, true},
		AllowedTurnDirections:     [4]bool{true, true, true, true},
		NoOpAllowed:               uc.Agent.NoOpAllowed,
		ItemTypes:                 defaultCatalog(uc.World.ScentDim, uc.World.ColorDim),
		AgentColor:                make([]float64, uc.World.ColorDim),
		CollisionPolicy:           parseCollisionPolicy(uc.World.CollisionPolicy),
		ScentDecay:                uc.World.ScentDecay,
		ScentDiffusion:            uc.World.ScentDiffusion,
		RemovedItemLifetime:       uc.World.RemovedItemLifetime,
		FieldOfView:               uc.World.FieldOfView,
		CompressSnapshots:         uc.Persistence.CompressSnapshots,
	}
}
