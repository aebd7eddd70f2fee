package resource_manager

import (
	"math/rand"
	"sync"

	"batch-orchestrator/core/models"
)

// CapabilityGenerator produces the static capabilities of a new worker
type CapabilityGenerator func() models.Capabilities

// Capability bounds for randomly generated workers
const (
	minOptimizationLevel = 0.8
	maxOptimizationLevel = 1.0
	minAdaptability      = 0.7
	maxAdaptability      = 1.0
	minLearningRate      = 0.05
	maxLearningRate      = 0.10
)

// RandomCapabilities draws bounded capabilities from a seeded source.
// The same seed always yields the same sequence of workers.
func RandomCapabilities(seed int64) CapabilityGenerator {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))

	between := func(lo, hi float64) float64 {
		return lo + rng.Float64()*(hi-lo)
	}

	return func() models.Capabilities {
		mu.Lock()
		defer mu.Unlock()
		return models.Capabilities{
			OptimizationLevel: between(minOptimizationLevel, maxOptimizationLevel),
			AdaptabilityScore: between(minAdaptability, maxAdaptability),
			LearningRate:      between(minLearningRate, maxLearningRate),
		}
	}
}

// FixedCapabilities gives every worker the same capabilities
func FixedCapabilities(c models.Capabilities) CapabilityGenerator {
	return func() models.Capabilities {
		return c
	}
}
