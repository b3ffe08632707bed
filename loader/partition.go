package loader

import "math/rand"

// IndexGroup holds the dataset positions that make up a single batch.
type IndexGroup []int

// Partition splits the positions [0, numSamples) into groups of batchSize.
// With shuffle set, positions are permuted by a generator seeded with seed
// before being split, so the same inputs always produce the same groups.
func Partition(numSamples, batchSize int, shuffle bool, seed int64) ([]IndexGroup, error) {
	if batchSize < 1 {
		return nil, invalidConfig("batch size must be positive, got %d", batchSize)
	}
	if numSamples < 0 {
		return nil, invalidConfig("number of samples must not be negative, got %d", numSamples)
	}

	positions := make([]int, numSamples)
	for i := range positions {
		positions[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(positions), func(i, j int) {
			positions[i], positions[j] = positions[j], positions[i]
		})
	}

	groups := make([]IndexGroup, 0, numBatches(numSamples, batchSize))
	for from := 0; from < numSamples; from += batchSize {
		to := from + batchSize
		if to > numSamples {
			to = numSamples
		}
		groups = append(groups, positions[from:to:to])
	}
	return groups, nil
}

func numBatches(numSamples, batchSize int) int {
	return (numSamples + batchSize - 1) / batchSize
}
