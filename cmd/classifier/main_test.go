package main

import (
	"testing"

	"github.com/gomlx/classifier/trainer"
	"github.com/stretchr/testify/assert"
)

func TestBestSummary(t *testing.T) {
	results := &trainer.Results{BestFitness: 0.875, BestEpoch: 3}
	assert.Equal(t, "Best test accuracy 87.50% at epoch 4.", bestSummary(results))

	// A fully trained checkpoint resumed with nothing left to train
	// never sets a best epoch of its own.
	results = &trainer.Results{BestFitness: 0.875, BestEpoch: -1}
	assert.Equal(t, "Best test accuracy 87.50% from an earlier run.", bestSummary(results))
}
