package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusPreparing,
	StatusReady, StatusDelivered, StatusCancelled,
}

func TestCanTransition_AdjacencySet(t *testing.T) {
	legal := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusConfirmed, StatusPreparing}: true,
		{StatusPreparing, StatusReady}:     true,
		{StatusReady, StatusDelivered}:     true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusCancelled}: true,
		{StatusPreparing, StatusCancelled}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			expected := legal[[2]Status{from, to}]
			assert.Equal(t, expected, CanTransition(from, to),
				"transition %s -> %s", from, to)
		}
	}
}

func TestCanTransition_NoSelfLoops(t *testing.T) {
	for _, s := range allStatuses {
		assert.False(t, CanTransition(s, s), "self-loop on %s", s)
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range allStatuses {
		terminal := s == StatusDelivered || s == StatusCancelled
		assert.Equal(t, terminal, s.Terminal(), "status %s", s)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range allStatuses {
		assert.True(t, ValidStatus(s))
	}
	assert.False(t, ValidStatus(Status("cooked")))
	assert.False(t, ValidStatus(Status("")))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 25.0, Round2(500*5.0/100))
	assert.Equal(t, 0.13, Round2(0.125))
	assert.Equal(t, 75.0, Round2(500*15.0/100))
}
