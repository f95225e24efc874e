package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityNamesRoundTrip(t *testing.T) {
	for _, p := range []TaskPriority{
		PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground,
	} {
		assert.Equal(t, p, ParsePriority(p.String()))
	}
	assert.Equal(t, PriorityNormal, ParsePriority("urgent-ish"), "unknown names map to normal")
	assert.Equal(t, "normal", TaskPriority(99).String())
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskCompleted: true,
		TaskFailed:    true,
		TaskCancelled: true,
	}
	for _, s := range []TaskStatus{
		TaskPending, TaskQueued, TaskAssigned, TaskRunning,
		TaskCompleted, TaskFailed, TaskCancelled, TaskRetrying,
	} {
		assert.Equal(t, terminal[s], s.Terminal(), "status %s", s)
	}
}

func TestSyntheticSiblingMetadata(t *testing.T) {
	plain := &Task{ID: "t1"}
	assert.True(t, plain.TopLevel())
	assert.Empty(t, plain.RaceParent())

	race := &Task{ID: "t1:race-coder", Metadata: map[string]string{MetaRaceParent: "t1"}}
	assert.False(t, race.TopLevel())
	assert.Equal(t, "t1", race.RaceParent())

	swarm := &Task{ID: "t1:swarm-coder", Metadata: map[string]string{MetaSwarmParent: "t1"}}
	assert.False(t, swarm.TopLevel())
	assert.Equal(t, "t1", swarm.SwarmParent())
}

func TestAgentSlotUnbounded(t *testing.T) {
	assert.True(t, (&AgentSlot{MaxInstances: 0}).Unbounded())
	assert.True(t, (&AgentSlot{MaxInstances: -1}).Unbounded())
	assert.False(t, (&AgentSlot{MaxInstances: 3}).Unbounded())
}
