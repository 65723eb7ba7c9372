package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateVMIDSkipsClusterCollisions(t *testing.T) {
	tgt := &fakeTarget{nextID: 100, vmids: map[int]bool{100: true, 101: true}}
	ledger := &fakeResourceLedger{claimed: map[string]bool{}}

	vmid, err := allocateVMID(context.Background(), tgt, ledger)
	require.NoError(t, err)
	assert.Equal(t, 102, vmid)
}

func TestAllocateVMIDSkipsPastJobClaims(t *testing.T) {
	// 102 is free on the cluster but was handed out by an earlier job whose
	// VM has not surfaced in the resource registry yet.
	tgt := &fakeTarget{nextID: 102, vmids: map[int]bool{}}
	ledger := &fakeResourceLedger{claimed: map[string]bool{"102": true, "103": true}}

	vmid, err := allocateVMID(context.Background(), tgt, ledger)
	require.NoError(t, err)
	assert.Equal(t, 104, vmid)
}

func TestAllocateVMIDTakesSuggestionWhenFree(t *testing.T) {
	tgt := &fakeTarget{nextID: 100, vmids: map[int]bool{}}
	ledger := &fakeResourceLedger{claimed: map[string]bool{}}

	vmid, err := allocateVMID(context.Background(), tgt, ledger)
	require.NoError(t, err)
	assert.Equal(t, 100, vmid)
}
