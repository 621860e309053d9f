// Copyright 2026 R5 Labs
// This file is part of the lp2p library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package actor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTasksRunInSubmissionOrder(t *testing.T) {
	a := New()
	defer a.Stop()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		a.Run(func() { order = append(order, i) })
	}
	a.RunSync(func() {})

	require.Len(t, order, 100)
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestRunSyncWaitsForCompletion(t *testing.T) {
	a := New()
	defer a.Stop()

	var done int32
	a.RunSync(func() { atomic.StoreInt32(&done, 1) })
	require.Equal(t, int32(1), atomic.LoadInt32(&done))
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	a := New()

	var ran int32
	block := make(chan struct{})
	a.Run(func() { <-block })
	for i := 0; i < 10; i++ {
		a.Run(func() { atomic.AddInt32(&ran, 1) })
	}
	a.Stop()
	close(block)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 10
	}, time.Second, time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	a := New()
	a.Stop()
	a.Stop()
}
