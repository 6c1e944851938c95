package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_RecordAndSnapshot(t *testing.T) {
	s := New()
	s.RecordClaim()
	s.RecordClaim()
	s.RecordClaimConflict()
	s.RecordOrphanRecovery(3)
	s.RecordOfflineTransition()
	s.RecordHealthCheckFailure()

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Claims)
	assert.Equal(t, int64(1), snap.ClaimConflicts)
	assert.Equal(t, int64(3), snap.OrphanRecoveries)
	assert.Equal(t, int64(1), snap.OfflineTransitions)
	assert.Equal(t, int64(1), snap.HealthCheckFailures)
}

func TestStats_ConcurrentRecordIsRaceFree(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordClaim()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), s.Snapshot().Claims)
}
