package lifecycle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestManager_StartsRunningAndAdmits(t *testing.T) {
	m := NewManager(NewTracker(), nil)
	require.Equal(t, StateRunning, m.State())
	require.True(t, m.AdmitNew())
}

func TestManager_Shutdown_StopsImmediately(t *testing.T) {
	m := NewManager(NewTracker(), nil)
	m.Shutdown(nil)
	require.Equal(t, StateStopped, m.State())
	require.False(t, m.AdmitNew())
}

func TestManager_GracefulShutdown_WaitsForDrain(t *testing.T) {
	tr := NewTracker()
	m := NewManager(tr, nil)

	h := tr.Begin(uuid.New(), "calc", "add")
	done := make(chan struct{})
	go func() {
		m.GracefulShutdown(time.Second, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateDraining, m.State())
	require.False(t, m.AdmitNew())

	tr.End(h)
	<-done
	require.Equal(t, StateStopped, m.State())
}

func TestManager_GracefulShutdown_TimesOutAndCancels(t *testing.T) {
	tr := NewTracker()
	m := NewManager(tr, nil)
	tr.Begin(uuid.New(), "calc", "add") // never ended

	dropped := false
	m.GracefulShutdown(50*time.Millisecond, func() { dropped = true })

	require.Equal(t, StateStopped, m.State())
	require.True(t, dropped)
	require.Equal(t, 0, tr.InFlightCount())
}

func TestManager_HealthStatus_ReflectsState(t *testing.T) {
	tr := NewTracker()
	m := NewManager(tr, nil)

	h := tr.Begin(uuid.New(), "calc", "add")
	hs := m.HealthStatus()
	require.Equal(t, "healthy", hs.Status)
	require.Equal(t, 1, hs.InflightRequests)
	tr.End(h)

	m.Shutdown(nil)
	hs = m.HealthStatus()
	require.Equal(t, "unhealthy", hs.Status)
}
