package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/service"
	"github.com/TinkerUnicorn/authz/internal/util"
)

func newTestRegistry(maxDevices int) *service.DeviceRegistry {
	return service.NewDeviceRegistry(&util.RegistryConfig{
		Shards:            8,
		MaxDevicesPerUser: maxDevices,
	}, zap.NewNop().Sugar())
}

func makePair(userID, deviceType, deviceID string) models.TokenPair {
	access := models.Claim{
		UserID:     userID,
		DeviceType: deviceType,
		DeviceID:   deviceID,
		TokenID:    uuid.NewString(),
		Kind:       models.TokenKindAccess,
	}
	refresh := access
	refresh.TokenID = uuid.NewString()
	refresh.Kind = models.TokenKindRefresh
	return models.TokenPair{AccessClaim: access, RefreshClaim: refresh}
}

func TestSessionStatusAfterGrant(t *testing.T) {
	r := newTestRegistry(0)
	pair := makePair("u1", "ios", "d1")
	r.AddDevice("u1", pair, "10.0.0.1", time.Now())

	status := r.SessionStatus("u1", "ios", "d1", pair.AccessClaim.TokenID)
	require.Equal(t, models.SessionValid, status)
}

func TestSessionStatusUnknownUser(t *testing.T) {
	r := newTestRegistry(0)
	require.Equal(t, models.SessionRequireLogin, r.SessionStatus("ghost", "ios", "d1", "tid"))
}

func TestSecondGrantSupersedesFirst(t *testing.T) {
	r := newTestRegistry(0)
	first := makePair("u1", "ios", "d1")
	second := makePair("u1", "ios", "d1")

	r.AddDevice("u1", first, "10.0.0.1", time.Now())
	r.AddDevice("u1", second, "10.0.0.2", time.Now())

	require.Equal(t, models.SessionSuperseded, r.SessionStatus("u1", "ios", "d1", first.AccessClaim.TokenID))
	require.Equal(t, models.SessionValid, r.SessionStatus("u1", "ios", "d1", second.AccessClaim.TokenID))

	// The superseded ids must be unrecognized, so eviction by them is a no-op.
	r.EvictByUserAndTokenID("u1", first.AccessClaim.TokenID)
	require.Equal(t, models.SessionValid, r.SessionStatus("u1", "ios", "d1", second.AccessClaim.TokenID))
}

func TestRefreshRotatesAccessTokenID(t *testing.T) {
	r := newTestRegistry(0)
	pair := makePair("u1", "ios", "d1")
	r.AddDevice("u1", pair, "10.0.0.1", time.Now())

	rotated := models.TokenPair{
		AccessClaim:  models.Claim{UserID: "u1", DeviceType: "ios", DeviceID: "d1", TokenID: uuid.NewString(), Kind: models.TokenKindAccess},
		RefreshClaim: pair.RefreshClaim,
	}
	require.NoError(t, r.Refresh(rotated))

	require.Equal(t, models.SessionSuperseded, r.SessionStatus("u1", "ios", "d1", pair.AccessClaim.TokenID))
	require.Equal(t, models.SessionValid, r.SessionStatus("u1", "ios", "d1", rotated.AccessClaim.TokenID))
}

func TestRefreshMismatchDoesNotMutate(t *testing.T) {
	r := newTestRegistry(0)
	pair := makePair("u1", "ios", "d1")
	r.AddDevice("u1", pair, "10.0.0.1", time.Now())

	stale := models.TokenPair{
		AccessClaim:  models.Claim{UserID: "u1", DeviceType: "ios", DeviceID: "d1", TokenID: uuid.NewString(), Kind: models.TokenKindAccess},
		RefreshClaim: models.Claim{UserID: "u1", DeviceType: "ios", DeviceID: "d1", TokenID: uuid.NewString(), Kind: models.TokenKindRefresh},
	}
	require.ErrorIs(t, r.Refresh(stale), service.ErrRefreshMismatch)

	// Original access id still live.
	require.Equal(t, models.SessionValid, r.SessionStatus("u1", "ios", "d1", pair.AccessClaim.TokenID))
}

func TestRefreshUnknownDevice(t *testing.T) {
	r := newTestRegistry(0)
	require.ErrorIs(t, r.Refresh(makePair("u1", "ios", "d1")), service.ErrSessionNotFound)
}

func TestEvictByUserAndTokenID(t *testing.T) {
	r := newTestRegistry(0)
	pair := makePair("u1", "ios", "d1")
	r.AddDevice("u1", pair, "10.0.0.1", time.Now())

	// Refresh token id resolves to the same device.
	r.EvictByUserAndTokenID("u1", pair.RefreshClaim.TokenID)
	require.Equal(t, models.SessionRequireLogin, r.SessionStatus("u1", "ios", "d1", pair.AccessClaim.TokenID))
}

func TestRemoveDeviceAndUser(t *testing.T) {
	r := newTestRegistry(0)
	p1 := makePair("u1", "ios", "d1")
	p2 := makePair("u1", "web", "d2")
	r.AddDevice("u1", p1, "10.0.0.1", time.Now())
	r.AddDevice("u1", p2, "10.0.0.1", time.Now())

	r.RemoveDevice("u1", "ios", "d1")
	require.Equal(t, models.SessionRequireLogin, r.SessionStatus("u1", "ios", "d1", p1.AccessClaim.TokenID))
	require.Equal(t, models.SessionValid, r.SessionStatus("u1", "web", "d2", p2.AccessClaim.TokenID))

	r.RemoveUser("u1")
	require.Equal(t, models.SessionRequireLogin, r.SessionStatus("u1", "web", "d2", p2.AccessClaim.TokenID))
}

func TestCapacityEvictsLeastRecentDevice(t *testing.T) {
	r := newTestRegistry(2)
	base := time.Now()

	oldest := makePair("u1", "ios", "d1")
	r.AddDevice("u1", oldest, "10.0.0.1", base)
	r.AddDevice("u1", makePair("u1", "web", "d2"), "10.0.0.1", base.Add(time.Second))
	r.AddDevice("u1", makePair("u1", "tv", "d3"), "10.0.0.1", base.Add(2*time.Second))

	require.Equal(t, models.SessionRequireLogin, r.SessionStatus("u1", "ios", "d1", oldest.AccessClaim.TokenID))
	require.Len(t, r.Devices("u1"), 2)
}

func TestTouchKeepsMaxTimestamp(t *testing.T) {
	r := newTestRegistry(0)
	pair := makePair("u1", "ios", "d1")
	base := time.Now()
	r.AddDevice("u1", pair, "10.0.0.1", base)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Touch("u1", "ios", "d1", "10.0.0.9", base.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	devices := r.Devices("u1")
	require.Len(t, devices, 1)
	require.Equal(t, base.Add(49*time.Millisecond), devices[0].LastRequestTime)
}

func TestTouchUnknownDeviceIsNoop(t *testing.T) {
	r := newTestRegistry(0)
	r.Touch("ghost", "ios", "d1", "10.0.0.1", time.Now())
}
