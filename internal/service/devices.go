package service

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/util"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRefreshMismatch = errors.New("refresh token id does not match current session")
)

type deviceKey struct {
	Type string
	ID   string
}

// userDevices holds every live device of one user plus the reverse index
// tokenId -> deviceKey. Both maps are mutated together under the shard lock:
// rotating or removing a token id drops the stale reverse entry in the same
// critical section.
type userDevices struct {
	devices map[deviceKey]*models.Device
	tokens  map[string]deviceKey
}

type registryShard struct {
	mu    sync.RWMutex
	users map[string]*userDevices
}

// DeviceRegistry tracks which devices belong to which user and which token
// ids are currently live on each device. Users are spread over hash shards
// so concurrent requests for unrelated users never contend.
type DeviceRegistry struct {
	shards     []*registryShard
	maxDevices int
	log        *zap.SugaredLogger
}

func NewDeviceRegistry(cfg *util.RegistryConfig, log *zap.SugaredLogger) *DeviceRegistry {
	shardCount := cfg.Shards
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*registryShard, shardCount)
	for i := range shards {
		shards[i] = &registryShard{users: make(map[string]*userDevices)}
	}
	return &DeviceRegistry{
		shards:     shards,
		maxDevices: cfg.MaxDevicesPerUser,
		log:        log,
	}
}

func (r *DeviceRegistry) shard(userID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// AddDevice inserts or replaces the device for the pair's (deviceType,
// deviceId). A second login on the same device silently supersedes the
// first: the previous token ids become unrecognized immediately.
func (r *DeviceRegistry) AddDevice(userID string, pair models.TokenPair, ip string, now time.Time) {
	key := deviceKey{Type: pair.AccessClaim.DeviceType, ID: pair.AccessClaim.DeviceID}

	sh := r.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ud, ok := sh.users[userID]
	if !ok {
		ud = &userDevices{
			devices: make(map[deviceKey]*models.Device),
			tokens:  make(map[string]deviceKey),
		}
		sh.users[userID] = ud
	}

	if old, ok := ud.devices[key]; ok {
		delete(ud.tokens, old.CurrentAccessTokenID)
		delete(ud.tokens, old.CurrentRefreshTokenID)
	}

	ud.devices[key] = &models.Device{
		Type:                  key.Type,
		ID:                    key.ID,
		CurrentAccessTokenID:  pair.AccessClaim.TokenID,
		CurrentRefreshTokenID: pair.RefreshClaim.TokenID,
		LastRequestTime:       now,
		LastIP:                ip,
	}
	ud.tokens[pair.AccessClaim.TokenID] = key
	ud.tokens[pair.RefreshClaim.TokenID] = key

	if r.maxDevices > 0 && len(ud.devices) > r.maxDevices {
		r.evictOldestLocked(ud, key)
	}
}

// evictOldestLocked drops the least recently used device, never the one
// just added. Caller holds the shard lock.
func (r *DeviceRegistry) evictOldestLocked(ud *userDevices, keep deviceKey) {
	var victim deviceKey
	var victimTime time.Time
	found := false
	for key, d := range ud.devices {
		if key == keep {
			continue
		}
		if !found || d.LastRequestTime.Before(victimTime) {
			victim, victimTime, found = key, d.LastRequestTime, true
		}
	}
	if !found {
		return
	}
	d := ud.devices[victim]
	delete(ud.tokens, d.CurrentAccessTokenID)
	delete(ud.tokens, d.CurrentRefreshTokenID)
	delete(ud.devices, victim)
	r.log.Infow("device evicted by capacity",
		"deviceType", victim.Type, "deviceId", victim.ID)
}

// Refresh rotates the device's access token id to the pair's new access id.
// The pair's refresh claim must match the device's current refresh token id;
// a stale or replayed refresh token fails without mutating anything.
func (r *DeviceRegistry) Refresh(pair models.TokenPair) error {
	rc := pair.RefreshClaim
	key := deviceKey{Type: rc.DeviceType, ID: rc.DeviceID}

	sh := r.shard(rc.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ud, ok := sh.users[rc.UserID]
	if !ok {
		return ErrSessionNotFound
	}
	device, ok := ud.devices[key]
	if !ok {
		return ErrSessionNotFound
	}
	if device.CurrentRefreshTokenID != rc.TokenID {
		return ErrRefreshMismatch
	}

	delete(ud.tokens, device.CurrentAccessTokenID)
	device.CurrentAccessTokenID = pair.AccessClaim.TokenID
	ud.tokens[pair.AccessClaim.TokenID] = key
	return nil
}

// SessionStatus reports whether an access token id is the live one for the
// device. Expired credentials never reach this check; the codec short-circuits
// them first.
func (r *DeviceRegistry) SessionStatus(userID, deviceType, deviceID, accessTokenID string) models.SessionStatus {
	sh := r.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	ud, ok := sh.users[userID]
	if !ok {
		return models.SessionRequireLogin
	}
	device, ok := ud.devices[deviceKey{Type: deviceType, ID: deviceID}]
	if !ok {
		return models.SessionRequireLogin
	}
	if device.CurrentAccessTokenID != accessTokenID {
		return models.SessionSuperseded
	}
	return models.SessionValid
}

// Touch records last-seen metadata for a device. Best effort: a missing
// device is ignored, and an out-of-order timestamp never moves
// lastRequestTime backwards.
func (r *DeviceRegistry) Touch(userID, deviceType, deviceID, ip string, now time.Time) {
	sh := r.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ud, ok := sh.users[userID]
	if !ok {
		return
	}
	device, ok := ud.devices[deviceKey{Type: deviceType, ID: deviceID}]
	if !ok {
		return
	}
	if now.After(device.LastRequestTime) {
		device.LastRequestTime = now
		device.LastIP = ip
	}
}

// EvictByUserAndTokenID drops the device holding the given token id, access
// or refresh. Used to clean up proactively when the codec reports an expired
// claim instead of waiting for a future login to overwrite the entry.
func (r *DeviceRegistry) EvictByUserAndTokenID(userID, tokenID string) {
	sh := r.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ud, ok := sh.users[userID]
	if !ok {
		return
	}
	key, ok := ud.tokens[tokenID]
	if !ok {
		return
	}
	r.removeDeviceLocked(sh, userID, ud, key)
}

// RemoveDevice is an explicit logout of one device.
func (r *DeviceRegistry) RemoveDevice(userID, deviceType, deviceID string) {
	sh := r.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ud, ok := sh.users[userID]
	if !ok {
		return
	}
	r.removeDeviceLocked(sh, userID, ud, deviceKey{Type: deviceType, ID: deviceID})
}

// RemoveUser logs the user out of every device.
func (r *DeviceRegistry) RemoveUser(userID string) {
	sh := r.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.users, userID)
}

// Devices returns a snapshot of the user's live devices.
func (r *DeviceRegistry) Devices(userID string) []models.Device {
	sh := r.shard(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	ud, ok := sh.users[userID]
	if !ok {
		return nil
	}
	devices := make([]models.Device, 0, len(ud.devices))
	for _, d := range ud.devices {
		devices = append(devices, *d)
	}
	return devices
}

func (r *DeviceRegistry) removeDeviceLocked(sh *registryShard, userID string, ud *userDevices, key deviceKey) {
	device, ok := ud.devices[key]
	if !ok {
		return
	}
	delete(ud.tokens, device.CurrentAccessTokenID)
	delete(ud.tokens, device.CurrentRefreshTokenID)
	delete(ud.devices, key)
	if len(ud.devices) == 0 {
		delete(sh.users, userID)
	}
}
