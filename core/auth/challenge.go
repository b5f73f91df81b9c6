package auth

import (
	"context"
	"encoding/json"
	"hash/maphash"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/principal"
)

const (
	codeLength       = 6
	loginLockStripes = 64
)

// Challenge is a pending two-factor verification for a principal on a given client origin.
type Challenge struct {
	SessionID string        `json:"session_id"`
	Code      string        `json:"code"`
	Principal principal.Ref `json:"principal"`
	Origin    string        `json:"origin"`
	CreatedAt time.Time     `json:"created_at"`
}

func newChallenge(ref principal.Ref, origin string) (Challenge, error) {
	code, err := core.RandomDigits(codeLength)
	if err != nil {
		return Challenge{}, errors.Wrap(err, "generating code")
	}
	return Challenge{
		SessionID: uuid.NewString(),
		Code:      code,
		Principal: ref,
		Origin:    origin,
		CreatedAt: NowFunc().UTC(),
	}, nil
}

func principalKey(ref principal.Ref, origin string) string {
	return "otp:principal:" + string(ref.Kind) + ":" + strconv.FormatInt(ref.ID, 10) + ":" + origin
}

func sessionKey(sessionID, origin string) string {
	return "otp:session:" + sessionID + ":" + origin
}

func trustedKey(ref principal.Ref, origin string) string {
	return "trusted:" + string(ref.Kind) + ":" + strconv.FormatInt(ref.ID, 10) + ":" + origin
}

// challengeStore keeps challenges in the cache under both their principal and their session key.
type challengeStore struct {
	cache core.Cache
	ttl   time.Duration
}

func (s challengeStore) get(ctx context.Context, key string) (Challenge, bool, error) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if errors.Cause(err) == core.ErrCacheMiss {
			return Challenge{}, false, nil
		}
		return Challenge{}, false, errors.Wrap(err, "reading challenge")
	}
	var ch Challenge
	if err = json.Unmarshal(data, &ch); err != nil {
		return Challenge{}, false, errors.Wrap(err, "decoding challenge")
	}
	return ch, true, nil
}

func (s challengeStore) byPrincipal(ctx context.Context, ref principal.Ref, origin string) (Challenge, bool, error) {
	return s.get(ctx, principalKey(ref, origin))
}

func (s challengeStore) bySession(ctx context.Context, sessionID, origin string) (Challenge, bool, error) {
	return s.get(ctx, sessionKey(sessionID, origin))
}

// put stores ch under both keys and (re)starts their TTL.
func (s challengeStore) put(ctx context.Context, ch Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return errors.Wrap(err, "encoding challenge")
	}
	if err = s.cache.Set(ctx, principalKey(ch.Principal, ch.Origin), data, s.ttl); err != nil {
		return errors.Wrap(err, "storing challenge")
	}
	return errors.Wrap(s.cache.Set(ctx, sessionKey(ch.SessionID, ch.Origin), data, s.ttl), "storing challenge")
}

func (s challengeStore) remove(ctx context.Context, ch Challenge) error {
	if err := s.cache.Delete(ctx, sessionKey(ch.SessionID, ch.Origin)); err != nil {
		return errors.Wrap(err, "removing challenge")
	}
	return errors.Wrap(s.cache.Delete(ctx, principalKey(ch.Principal, ch.Origin)), "removing challenge")
}

// loginLocks serialises the lookup-or-create of challenges per principal key within this process.
// Keys are hashed onto a fixed set of mutexes.
type loginLocks struct {
	seed  maphash.Seed
	locks [loginLockStripes]sync.Mutex
}

func newLoginLocks() *loginLocks {
	return &loginLocks{seed: maphash.MakeSeed()}
}

// lock locks the stripe of key and returns its unlock func.
func (l *loginLocks) lock(key string) func() {
	m := &l.locks[maphash.String(l.seed, key)%loginLockStripes]
	m.Lock()
	return m.Unlock
}
