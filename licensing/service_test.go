package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zen.app/cloud/models"
	"zen.app/cloud/storage"
)

// stubStorage wraps MemoryStorage with call counters and injectable failures.
type stubStorage struct {
	*storage.MemoryStorage

	insertErr error
	findErr   error
	countErr  error
	// sessionMisses makes FindLicenseBySessionID report "not found" this
	// many times before consulting the store.
	sessionMisses int
	// beforeInsert runs ahead of every insert.
	beforeInsert func()

	inserts, keyLookups, sessionLookups, emailLookups, counts int
}

func newStubStorage() *stubStorage {
	return &stubStorage{MemoryStorage: storage.NewMemoryStorage()}
}

func (s *stubStorage) calls() int {
	return s.inserts + s.keyLookups + s.sessionLookups + s.emailLookups + s.counts
}

func (s *stubStorage) InsertLicense(ctx context.Context, l *models.License) error {
	s.inserts++
	if s.beforeInsert != nil {
		s.beforeInsert()
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.MemoryStorage.InsertLicense(ctx, l)
}

func (s *stubStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	s.keyLookups++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStorage.FindLicenseByKey(ctx, key)
}

func (s *stubStorage) FindLicenseBySessionID(ctx context.Context, id string) (*models.License, error) {
	s.sessionLookups++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.sessionMisses > 0 {
		s.sessionMisses--
		return nil, nil
	}
	return s.MemoryStorage.FindLicenseBySessionID(ctx, id)
}

func (s *stubStorage) FindLicensesByEmail(ctx context.Context, email string) ([]*models.License, error) {
	s.emailLookups++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStorage.FindLicensesByEmail(ctx, email)
}

func (s *stubStorage) CountLicensesByTier(ctx context.Context, tier models.Tier) (int, error) {
	s.counts++
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.MemoryStorage.CountLicensesByTier(ctx, tier)
}

type stubReserver struct {
	committed, capacity int
	pending             map[string]bool
	// missing makes the counter look lost until the next Seed.
	missing         bool
	err             error
	releases, seeds int
	synced          []int
}

func (r *stubReserver) Reserve(ctx context.Context, holder string, capacity int) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if r.missing {
		return false, ErrSlotCounterMissing
	}
	r.capacity = capacity
	if r.pending == nil {
		r.pending = make(map[string]bool)
	}
	if r.pending[holder] {
		return true, nil
	}
	if r.committed+len(r.pending) >= capacity {
		return false, nil
	}
	r.pending[holder] = true
	return true, nil
}

func (r *stubReserver) Commit(ctx context.Context, holder string) error {
	delete(r.pending, holder)
	r.committed++
	return nil
}

func (r *stubReserver) Release(ctx context.Context, holder string) error {
	r.releases++
	delete(r.pending, holder)
	return nil
}

func (r *stubReserver) Seed(ctx context.Context, claimed int) (bool, error) {
	r.seeds++
	if !r.missing {
		return false, nil
	}
	r.missing = false
	r.committed = claimed
	return true, nil
}

func (r *stubReserver) Sync(ctx context.Context, claimed int) error {
	r.synced = append(r.synced, claimed)
	r.committed = claimed
	return nil
}

var errBackend = errors.New("backend down")

type recordedSleeps struct {
	durations []time.Duration
}

func (r *recordedSleeps) sleep(d time.Duration) {
	r.durations = append(r.durations, d)
}

func newTestService(store storage.Storage, opts Options) (*Service, *recordedSleeps) {
	sleeps := &recordedSleeps{}
	if opts.Sleep == nil {
		opts.Sleep = sleeps.sleep
	}
	if opts.CurrentMajorVersion == 0 {
		opts.CurrentMajorVersion = 1
	}
	return NewService(store, opts), sleeps
}

func purchase(session string, amount int64) Purchase {
	return Purchase{
		SessionID:  session,
		CustomerID: "cus_" + session,
		Email:      "Buyer@Example.com ",
		AmountPaid: amount,
	}
}

func seedEarlyAdopters(t *testing.T, store storage.Storage, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("seed-%d", i)
		err := store.InsertLicense(ctx, &models.License{
			ID:                    id,
			Key:                   GenerateKey(),
			Email:                 "founder@example.com",
			Tier:                  models.TierEarlyAdopter,
			PurchasedMajorVersion: 1,
			VersionsIncluded:      4,
			StripeSessionID:       "cs_seed_" + id,
			AmountPaid:            100,
			CreatedAt:             time.Now(),
		})
		require.NoError(t, err)
	}
}

func TestIssueFixedPriceTier(t *testing.T) {
	store := newStubStorage()
	svc, _ := newTestService(store, Options{CurrentMajorVersion: 2})

	license, created, err := svc.Issue(context.Background(), purchase("cs_1", 1500))
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, models.TierSupporter, license.Tier)
	assert.Equal(t, 3, license.VersionsIncluded)
	assert.Equal(t, 2, license.PurchasedMajorVersion)
	assert.Equal(t, "buyer@example.com", license.Email)
	assert.Equal(t, "cs_1", license.StripeSessionID)
	assert.Equal(t, "cus_cs_1", license.StripeCustomerID)
	assert.Equal(t, int64(1500), license.AmountPaid)
	assert.True(t, IsValidKeyFormat(license.Key))
	assert.NotEmpty(t, license.ID)
	assert.Equal(t, 0, store.counts, "fixed-price tiers do not consult the slot count")

	stored, err := store.MemoryStorage.FindLicenseByKey(context.Background(), license.Key)
	require.NoError(t, err)
	assert.Equal(t, license, stored)
}

func TestIssueEarlyAdopterWithFreeSlots(t *testing.T) {
	store := newStubStorage()
	seedEarlyAdopters(t, store, 149)
	svc, _ := newTestService(store, Options{})

	license, created, err := svc.Issue(context.Background(), purchase("cs_ea", 500))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.TierEarlyAdopter, license.Tier)
	assert.Equal(t, 4, license.VersionsIncluded)
	assert.Equal(t, 1, store.counts)
}

func TestIssueDowngradesWhenSlotsAreFull(t *testing.T) {
	tests := []struct {
		amount   int64
		tier     models.Tier
		versions int
	}{
		{2500, models.TierBeliever, 5},
		{2000, models.TierBeliever, 5},
		{1600, models.TierSupporter, 3},
		{100, models.TierStarter, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d cents", tt.amount), func(t *testing.T) {
			store := newStubStorage()
			seedEarlyAdopters(t, store, 150)
			// The founder product forces the early adopter candidate for
			// every amount, including fixed prices.
			svc, _ := newTestService(store, Options{
				CurrentMajorVersion: 3,
				Products:            map[string]models.Tier{"prod_founder": models.TierEarlyAdopter},
			})

			p := purchase("cs_full", tt.amount)
			p.ProductID = "prod_founder"

			license, created, err := svc.Issue(context.Background(), p)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, tt.tier, license.Tier)
			assert.Equal(t, tt.versions, license.VersionsIncluded)
			assert.Equal(t, "prod_founder", license.StripeProductID)

			count, err := store.MemoryStorage.CountLicensesByTier(context.Background(), models.TierEarlyAdopter)
			require.NoError(t, err)
			assert.Equal(t, 150, count)
		})
	}
}

func TestIssueFullSlotsTwentyDollarsScenario(t *testing.T) {
	store := newStubStorage()
	seedEarlyAdopters(t, store, 150)
	svc, _ := newTestService(store, Options{CurrentMajorVersion: 2})

	license, _, err := svc.Issue(context.Background(), purchase("cs_twenty", 2000))
	require.NoError(t, err)
	assert.Equal(t, models.TierBeliever, license.Tier)
	assert.Equal(t, 5, license.VersionsIncluded)
	assert.Equal(t, license.PurchasedMajorVersion+4,
		EntitledThrough(license.PurchasedMajorVersion, license.VersionsIncluded))
}

func TestIssueAboveCapacityDowngradesPayWhatYouWant(t *testing.T) {
	store := newStubStorage()
	seedEarlyAdopters(t, store, 150)
	svc, _ := newTestService(store, Options{})

	license, _, err := svc.Issue(context.Background(), purchase("cs_pwyw", 1700))
	require.NoError(t, err)
	assert.Equal(t, models.TierSupporter, license.Tier)
	assert.Equal(t, 1, store.counts)
}

func TestIssueIsIdempotentPerSession(t *testing.T) {
	store := newStubStorage()
	svc, _ := newTestService(store, Options{})
	ctx := context.Background()

	first, created, err := svc.Issue(ctx, purchase("cs_dup", 1000))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.Issue(ctx, purchase("cs_dup", 1000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, store.inserts)

	licenses, err := store.MemoryStorage.FindLicensesByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.Len(t, licenses, 1)
}

func TestIssueResolvesConcurrentDuplicate(t *testing.T) {
	store := newStubStorage()
	svc, _ := newTestService(store, Options{})
	ctx := context.Background()

	winner := &models.License{
		ID:               "winner",
		Key:              GenerateKey(),
		Email:            "buyer@example.com",
		Tier:             models.TierStarter,
		VersionsIncluded: 1,
		StripeSessionID:  "cs_race",
	}
	store.beforeInsert = func() {
		store.beforeInsert = nil
		require.NoError(t, store.MemoryStorage.InsertLicense(ctx, winner))
	}

	license, created, err := svc.Issue(ctx, purchase("cs_race", 1000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", license.ID)
}

func TestIssueRejectsInvalidPurchaseBeforeStorage(t *testing.T) {
	tests := []struct {
		name string
		p    Purchase
	}{
		{"missing session", Purchase{Email: "a@example.com", AmountPaid: 1000}},
		{"blank session", Purchase{SessionID: "  ", Email: "a@example.com", AmountPaid: 1000}},
		{"missing email", Purchase{SessionID: "cs_1", AmountPaid: 1000}},
		{"blank email", Purchase{SessionID: "cs_1", Email: "   ", AmountPaid: 1000}},
		{"negative amount", Purchase{SessionID: "cs_1", Email: "a@example.com", AmountPaid: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStorage()
			svc, _ := newTestService(store, Options{})

			_, _, err := svc.Issue(context.Background(), tt.p)
			assert.ErrorIs(t, err, ErrInvalidPurchase)
			assert.Equal(t, 0, store.calls())
		})
	}
}

func TestIssueStorageFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(s *stubStorage)
		amount int64
	}{
		{"lookup fails", func(s *stubStorage) { s.findErr = errBackend }, 1000},
		{"count fails", func(s *stubStorage) { s.countErr = errBackend }, 300},
		{"insert fails", func(s *stubStorage) { s.insertErr = errBackend }, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStorage()
			tt.setup(store)
			svc, _ := newTestService(store, Options{})

			license, _, err := svc.Issue(context.Background(), purchase("cs_err", tt.amount))
			assert.Nil(t, license)
			assert.ErrorIs(t, err, errBackend)
			assert.NotErrorIs(t, err, ErrInvalidPurchase)
		})
	}
}

func TestIssueWithReserver(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves and commits slot", func(t *testing.T) {
		store := newStubStorage()
		reserver := &stubReserver{}
		svc, _ := newTestService(store, Options{Reserver: reserver, EarlyAdopterCapacity: 2})

		license, _, err := svc.Issue(ctx, purchase("cs_r1", 700))
		require.NoError(t, err)
		assert.Equal(t, models.TierEarlyAdopter, license.Tier)
		assert.Equal(t, 1, reserver.committed)
		assert.Empty(t, reserver.pending)
		assert.Equal(t, 2, reserver.capacity)
	})

	t.Run("full reserver downgrades", func(t *testing.T) {
		store := newStubStorage()
		reserver := &stubReserver{committed: 2}
		svc, _ := newTestService(store, Options{Reserver: reserver, EarlyAdopterCapacity: 2})

		license, _, err := svc.Issue(ctx, purchase("cs_r2", 1700))
		require.NoError(t, err)
		assert.Equal(t, models.TierSupporter, license.Tier)
		assert.Equal(t, 2, reserver.committed)
	})

	t.Run("failed insert releases slot", func(t *testing.T) {
		store := newStubStorage()
		store.insertErr = errBackend
		reserver := &stubReserver{}
		svc, _ := newTestService(store, Options{Reserver: reserver})

		_, _, err := svc.Issue(ctx, purchase("cs_r3", 700))
		assert.ErrorIs(t, err, errBackend)
		assert.Equal(t, 1, reserver.releases)
		assert.Empty(t, reserver.pending)
		assert.Equal(t, 0, reserver.committed)
	})

	t.Run("reserver error", func(t *testing.T) {
		store := newStubStorage()
		svc, _ := newTestService(store, Options{Reserver: &stubReserver{err: errBackend}})

		_, _, err := svc.Issue(ctx, purchase("cs_r4", 700))
		assert.ErrorIs(t, err, errBackend)
		assert.Equal(t, 0, store.inserts)
	})

	t.Run("missing counter is seeded from storage", func(t *testing.T) {
		store := newStubStorage()
		seedEarlyAdopters(t, store, 2)
		reserver := &stubReserver{missing: true}
		svc, _ := newTestService(store, Options{Reserver: reserver, EarlyAdopterCapacity: 2})

		license, _, err := svc.Issue(ctx, purchase("cs_r5", 700))
		require.NoError(t, err)
		assert.Equal(t, models.TierStarter, license.Tier)
		assert.Equal(t, 1, reserver.seeds)
		assert.Equal(t, 2, reserver.committed)
	})

	t.Run("counter behind storage refuses and resyncs", func(t *testing.T) {
		store := newStubStorage()
		seedEarlyAdopters(t, store, 2)
		reserver := &stubReserver{committed: 0}
		svc, _ := newTestService(store, Options{Reserver: reserver, EarlyAdopterCapacity: 2})

		license, _, err := svc.Issue(ctx, purchase("cs_r6", 2000))
		require.NoError(t, err)
		assert.Equal(t, models.TierBeliever, license.Tier)
		assert.Equal(t, []int{2}, reserver.synced)
		assert.Empty(t, reserver.pending)

		count, err := store.CountLicensesByTier(ctx, models.TierEarlyAdopter)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("count failure after reserving releases slot", func(t *testing.T) {
		store := newStubStorage()
		store.countErr = errBackend
		reserver := &stubReserver{}
		svc, _ := newTestService(store, Options{Reserver: reserver})

		_, _, err := svc.Issue(ctx, purchase("cs_r7", 700))
		assert.ErrorIs(t, err, errBackend)
		assert.Equal(t, 1, reserver.releases)
		assert.Equal(t, 0, store.inserts)
	})
}

func TestVersionsIncludedIsCopiedAtIssuance(t *testing.T) {
	store := newStubStorage()
	ctx := context.Background()
	svc, _ := newTestService(store, Options{})

	license, _, err := svc.Issue(ctx, purchase("cs_copy", 1500))
	require.NoError(t, err)
	require.Equal(t, models.TierSupporter, license.Tier)

	changed := models.DefaultTierTable()
	cfg := changed[models.TierSupporter]
	cfg.VersionsIncluded = 10
	changed[models.TierSupporter] = cfg
	later, _ := newTestService(store, Options{Tiers: changed, CurrentMajorVersion: 4})

	result, err := later.Validate(ctx, license.Key, "")
	require.NoError(t, err)
	assert.Equal(t, 3, *result.VersionsIncluded)
	assert.Equal(t, 3, *result.EntitledThroughVersion)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonExpired, result.Reason)

	views, err := later.RecoverByEmail(ctx, "buyer@example.com")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 3, views[0].VersionsIncluded)
}

func TestValidate(t *testing.T) {
	store := newStubStorage()
	ctx := context.Background()
	issuer, _ := newTestService(store, Options{CurrentMajorVersion: 1})

	license, _, err := issuer.Issue(ctx, purchase("cs_v", 1500))
	require.NoError(t, err)

	t.Run("malformed key never reaches storage", func(t *testing.T) {
		before := store.keyLookups
		result, err := issuer.Validate(ctx, "ZEN-not-a-uuid", "")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonInvalidFormat, result.Reason)
		assert.Equal(t, "License key format is invalid", result.Message)
		assert.Nil(t, result.VersionsIncluded)
		assert.Equal(t, before, store.keyLookups)
	})

	t.Run("not found", func(t *testing.T) {
		result, err := issuer.Validate(ctx, GenerateKey(), "")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonNotFound, result.Reason)
		assert.Equal(t, "License key not found", result.Message)
	})

	t.Run("valid", func(t *testing.T) {
		result, err := issuer.Validate(ctx, license.Key, "")
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, ReasonValid, result.Reason)
		assert.Equal(t, "License valid through v3", result.Message)
		assert.Equal(t, models.TierSupporter, result.Tier)
		assert.Equal(t, "Supporter", result.TierDisplay)
		assert.Equal(t, "buyer@example.com", result.Email)
		assert.Equal(t, 1, *result.PurchasedMajorVersion)
		assert.Equal(t, 3, *result.VersionsIncluded)
		assert.Equal(t, 3, *result.EntitledThroughVersion)
		assert.Equal(t, 1, *result.CurrentVersion)
		assert.NotNil(t, result.CreatedAt)
	})

	t.Run("case variant of stored key", func(t *testing.T) {
		result, err := issuer.Validate(ctx, "  "+strings.ToUpper(license.Key)+" ", "")
		require.NoError(t, err)
		assert.Equal(t, ReasonValid, result.Reason)
	})

	t.Run("expired for current version", func(t *testing.T) {
		later, _ := newTestService(store, Options{CurrentMajorVersion: 4})
		result, err := later.Validate(ctx, license.Key, "")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonExpired, result.Reason)
		assert.Equal(t, "License expired. Valid through v3, current version is v4", result.Message)
	})

	t.Run("app version selects target", func(t *testing.T) {
		result, err := issuer.Validate(ctx, license.Key, "3.9.2")
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, 3, *result.CurrentVersion)

		result, err = issuer.Validate(ctx, license.Key, "v4.0.0")
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, 4, *result.CurrentVersion)
	})

	t.Run("invalid app version", func(t *testing.T) {
		_, err := issuer.Validate(ctx, license.Key, "latest")
		assert.ErrorIs(t, err, ErrInvalidAppVersion)
	})

	t.Run("storage failure", func(t *testing.T) {
		failing := newStubStorage()
		failing.findErr = errBackend
		svc, _ := newTestService(failing, Options{})
		_, err := svc.Validate(ctx, license.Key, "")
		assert.ErrorIs(t, err, errBackend)
	})
}

func TestValidateFreeTierIsNeverValid(t *testing.T) {
	store := newStubStorage()
	ctx := context.Background()
	key := GenerateKey()
	require.NoError(t, store.MemoryStorage.InsertLicense(ctx, &models.License{
		ID: "free", Key: key, Email: "free@example.com", Tier: models.TierFree, PurchasedMajorVersion: 1,
	}))
	svc, _ := newTestService(store, Options{CurrentMajorVersion: 1})

	result, err := svc.Validate(ctx, key, "")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 0, *result.EntitledThroughVersion)
}

func TestLicenseForSession(t *testing.T) {
	ctx := context.Background()

	t.Run("found after retries", func(t *testing.T) {
		store := newStubStorage()
		svc, sleeps := newTestService(store, Options{PollAttempts: 10, PollInterval: 250 * time.Millisecond})
		issued, _, err := svc.Issue(ctx, purchase("cs_poll", 2000))
		require.NoError(t, err)

		store.sessionLookups = 0
		store.sessionMisses = 3
		view, err := svc.LicenseForSession(ctx, "cs_poll")
		require.NoError(t, err)
		assert.Equal(t, issued.Key, view.LicenseKey)
		assert.Equal(t, "Believer", view.TierDisplay)
		assert.Equal(t, 5, view.EntitledThroughVersion)
		assert.Equal(t, "buyer@example.com", view.Email)
		assert.Equal(t, int64(2000), *view.AmountPaid)
		assert.Equal(t, 4, store.sessionLookups)
		assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, sleeps.durations)
	})

	t.Run("gives up after attempt budget", func(t *testing.T) {
		store := newStubStorage()
		svc, sleeps := newTestService(store, Options{PollAttempts: 5, PollInterval: time.Second})

		_, err := svc.LicenseForSession(ctx, "cs_never")
		assert.ErrorIs(t, err, ErrLicensePending)
		assert.Equal(t, 5, store.sessionLookups)
		assert.Len(t, sleeps.durations, 4)
	})

	t.Run("storage error aborts without retry", func(t *testing.T) {
		store := newStubStorage()
		store.findErr = errBackend
		svc, sleeps := newTestService(store, Options{})

		_, err := svc.LicenseForSession(ctx, "cs_err")
		assert.ErrorIs(t, err, errBackend)
		assert.NotErrorIs(t, err, ErrLicensePending)
		assert.Equal(t, 1, store.sessionLookups)
		assert.Empty(t, sleeps.durations)
	})

	t.Run("ignores cancellation", func(t *testing.T) {
		store := newStubStorage()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		svc, sleeps := newTestService(store, Options{PollAttempts: 3})

		_, err := svc.LicenseForSession(cancelled, "cs_cancel")
		assert.ErrorIs(t, err, ErrLicensePending)
		assert.Len(t, sleeps.durations, 2)
	})

	t.Run("missing session id", func(t *testing.T) {
		store := newStubStorage()
		svc, _ := newTestService(store, Options{})

		_, err := svc.LicenseForSession(ctx, " ")
		assert.ErrorIs(t, err, ErrInvalidPurchase)
		assert.Equal(t, 0, store.calls())
	})
}

func TestRecoverByEmail(t *testing.T) {
	store := newStubStorage()
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newTestService(store, Options{Now: func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}})

	var keys []string
	for i, amount := range []int64{1000, 1500, 2000} {
		p := purchase(fmt.Sprintf("cs_rec_%d", i), amount)
		p.Email = "  Owner@Example.COM"
		l, _, err := svc.Issue(ctx, p)
		require.NoError(t, err)
		keys = append(keys, l.Key)
	}

	views, err := svc.RecoverByEmail(ctx, "OWNER@example.com ")
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.Equal(t, keys[2], views[0].LicenseKey)
	assert.Equal(t, keys[1], views[1].LicenseKey)
	assert.Equal(t, keys[0], views[2].LicenseKey)
	assert.Equal(t, "Believer", views[0].TierDisplay)
	assert.Equal(t, 5, views[0].EntitledThroughVersion)
	for i := 1; i < len(views); i++ {
		assert.True(t, views[i-1].CreatedAt.After(*views[i].CreatedAt))
	}

	none, err := svc.RecoverByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = svc.RecoverByEmail(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	store.findErr = errBackend
	_, err = svc.RecoverByEmail(ctx, "owner@example.com")
	assert.ErrorIs(t, err, errBackend)
}

func TestSlotAvailability(t *testing.T) {
	store := newStubStorage()
	seedEarlyAdopters(t, store, 40)
	svc, _ := newTestService(store, Options{EarlyAdopterCapacity: 50})

	avail, err := svc.SlotAvailability(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SlotAvailability{Capacity: 50, Claimed: 40, Remaining: 10, Available: true}, avail)

	store.countErr = errBackend
	_, err = svc.SlotAvailability(context.Background())
	assert.ErrorIs(t, err, errBackend)
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(storage.NewMemoryStorage(), Options{})
	assert.Equal(t, 1, svc.CurrentMajorVersion())
	assert.Equal(t, DefaultEarlyAdopterCapacity, svc.capacity)
	assert.Equal(t, DefaultPollAttempts, svc.pollAttempts)
	assert.Equal(t, DefaultPollInterval, svc.pollInterval)
	assert.Equal(t, models.DefaultTierTable(), svc.Tiers())
}
