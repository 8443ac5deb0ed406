package licensing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"zen.app/cloud/internal/logger"
	"zen.app/cloud/internal/version"
	"zen.app/cloud/models"
	"zen.app/cloud/storage"
)

var (
	ErrInvalidPurchase   = errors.New("invalid purchase")
	ErrInvalidEmail      = errors.New("email required")
	ErrInvalidAppVersion = errors.New("invalid app version")
	// ErrLicensePending means no license appeared for a session within the
	// poll budget.
	ErrLicensePending = errors.New("license not issued yet")
)

const (
	DefaultPollAttempts = 10
	DefaultPollInterval = time.Second
)

const (
	ReasonInvalidFormat = "invalid_format"
	ReasonNotFound      = "not_found"
	ReasonValid         = "valid"
	ReasonExpired       = "expired"
)

// Purchase is a verified completed checkout, reduced to what issuance needs.
type Purchase struct {
	SessionID  string
	CustomerID string
	ProductID  string
	Email      string
	AmountPaid int64
}

type Options struct {
	Tiers                models.TierTable
	Products             map[string]models.Tier
	CurrentMajorVersion  int
	EarlyAdopterCapacity int
	// Reserver enables atomic slot reservation. Without it the claimed count
	// is read from storage before insert.
	Reserver     SlotReserver
	PollAttempts int
	PollInterval time.Duration
	// Sleep waits between session polls. It deliberately takes no context.
	Sleep func(time.Duration)
	Now   func() time.Time
}

type Service struct {
	store        storage.Storage
	tiers        models.TierTable
	resolver     *Resolver
	calc         Calculator
	capacity     int
	reserver     SlotReserver
	pollAttempts int
	pollInterval time.Duration
	sleep        func(time.Duration)
	now          func() time.Time
}

func NewService(store storage.Storage, opts Options) *Service {
	if opts.Tiers == nil {
		opts.Tiers = models.DefaultTierTable()
	}
	if opts.CurrentMajorVersion <= 0 {
		opts.CurrentMajorVersion = 1
	}
	if opts.EarlyAdopterCapacity <= 0 {
		opts.EarlyAdopterCapacity = DefaultEarlyAdopterCapacity
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = DefaultPollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:        store,
		tiers:        opts.Tiers,
		resolver:     NewResolver(opts.Tiers, opts.Products),
		calc:         Calculator{CurrentMajorVersion: opts.CurrentMajorVersion},
		capacity:     opts.EarlyAdopterCapacity,
		reserver:     opts.Reserver,
		pollAttempts: opts.PollAttempts,
		pollInterval: opts.PollInterval,
		sleep:        opts.Sleep,
		now:          opts.Now,
	}
}

func (s *Service) CurrentMajorVersion() int {
	return s.calc.CurrentMajorVersion
}

func (s *Service) Tiers() models.TierTable {
	return s.tiers
}

// Issue creates the license for a purchase. Re-delivery of an already
// processed session returns the stored license with created == false.
func (s *Service) Issue(ctx context.Context, p Purchase) (*models.License, bool, error) {
	p.SessionID = strings.TrimSpace(p.SessionID)
	email := models.NormalizeEmail(p.Email)
	if p.SessionID == "" {
		return nil, false, fmt.Errorf("%w: missing session id", ErrInvalidPurchase)
	}
	if email == "" {
		return nil, false, fmt.Errorf("%w: missing buyer email", ErrInvalidPurchase)
	}
	if p.AmountPaid < 0 {
		return nil, false, fmt.Errorf("%w: negative amount", ErrInvalidPurchase)
	}

	existing, err := s.store.FindLicenseBySessionID(ctx, p.SessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up session: %w", err)
	}
	if existing != nil {
		logger.Info("License already issued for session", map[string]interface{}{
			"session_id": p.SessionID,
			"license_id": existing.ID,
		})
		return existing, false, nil
	}

	tier, reserved, err := s.allocateTier(ctx, p)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	license := &models.License{
		ID:                    uuid.NewString(),
		Key:                   GenerateKey(),
		Email:                 email,
		Tier:                  tier,
		PurchasedMajorVersion: s.calc.CurrentMajorVersion,
		VersionsIncluded:      s.tiers.VersionsIncluded(tier),
		StripeSessionID:       p.SessionID,
		StripeCustomerID:      p.CustomerID,
		StripeProductID:       p.ProductID,
		AmountPaid:            p.AmountPaid,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.store.InsertLicense(ctx, license); err != nil {
		if reserved {
			s.releaseSlot(ctx, p.SessionID)
		}
		if errors.Is(err, storage.ErrDuplicateLicense) {
			// A concurrent delivery of the same event won the insert.
			existing, findErr := s.store.FindLicenseBySessionID(ctx, p.SessionID)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to save license: %w", err)
	}

	if reserved {
		if err := s.reserver.Commit(ctx, p.SessionID); err != nil {
			logger.Error("Failed to commit early adopter slot", map[string]interface{}{
				"session_id": p.SessionID,
				"error":      err.Error(),
			})
		}
	}

	logger.Info("License issued", map[string]interface{}{
		"license_id":        license.ID,
		"session_id":        license.StripeSessionID,
		"tier":              string(license.Tier),
		"versions_included": license.VersionsIncluded,
		"amount_paid":       license.AmountPaid,
	})

	return license, true, nil
}

// allocateTier resolves the candidate tier and passes capacity-limited
// candidates through the slot allocator. reserved reports whether a slot was
// taken from the reserver and must be released if the insert fails.
func (s *Service) allocateTier(ctx context.Context, p Purchase) (models.Tier, bool, error) {
	candidate := s.resolver.Resolve(p.ProductID, p.AmountPaid)
	if !s.tiers[candidate].CapacityLimited {
		return candidate, false, nil
	}

	if s.reserver != nil {
		ok, err := s.reserveSlot(ctx, candidate, p.SessionID)
		if err != nil {
			return "", false, err
		}
		if ok {
			return candidate, true, nil
		}
		tier := CheckAndMaybeDowngrade(s.tiers, candidate, p.AmountPaid, s.capacity, s.capacity)
		s.logDowngrade(p, tier)
		return tier, false, nil
	}

	claimed, err := s.store.CountLicensesByTier(ctx, candidate)
	if err != nil {
		return "", false, fmt.Errorf("failed to count claimed slots: %w", err)
	}
	tier := CheckAndMaybeDowngrade(s.tiers, candidate, p.AmountPaid, claimed, s.capacity)
	if tier != candidate {
		s.logDowngrade(p, tier)
	}
	return tier, false, nil
}

// reserveSlot takes a slot from the reserver and checks the answer against
// the stored count. A missing counter is seeded from storage. A counter that
// fell behind storage is corrected and the slot refused.
func (s *Service) reserveSlot(ctx context.Context, tier models.Tier, sessionID string) (bool, error) {
	ok, err := s.reserver.Reserve(ctx, sessionID, s.capacity)
	if errors.Is(err, ErrSlotCounterMissing) {
		claimed, countErr := s.store.CountLicensesByTier(ctx, tier)
		if countErr != nil {
			return false, fmt.Errorf("failed to count claimed slots: %w", countErr)
		}
		if _, seedErr := s.reserver.Seed(ctx, claimed); seedErr != nil {
			return false, fmt.Errorf("failed to seed slot counter: %w", seedErr)
		}
		logger.Warn("Slot counter was missing, seeded from storage", map[string]interface{}{
			"claimed": claimed,
		})
		ok, err = s.reserver.Reserve(ctx, sessionID, s.capacity)
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve slot: %w", err)
	}
	if !ok {
		return false, nil
	}

	claimed, err := s.store.CountLicensesByTier(ctx, tier)
	if err != nil {
		s.releaseSlot(ctx, sessionID)
		return false, fmt.Errorf("failed to count claimed slots: %w", err)
	}
	if claimed >= s.capacity {
		logger.Warn("Slot counter behind storage, resyncing", map[string]interface{}{
			"claimed":  claimed,
			"capacity": s.capacity,
		})
		s.releaseSlot(ctx, sessionID)
		if err := s.reserver.Sync(ctx, claimed); err != nil {
			logger.Error("Failed to resync slot counter", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return false, nil
	}
	return true, nil
}

func (s *Service) logDowngrade(p Purchase, tier models.Tier) {
	logger.Info("Early adopter slots full, falling back", map[string]interface{}{
		"session_id":  p.SessionID,
		"amount_paid": p.AmountPaid,
		"tier":        string(tier),
	})
}

func (s *Service) releaseSlot(ctx context.Context, sessionID string) {
	if err := s.reserver.Release(ctx, sessionID); err != nil {
		logger.Error("Failed to release early adopter slot", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// ValidationResult is the outcome of checking a key. Only Valid, Reason and
// Message are set unless a license was found.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason"`
	Message string `json:"message"`

	Email                  string      `json:"email,omitempty"`
	Tier                   models.Tier `json:"tier,omitempty"`
	TierDisplay            string      `json:"tier_display,omitempty"`
	PurchasedMajorVersion  *int        `json:"purchased_major_version,omitempty"`
	VersionsIncluded       *int        `json:"versions_included,omitempty"`
	EntitledThroughVersion *int        `json:"entitled_through_version,omitempty"`
	CurrentVersion         *int        `json:"current_version,omitempty"`
	CreatedAt              *time.Time  `json:"created_at,omitempty"`
}

// Validate checks a key against appVersion, or against the current major
// version when appVersion is empty. Malformed keys are rejected without a
// storage lookup.
func (s *Service) Validate(ctx context.Context, key, appVersion string) (*ValidationResult, error) {
	key = strings.TrimSpace(key)
	if !IsValidKeyFormat(key) {
		return &ValidationResult{
			Valid:   false,
			Reason:  ReasonInvalidFormat,
			Message: "License key format is invalid",
		}, nil
	}

	target, err := version.TargetMajor(appVersion, s.calc.CurrentMajorVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAppVersion, err)
	}

	license, err := s.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return &ValidationResult{
			Valid:   false,
			Reason:  ReasonNotFound,
			Message: "License key not found",
		}, nil
	}

	ent := EntitlementOf(license)
	valid := IsValidForVersion(license.PurchasedMajorVersion, license.VersionsIncluded, target)

	result := &ValidationResult{
		Valid:                  valid,
		Email:                  license.Email,
		Tier:                   license.Tier,
		TierDisplay:            license.Tier.DisplayName(),
		PurchasedMajorVersion:  intPtr(ent.PurchasedMajorVersion),
		VersionsIncluded:       intPtr(ent.VersionsIncluded),
		EntitledThroughVersion: intPtr(ent.EntitledThroughVersion),
		CurrentVersion:         intPtr(target),
		CreatedAt:              timePtr(license.CreatedAt),
	}
	if valid {
		result.Reason = ReasonValid
		result.Message = fmt.Sprintf("License valid through v%d", ent.EntitledThroughVersion)
	} else {
		result.Reason = ReasonExpired
		result.Message = fmt.Sprintf("License expired. Valid through v%d, current version is v%d", ent.EntitledThroughVersion, target)
	}
	return result, nil
}

// findByKey tries the canonical casing first, then the key as given, so
// keys stored before canonicalization are still found.
func (s *Service) findByKey(ctx context.Context, key string) (*models.License, error) {
	canonical := CanonicalKey(key)
	license, err := s.store.FindLicenseByKey(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}
	if license != nil || canonical == key {
		return license, nil
	}
	license, err = s.store.FindLicenseByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}
	return license, nil
}

// LicenseView is a license as shown to its owner.
type LicenseView struct {
	LicenseKey  string      `json:"license_key"`
	Email       string      `json:"email,omitempty"`
	Tier        models.Tier `json:"tier"`
	TierDisplay string      `json:"tier_display"`
	Entitlement
	AmountPaid *int64     `json:"amount_paid,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

func NewLicenseView(l *models.License) LicenseView {
	return LicenseView{
		LicenseKey:  l.Key,
		Tier:        l.Tier,
		TierDisplay: l.Tier.DisplayName(),
		Entitlement: EntitlementOf(l),
	}
}

// LicenseForSession waits for the license of a checkout session to appear.
// Only "not found" is retried; the wait ends once the attempts run out.
func (s *Service) LicenseForSession(ctx context.Context, sessionID string) (*LicenseView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidPurchase)
	}

	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		license, err := s.store.FindLicenseBySessionID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up session: %w", err)
		}
		if license != nil {
			view := NewLicenseView(license)
			view.Email = license.Email
			view.AmountPaid = int64Ptr(license.AmountPaid)
			return &view, nil
		}
		if attempt < s.pollAttempts {
			s.sleep(s.pollInterval)
		}
	}

	logger.Warn("License not found for session after polling", map[string]interface{}{
		"session_id": sessionID,
		"attempts":   s.pollAttempts,
	})
	return nil, ErrLicensePending
}

// RecoverByEmail lists every license of an owner, newest first. An unknown
// email yields an empty slice.
func (s *Service) RecoverByEmail(ctx context.Context, email string) ([]LicenseView, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}

	licenses, err := s.store.FindLicensesByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up licenses: %w", err)
	}

	views := make([]LicenseView, 0, len(licenses))
	for _, l := range licenses {
		view := NewLicenseView(l)
		view.CreatedAt = timePtr(l.CreatedAt)
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) SlotAvailability(ctx context.Context) (SlotAvailability, error) {
	claimed, err := s.store.CountLicensesByTier(ctx, models.TierEarlyAdopter)
	if err != nil {
		return SlotAvailability{}, fmt.Errorf("failed to count claimed slots: %w", err)
	}
	return Availability(claimed, s.capacity), nil
}

func intPtr(v int) *int {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
