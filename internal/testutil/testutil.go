package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"zen.app/cloud/licensing"
	"zen.app/cloud/models"
	"zen.app/cloud/storage"
)

// WebhookSecret is the signing secret used by test servers.
const WebhookSecret = "whsec_test_secret"

// NoSleep replaces the session poll wait in tests.
func NoSleep(time.Duration) {}

// TestStorage creates an empty memory storage
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// TestService wires a licensing service over store with polling disabled
func TestService(store storage.Storage, opts licensing.Options) *licensing.Service {
	if opts.Sleep == nil {
		opts.Sleep = NoSleep
	}
	return licensing.NewService(store, opts)
}

// CreateTestLicense creates a license as issuance would for the given tier
func CreateTestLicense(id, email string, tier models.Tier, createdAt time.Time) *models.License {
	cfg := models.DefaultTierTable()[tier]
	return &models.License{
		ID:                    id,
		Key:                   licensing.GenerateKey(),
		Email:                 models.NormalizeEmail(email),
		Tier:                  tier,
		PurchasedMajorVersion: 1,
		VersionsIncluded:      cfg.VersionsIncluded,
		StripeSessionID:       "cs_" + id,
		StripeCustomerID:      "cus_" + id,
		AmountPaid:            cfg.PriceCents,
		CreatedAt:             createdAt,
		UpdatedAt:             createdAt,
	}
}

// SeedEarlyAdopters stores n early adopter licenses
func SeedEarlyAdopters(store storage.Storage, n int) error {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		license := CreateTestLicense(fmt.Sprintf("seed-%d", i), fmt.Sprintf("founder%d@example.com", i), models.TierEarlyAdopter, time.Now())
		license.AmountPaid = 100
		if err := store.InsertLicense(ctx, license); err != nil {
			return fmt.Errorf("failed to seed license %s: %w", license.ID, err)
		}
	}
	return nil
}

// CreateStripeWebhookPayload creates a Stripe event payload
func CreateStripeWebhookPayload(eventType string, object map[string]interface{}) []byte {
	event := map[string]interface{}{
		"id":     "evt_test123",
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": object,
		},
	}

	payload, _ := json.Marshal(event)
	return payload
}

// CreateMockCheckoutSession creates a paid Stripe checkout session
func CreateMockCheckoutSession(customerEmail, sessionID string, amountTotal int64) map[string]interface{} {
	return map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"customer":       "cus_" + sessionID,
		"customer_email": customerEmail,
		"amount_total":   amountTotal,
		"currency":       "usd",
		"payment_status": "paid",
	}
}

// SignPayload returns a Stripe-Signature header for payload
func SignPayload(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	}).Header
}

// MakeStripeWebhookRequest sends payload signed with WebhookSecret
func MakeStripeWebhookRequest(t *testing.T, h http.Handler, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	return MakeSignedWebhookRequest(t, h, payload, SignPayload(payload, WebhookSecret))
}

// MakeSignedWebhookRequest sends payload with an explicit signature header
func MakeSignedWebhookRequest(t *testing.T, h http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// MakeJSONRequest sends body as JSON
func MakeJSONRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// MakeValidateRequest creates and sends a license validation request
func MakeValidateRequest(t *testing.T, h http.Handler, licenseKey, appVersion string) *httptest.ResponseRecorder {
	t.Helper()
	return MakeJSONRequest(t, h, http.MethodPost, "/api/v1/licenses/validate", map[string]string{
		"license_key": licenseKey,
		"app_version": appVersion,
	})
}

// MakeRecoverRequest creates and sends a license recovery request
func MakeRecoverRequest(t *testing.T, h http.Handler, email string) *httptest.ResponseRecorder {
	t.Helper()
	return MakeJSONRequest(t, h, http.MethodPost, "/api/v1/licenses/recover", map[string]string{
		"email": email,
	})
}

// MakeSessionRequest polls the license of a checkout session
func MakeSessionRequest(t *testing.T, h http.Handler, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/licenses/session?session_id="+sessionID, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeResponse decodes the JSON body of w into v
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// AssertErrorResponse checks if the error response matches expected values
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d", expectedStatus, w.Code)
	}

	var response map[string]string
	err := json.NewDecoder(w.Body).Decode(&response)
	if err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if response["error"] != expectedError {
		t.Errorf("Expected error '%s', got '%s'", expectedError, response["error"])
	}
}

// FailingStorage fails every call with Err
type FailingStorage struct {
	Err error
}

func (f FailingStorage) InsertLicense(context.Context, *models.License) error { return f.Err }
func (f FailingStorage) FindLicenseByKey(context.Context, string) (*models.License, error) {
	return nil, f.Err
}
func (f FailingStorage) FindLicenseBySessionID(context.Context, string) (*models.License, error) {
	return nil, f.Err
}
func (f FailingStorage) FindLicensesByEmail(context.Context, string) ([]*models.License, error) {
	return nil, f.Err
}
func (f FailingStorage) CountLicensesByTier(context.Context, models.Tier) (int, error) {
	return 0, f.Err
}
func (f FailingStorage) Close() error { return nil }
