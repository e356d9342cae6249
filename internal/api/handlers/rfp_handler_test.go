package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/llm"
	"github.com/procureflow/backend/internal/mail"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
)

const testRFPID = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"

type mockStore struct {
	rfps    map[string]*models.RFP
	vendors map[string]*models.Vendor
}

func newMockStore() *mockStore {
	return &mockStore{
		rfps:    make(map[string]*models.RFP),
		vendors: make(map[string]*models.Vendor),
	}
}

func (m *mockStore) LockRFP(id string) func() { return func() {} }

func (m *mockStore) CreateRFP(rfp *models.RFP) error {
	m.rfps[rfp.ID] = rfp
	return nil
}

func (m *mockStore) GetRFP(id string) (*models.RFP, error) {
	rfp, ok := m.rfps[id]
	if !ok {
		return nil, apperr.NotFound("RFP not found")
	}
	copied := *rfp
	return &copied, nil
}

func (m *mockStore) ListRFPs() ([]models.RFP, error) {
	out := make([]models.RFP, 0, len(m.rfps))
	for _, r := range m.rfps {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockStore) ListRFPsByStatus(statuses ...lifecycle.Status) ([]models.RFP, error) {
	var out []models.RFP
	for _, r := range m.rfps {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, *r)
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) DeleteRFP(id string) error {
	if _, ok := m.rfps[id]; !ok {
		return apperr.NotFound("RFP not found")
	}
	delete(m.rfps, id)
	return nil
}

func (m *mockStore) UpdateRFPDescription(id, originalText string, structured models.StructuredContent, status lifecycle.Status) error {
	rfp := m.rfps[id]
	rfp.OriginalText = originalText
	rfp.Structured = structured
	rfp.Status = status
	return nil
}

func (m *mockStore) UpdateRFPStructured(id string, structured models.StructuredContent) error {
	m.rfps[id].Structured = structured
	return nil
}

func (m *mockStore) SetChosenVendors(id string, vendorIDs []string, status lifecycle.Status) error {
	rfp := m.rfps[id]
	rfp.ChosenVendorIDs = vendorIDs
	rfp.Status = status
	return nil
}

func (m *mockStore) SetStatus(id string, status lifecycle.Status) error {
	rfp, ok := m.rfps[id]
	if !ok {
		return apperr.NotFound("RFP not found")
	}
	rfp.Status = status
	return nil
}

func (m *mockStore) GetVendorsByIDs(ids []string) ([]models.Vendor, error) {
	var out []models.Vendor
	for _, id := range ids {
		if v, ok := m.vendors[id]; ok {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *mockStore) FindVendorByAddress(address string) (*models.Vendor, error) {
	for _, v := range m.vendors {
		if strings.Contains(v.Email, address) || strings.Contains(address, v.Email) {
			return v, nil
		}
	}
	return nil, nil
}

type mockStructurer struct {
	structured models.StructuredContent
	err        error
	calls      int
	ident      *llm.EmailIdentification
}

func (m *mockStructurer) Structure(ctx context.Context, userText string) (models.StructuredContent, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.structured, nil
}

func (m *mockStructurer) IdentifyEmail(ctx context.Context, emailText string, candidates []llm.RFPSummary) (*llm.EmailIdentification, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ident, nil
}

type mockNotifier struct {
	results []mail.SendResult
}

func (m *mockNotifier) SendAll(vendors []models.Vendor, content models.StructuredContent, correlationID string) []mail.SendResult {
	if m.results != nil {
		return m.results
	}
	out := make([]mail.SendResult, 0, len(vendors))
	for _, v := range vendors {
		out = append(out, mail.SendResult{VendorID: v.ID, VendorEmail: v.Email, Success: true})
	}
	return out
}

type mockPoller struct {
	responses []models.VendorResponse
	err       error
}

func (m *mockPoller) Poll(ctx context.Context, rfpID string) ([]models.VendorResponse, error) {
	return m.responses, m.err
}

type mockComparer struct {
	result *models.ComparisonResult
	err    error
}

func (m *mockComparer) Compare(ctx context.Context, rfpID string) (*models.ComparisonResult, error) {
	return m.result, m.err
}

type mockCache struct {
	entries map[string]models.StructuredContent
}

func (m *mockCache) GetStructured(ctx context.Context, textHash string) (models.StructuredContent, bool, error) {
	if m.entries == nil {
		return nil, false, nil
	}
	content, ok := m.entries[textHash]
	return content, ok, nil
}

func (m *mockCache) SetStructured(ctx context.Context, textHash string, content models.StructuredContent) error {
	if m.entries == nil {
		m.entries = make(map[string]models.StructuredContent)
	}
	m.entries[textHash] = content
	return nil
}

type fixture struct {
	app        *fiber.App
	store      *mockStore
	structurer *mockStructurer
	notifier   *mockNotifier
	poller     *mockPoller
	comparer   *mockComparer
	cache      *mockCache
}

func newFixture() *fixture {
	f := &fixture{
		store:      newMockStore(),
		structurer: &mockStructurer{},
		notifier:   &mockNotifier{},
		poller:     &mockPoller{},
		comparer:   &mockComparer{},
		cache:      &mockCache{},
	}

	h := NewRFPHandler(f.store, f.structurer, f.notifier, f.poller, f.comparer, f.cache)
	eh := NewEmailHandler(f.store, f.structurer)

	f.app = fiber.New()
	api := f.app.Group("/api/v1")
	api.Get("/rfp", h.List)
	api.Post("/rfp", h.Create)
	api.Get("/rfp/:id", h.Get)
	api.Delete("/rfp/:id", h.Delete)
	api.Post("/rfp/generate-from-text", h.GenerateFromText)
	api.Put("/rfp/:id/describe", h.Describe)
	api.Put("/rfp/:id/review", h.Review)
	api.Post("/rfp/:id/send-to-vendors", h.SendToVendors)
	api.Get("/rfp/:id/responses", h.GetResponses)
	api.Post("/rfp/:id/poll-inbox", h.PollInbox)
	api.Post("/rfp/:id/compare", h.CompareQuotes)
	api.Put("/rfp/:id/status", h.UpdateStatus)
	api.Post("/rfp/:id/complete", h.Complete)
	api.Post("/emails/process", eh.Process)

	return f
}

func (f *fixture) seedRFP(status lifecycle.Status) *models.RFP {
	rfp := &models.RFP{
		ID:         testRFPID,
		Structured: models.StructuredContent{"title": "Office Chairs"},
		Status:     status,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.store.rfps[rfp.ID] = rfp
	return rfp
}

func (f *fixture) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestCreateRFP(t *testing.T) {
	f := newFixture()

	resp, body := f.request(t, "POST", "/api/v1/rfp", nil)

	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	rfp := body["rfp"].(map[string]any)
	assert.Equal(t, "New", rfp["status"])
	assert.NotEmpty(t, rfp["id"])
}

func TestGetRFPInvalidID(t *testing.T) {
	f := newFixture()

	resp, body := f.request(t, "GET", "/api/v1/rfp/not-a-uuid", nil)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["kind"])
}

func TestGetRFPNotFound(t *testing.T) {
	f := newFixture()

	resp, body := f.request(t, "GET", "/api/v1/rfp/"+testRFPID, nil)

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])
}

func TestGenerateFromTextValidation(t *testing.T) {
	f := newFixture()

	resp, _ := f.request(t, "POST", "/api/v1/rfp/generate-from-text", fiber.Map{"user_text": ""})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGenerateFromText(t *testing.T) {
	f := newFixture()
	f.structurer.structured = models.StructuredContent{"title": "Laptops"}

	resp, body := f.request(t, "POST", "/api/v1/rfp/generate-from-text",
		fiber.Map{"user_text": "we need 20 laptops"})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, 1, f.structurer.calls)

	// Same text again is served from the cache without a second upstream call.
	resp, body = f.request(t, "POST", "/api/v1/rfp/generate-from-text",
		fiber.Map{"user_text": "  We Need 20 Laptops  "})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, 1, f.structurer.calls)
}

func TestGenerateFromTextUpstreamDown(t *testing.T) {
	f := newFixture()
	f.structurer.err = apperr.UpstreamUnavailable("all candidate models failed", nil)

	resp, body := f.request(t, "POST", "/api/v1/rfp/generate-from-text",
		fiber.Map{"user_text": "anything"})

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "upstream_unavailable", body["kind"])
}

func TestDescribe(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusNew)

	resp, body := f.request(t, "PUT", "/api/v1/rfp/"+testRFPID+"/describe", fiber.Map{
		"user_text":  "need chairs",
		"structured": fiber.Map{"title": "Chairs"},
	})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	rfp := body["rfp"].(map[string]any)
	assert.Equal(t, "Described", rfp["status"])
}

func TestDescribeSelfLoop(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusDescribed)

	resp, _ := f.request(t, "PUT", "/api/v1/rfp/"+testRFPID+"/describe", fiber.Map{
		"user_text":  "revised description",
		"structured": fiber.Map{"title": "Better Chairs"},
	})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDescribeRejectedAfterDispatch(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusVendorsChosen)

	resp, body := f.request(t, "PUT", "/api/v1/rfp/"+testRFPID+"/describe", fiber.Map{
		"user_text":  "too late",
		"structured": fiber.Map{"title": "Chairs"},
	})

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["kind"])
}

func TestReviewRequiresDescribed(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusNew)

	resp, _ := f.request(t, "PUT", "/api/v1/rfp/"+testRFPID+"/review", fiber.Map{
		"structured": fiber.Map{"title": "Chairs"},
	})

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSendToVendors(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusDescribed)
	f.store.vendors["v1"] = &models.Vendor{ID: "v1", Name: "Acme", Email: "sales@acme.com"}
	f.store.vendors["v2"] = &models.Vendor{ID: "v2", Name: "Globex", Email: "rfp@globex.com"}

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/send-to-vendors",
		fiber.Map{"vendor_ids": []string{"v1", "v2"}})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["sent"])
	assert.Equal(t, "VendorsChosen", body["status"])
	assert.ElementsMatch(t, []string{"v1", "v2"}, f.store.rfps[testRFPID].ChosenVendorIDs)
}

func TestSendToVendorsRequiresSelection(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusDescribed)

	resp, _ := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/send-to-vendors",
		fiber.Map{"vendor_ids": []string{}})

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSendToVendorsRequiresDescription(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusNew)
	f.store.vendors["v1"] = &models.Vendor{ID: "v1", Email: "sales@acme.com"}

	resp, _ := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/send-to-vendors",
		fiber.Map{"vendor_ids": []string{"v1"}})

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSendToVendorsExtendsSelection(t *testing.T) {
	f := newFixture()
	rfp := f.seedRFP(lifecycle.StatusVendorsChosen)
	rfp.ChosenVendorIDs = []string{"v1"}
	f.store.vendors["v1"] = &models.Vendor{ID: "v1", Email: "sales@acme.com"}
	f.store.vendors["v2"] = &models.Vendor{ID: "v2", Email: "rfp@globex.com"}

	resp, _ := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/send-to-vendors",
		fiber.Map{"vendor_ids": []string{"v2"}})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"v1", "v2"}, f.store.rfps[testRFPID].ChosenVendorIDs)
}

func TestSendToVendorsUnknownVendors(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusDescribed)

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/send-to-vendors",
		fiber.Map{"vendor_ids": []string{"ghost"}})

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["kind"])
}

func TestPollInbox(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusVendorsChosen)
	f.poller.responses = []models.VendorResponse{
		{FromAddress: "sales@acme.com", Body: "quote"},
	}

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/poll-inbox", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["new_count"])
}

func TestPollInboxUnavailable(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusVendorsChosen)
	f.poller.err = apperr.InboxUnavailable("imap connect failed", nil)

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/poll-inbox", nil)

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "inbox_unavailable", body["kind"])
}

func TestCompareInsufficientData(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusVendorsResponded)
	f.comparer.err = apperr.InsufficientData("at least 2 vendor responses are required for comparison")

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/compare", nil)

	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "insufficient_data", body["kind"])
}

func TestCompare(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusVendorsResponded)
	f.comparer.result = &models.ComparisonResult{
		BestVendorID: "v1",
		Resolution:   models.ResolutionID,
	}

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/compare", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	comparison := body["comparison"].(map[string]any)
	assert.Equal(t, "v1", comparison["best_vendor_id"])
}

func TestUpdateStatusOverride(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusCompleted)

	// Backward jump, legal only through the override endpoint.
	resp, _ := f.request(t, "PUT", "/api/v1/rfp/"+testRFPID+"/status",
		fiber.Map{"status": "Described"})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, lifecycle.StatusDescribed, f.store.rfps[testRFPID].Status)
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusNew)

	resp, _ := f.request(t, "PUT", "/api/v1/rfp/"+testRFPID+"/status",
		fiber.Map{"status": "Archived"})

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestComplete(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusCompared)

	resp, body := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/complete", nil)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Completed", body["status"])
}

func TestCompleteRequiresCompared(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusNew)

	resp, _ := f.request(t, "POST", "/api/v1/rfp/"+testRFPID+"/complete", nil)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestProcessEmailNoActiveRFPs(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusNew)

	resp, _ := f.request(t, "POST", "/api/v1/emails/process",
		fiber.Map{"email_text": "here is our quote"})

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestProcessEmail(t *testing.T) {
	f := newFixture()
	f.seedRFP(lifecycle.StatusVendorsChosen)
	f.store.vendors["v1"] = &models.Vendor{ID: "v1", Name: "Acme", Email: "sales@acme.com"}
	f.structurer.ident = &llm.EmailIdentification{
		RFPID:       testRFPID,
		VendorName:  "Acme",
		VendorEmail: "sales@acme.com",
		Confidence:  0.92,
	}

	resp, body := f.request(t, "POST", "/api/v1/emails/process",
		fiber.Map{"email_text": "quote for the office chairs"})

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	ident := body["identification"].(map[string]any)
	assert.Equal(t, testRFPID, ident["rfp_id"])
	vendor := body["vendor"].(map[string]any)
	assert.Equal(t, "v1", vendor["id"])
}
