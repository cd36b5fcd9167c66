package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"unitools/market-api/config"
	"unitools/market-api/db"
	"unitools/market-api/internal"
	"unitools/market-api/internal/model"
	"unitools/market-api/internal/service"
	"unitools/market-api/internal/storage"
	"unitools/market-api/internal/verification"
	"unitools/market-api/pkg/security"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type sentMail struct {
	To   string
	Mail service.PasscodeMail
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *captureMailer) SendPasscode(_ context.Context, to string, pm *service.PasscodeMail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return errors.New("smtp: 421 service not available")
	}

	m.sent = append(m.sent, sentMail{To: to, Mail: *pm})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotEmpty(t, m.sent, "no passcode mail was sent")
	return m.sent[len(m.sent)-1]
}

// countingStore records reservations and can hand out a stale entry from Get
type countingStore struct {
	verification.Store

	mu       sync.Mutex
	reserved int
	stale    *model.PendingVerification
}

func (s *countingStore) Get(ctx context.Context, email string) (*model.PendingVerification, error) {
	s.mu.Lock()
	stale := s.stale
	s.mu.Unlock()

	if stale != nil {
		return stale, nil
	}

	return s.Store.Get(ctx, email)
}

func (s *countingStore) ReserveAttempt(ctx context.Context, email, listingID string, max int) (int, error) {
	n, err := s.Store.ReserveAttempt(ctx, email, listingID, max)
	if err == nil {
		s.mu.Lock()
		s.reserved++
		s.mu.Unlock()
	}

	return n, err
}

func (e *testEnv) countVerifications() *countingStore {
	s := &countingStore{Store: e.d.Verifications}
	e.d.Verifications = s
	return s
}

type testEnv struct {
	r      *gin.Engine
	d      *internal.Deps
	mailer *captureMailer
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	gin.SetMode(gin.TestMode)

	viper.Reset()
	config.SetDefaults()
	viper.Set("upload.max_total_size", int64(5<<20))
	viper.Set("security.jwt_secret", "test-secret")
	viper.Set("security.rate_limit", 1000)
	viper.Set("cache.listings_ttl", 0)
	viper.Set("mail.retries", 0)

	gdb, err := db.Open("sqlite", ":memory:")
	require.NoError(t, err)

	images := storage.NewDBStore(gdb)
	mailer := &captureMailer{}

	d := &internal.Deps{
		DB:            gdb,
		Images:        images,
		Verifications: verification.NewGormStore(gdb),
		Mailer:        mailer,
		Argon:         &security.ArgonHash{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		Tickets:       security.NewTicketSigner("test-secret"),
		Uploader:      service.NewUploader(images),
	}

	r, err := NewRouter(d)
	require.NoError(t, err)

	return &testEnv{r: r, d: d, mailer: mailer}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) submit(t *testing.T, kind string, fields map[string]string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	for name, data := range files {
		part, err := mw.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/preowned/"+kind, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return e.do(req)
}

func (e *testEnv) verify(kind string, vals url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/verify-otp/"+kind, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return e.do(req)
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) listing(t *testing.T, email string) model.Listing {
	t.Helper()

	var l model.Listing
	require.NoError(t, e.d.DB.Where("email = ?", email).Order("seq desc").First(&l).Error)
	return l
}

func (e *testEnv) count(t *testing.T, where ...any) int64 {
	t.Helper()

	var n int64
	q := e.d.DB.Model(&model.Listing{})
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

type queryResponse struct {
	Listings   []model.ListingResponse `json:"listings"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	TotalPages int                     `json:"totalPages"`
}

func (e *testEnv) query(t *testing.T, path string) queryResponse {
	t.Helper()

	w := e.get(path)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp queryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sellForm(email, item, price string) map[string]string {
	return map[string]string{
		"seller_name":      "Omar",
		"email":            email,
		"contact_number":   "01000000000",
		"whatsapp_number":  "01000000000",
		"item_name":        item,
		"item_description": "Barely used",
		"price":            price,
	}
}
