package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"unitools/market-api/internal/model"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSubmitRejectsForeignEmail(t *testing.T) {
	e := setup(t)

	w := e.submit(t, model.KindSell, sellForm("someone@gmail.com", "Desk Lamp", "100"), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "@bue.edu.eg")
	assert.Zero(t, e.count(t))
	assert.Empty(t, e.mailer.sent)
}

func TestSubmitValidation(t *testing.T) {
	e := setup(t)

	form := sellForm("a@bue.edu.eg", "", "100")
	w := e.submit(t, model.KindSell, form, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	form = sellForm("a@bue.edu.eg", "Lamp", "-4")
	w = e.submit(t, model.KindSell, form, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Leases need a price period
	form = sellForm("a@bue.edu.eg", "Projector", "50")
	w = e.submit(t, model.KindLease, form, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "price period")

	w = e.submit(t, model.KindSell, form, map[string][]byte{"notes.txt": []byte("plain text, not an image")})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, e.count(t))
}

func TestSubmitRejectsLargeImages(t *testing.T) {
	e := setup(t)
	viper.Set("upload.max_total_size", int64(64))

	big := make([]byte, 100)
	copy(big, pngMagic)

	w := e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), map[string][]byte{"lamp.png": big})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, e.count(t))

	var images int64
	require.NoError(t, e.d.DB.Model(&model.Image{}).Count(&images).Error)
	assert.Zero(t, images)
}

func TestSubmitLeavesListingUnpublished(t *testing.T) {
	e := setup(t)

	w := e.submit(t, model.KindSell, sellForm("Student@BUE.edu.eg", "Desk Lamp", "120.5"), map[string][]byte{"lamp.png": pngMagic})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "/verify-otp/sell?ticket=")

	l := e.listing(t, "student@bue.edu.eg")
	assert.False(t, l.Published)
	assert.Equal(t, 120.5, l.Price)
	assert.Len(t, l.Images, 1)

	mail := e.mailer.last(t)
	assert.Equal(t, "student@bue.edu.eg", mail.To)
	assert.Len(t, mail.Mail.Code, 6)

	p, err := e.d.Verifications.Get(t.Context(), "student@bue.edu.eg")
	require.NoError(t, err)
	assert.Equal(t, l.ListingID, p.ListingID)
	assert.NotEqual(t, mail.Mail.Code, p.CodeHash)

	resp := e.query(t, "/api/sell/listings")
	assert.Zero(t, resp.Total)
	assert.Empty(t, resp.Listings)
}

func TestVerifyWrongCode(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {"000000"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.False(t, e.listing(t, "a@bue.edu.eg").Published)

	p, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Attempts)
}

func TestVerifyPublishesOnce(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)
	code := e.mailer.last(t).Mail.Code

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `href="/buy"`)

	assert.True(t, e.listing(t, "a@bue.edu.eg").Published)
	assert.EqualValues(t, 1, e.count(t, "published = ?", true))

	_, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	assert.Error(t, err)

	w = e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := e.query(t, "/api/sell/listings")
	assert.EqualValues(t, 1, resp.Total)
	assert.Equal(t, "Lamp", resp.Listings[0].ItemName)
}

func TestVerifyKindMismatch(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)
	code := e.mailer.last(t).Mail.Code

	w := e.verify(model.KindLease, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, e.listing(t, "a@bue.edu.eg").Published)
}

func TestResubmitOrphansFirstListing(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Old Lamp", "10"), nil).Code)
	first := e.listing(t, "a@bue.edu.eg")
	firstCode := e.mailer.last(t).Mail.Code

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "New Lamp", "12"), nil).Code)
	second := e.listing(t, "a@bue.edu.eg")
	secondCode := e.mailer.last(t).Mail.Code

	if firstCode != secondCode {
		w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {firstCode}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	// A passcode for the old listing id is refused even when it is right
	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {secondCode}, "id": {first.ListingID}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {secondCode}, "id": {second.ListingID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var published []string
	require.NoError(t, e.d.DB.Model(&model.Listing{}).Where("published = ?", true).Pluck("listing_id", &published).Error)
	assert.Equal(t, []string{second.ListingID}, published)
	assert.EqualValues(t, 2, e.count(t))
}

func TestVerifyAttemptsExhausted(t *testing.T) {
	e := setup(t)
	viper.Set("verification.max_attempts", 2)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)
	code := e.mailer.last(t).Mail.Code

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {"000000"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {"000000"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Too many")

	// The budget is terminal, even the right passcode is refused now
	w = e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, e.listing(t, "a@bue.edu.eg").Published)
}

func TestVerifyConcurrentGuessesCapped(t *testing.T) {
	e := setup(t)
	viper.Set("verification.max_attempts", 3)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)
	code := e.mailer.last(t).Mail.Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	store := e.countVerifications()

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {wrong}})
		}()
	}
	wg.Wait()

	// Only max_attempts guesses ever reach the passcode comparison
	assert.Equal(t, 3, store.reserved)

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, e.listing(t, "a@bue.edu.eg").Published)
}

func TestVerifyPublishFailureKeepsPasscode(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)
	code := e.mailer.last(t).Mail.Code

	var fail atomic.Bool
	fail.Store(true)
	require.NoError(t, e.d.DB.Callback().Update().Before("gorm:update").Register("test:fail_publish", func(tx *gorm.DB) {
		if tx.Statement.Table == "listings" && fail.CompareAndSwap(true, false) {
			tx.AddError(errors.New("disk I/O error"))
		}
	}))

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, e.listing(t, "a@bue.edu.eg").Published)

	_, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	require.NoError(t, err)

	w = e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, e.listing(t, "a@bue.edu.eg").Published)
}

func TestVerifyStaleEntryKeepsNewerSubmission(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Old Lamp", "10"), nil).Code)
	stale, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "New Lamp", "12"), nil).Code)
	newer := e.listing(t, "a@bue.edu.eg")

	// A request that read the first entry before it was replaced finds it expired
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	store := e.countVerifications()
	store.stale = stale

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {"000000"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expired")

	store.stale = nil

	p, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	require.NoError(t, err)
	assert.Equal(t, newer.ListingID, p.ListingID)
}

func TestVerifyExpired(t *testing.T) {
	e := setup(t)
	viper.Set("verification.code_ttl", "-1m")

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)
	code := e.mailer.last(t).Mail.Code

	w := e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "expired")

	_, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	assert.Error(t, err)
	assert.False(t, e.listing(t, "a@bue.edu.eg").Published)
}

func TestTicketFlow(t *testing.T) {
	e := setup(t)

	form := sellForm("a@bue.edu.eg", "Projector", "50")
	form["price_period"] = "week"
	require.Equal(t, http.StatusOK, e.submit(t, model.KindLease, form, nil).Code)

	mail := e.mailer.last(t)
	link, err := url.Parse(mail.Mail.Link)
	require.NoError(t, err)
	assert.Equal(t, "/verify-otp/lease", link.Path)

	w := e.get(link.RequestURI())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `value="a@bue.edu.eg"`)

	// The ticket belongs to a lease listing
	w = e.get("/verify-otp/sell?" + link.RawQuery)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.get("/verify-otp/lease?ticket=forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.verify(model.KindLease, url.Values{"ticket": {link.Query().Get("ticket")}, "otp": {mail.Mail.Code}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `href="/rent"`)

	resp := e.query(t, "/api/lease/listings")
	require.Len(t, resp.Listings, 1)
	assert.Equal(t, "week", resp.Listings[0].PricePeriod)
}

func TestMailFailureStoresNothing(t *testing.T) {
	e := setup(t)
	e.mailer.fail = true

	w := e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), map[string][]byte{"lamp.png": pngMagic})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Zero(t, e.count(t))

	var images int64
	require.NoError(t, e.d.DB.Model(&model.Image{}).Count(&images).Error)
	assert.Zero(t, images)

	_, err := e.d.Verifications.Get(t.Context(), "a@bue.edu.eg")
	assert.Error(t, err)
}

func seedListings(t *testing.T, e *testEnv, n int, kind string, name func(i int) string, price func(i int) float64) {
	t.Helper()

	for i := range n {
		require.NoError(t, e.d.DB.Create(&model.Listing{
			ListingID: fmt.Sprintf("%s-%02d", kind, i),
			Kind:      kind,
			Email:     fmt.Sprintf("s%d@bue.edu.eg", i),
			ItemName:  name(i),
			Price:     price(i),
			Published: true,
		}).Error)
	}
}

func TestQueryPagination(t *testing.T) {
	e := setup(t)

	seedListings(t, e, 12, model.KindSell,
		func(i int) string { return fmt.Sprintf("Item %d", i) },
		func(i int) float64 { return float64(i) },
	)

	resp := e.query(t, "/api/sell/listings?page=2&limit=5")
	assert.EqualValues(t, 12, resp.Total)
	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 3, resp.TotalPages)
	require.Len(t, resp.Listings, 5)
	// Newest first, page two starts at the sixth newest
	assert.Equal(t, "sell-06", resp.Listings[0].ID)

	resp = e.query(t, "/api/sell/listings?page=3&limit=5")
	assert.Len(t, resp.Listings, 2)

	resp = e.query(t, "/api/sell/listings")
	assert.Len(t, resp.Listings, 10)
	assert.Equal(t, 1, resp.Page)

	for _, q := range []string{"page=0", "limit=0", "limit=101", "sort=random", "page=abc"} {
		w := e.get("/api/sell/listings?" + q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Contains(t, w.Body.String(), "requestID")
	}

	assert.Empty(t, e.query(t, "/api/lease/listings").Listings)
}

func TestQuerySortAndSearch(t *testing.T) {
	e := setup(t)

	names := []string{"Study Chair", "Desk Lamp", "Office chair", "Lab Coat", "Rocking CHAIR"}
	prices := []float64{300, 50, 120, 80, 900}
	seedListings(t, e, len(names), model.KindSell,
		func(i int) string { return names[i] },
		func(i int) float64 { return prices[i] },
	)

	resp := e.query(t, "/api/sell/listings?sort=price_asc")
	require.Len(t, resp.Listings, 5)
	for i := 1; i < len(resp.Listings); i++ {
		assert.LessOrEqual(t, resp.Listings[i-1].Price, resp.Listings[i].Price)
	}

	resp = e.query(t, "/api/sell/listings?sort=desc")
	assert.Equal(t, 900.0, resp.Listings[0].Price)

	resp = e.query(t, "/api/sell/listings?search=chair")
	assert.EqualValues(t, 3, resp.Total)
	for _, l := range resp.Listings {
		assert.Contains(t, strings.ToLower(l.ItemName), "chair")
		assert.NotEqual(t, "Desk Lamp", l.ItemName)
	}

	resp = e.query(t, "/api/sell/listings?search=%25")
	assert.Zero(t, resp.Total)
}

func TestFetchListing(t *testing.T) {
	e := setup(t)

	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), map[string][]byte{"lamp.png": pngMagic}).Code)
	l := e.listing(t, "a@bue.edu.eg")

	w := e.get("/api/sell/listings/" + l.ListingID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Images stay private until the listing is published
	assert.Equal(t, http.StatusNotFound, e.get("/api/images/"+l.Images[0]).Code)

	code := e.mailer.last(t).Mail.Code
	require.Equal(t, http.StatusOK, e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {code}}).Code)

	w = e.get("/api/lease/listings/" + l.ListingID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.get("/api/sell/listings/" + l.ListingID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "a@bue.edu.eg")
	assert.Contains(t, w.Body.String(), "/api/images/"+l.Images[0])

	img := e.get("/api/images/" + l.Images[0])
	require.Equal(t, http.StatusOK, img.Code)
	assert.Equal(t, "image/png", img.Header().Get("Content-Type"))
	assert.Contains(t, img.Header().Get("Cache-Control"), "immutable")
	assert.Equal(t, pngMagic, img.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, e.get("/api/images/missing.png").Code)
}

func TestPages(t *testing.T) {
	e := setup(t)

	seedListings(t, e, 1, model.KindSell,
		func(int) string { return "Study Chair" },
		func(int) float64 { return 300 },
	)

	w := e.get("/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "@bue.edu.eg")

	w = e.get("/preowned/lease")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="price_period"`)

	w = e.get("/preowned/sell")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `name="price_period"`)

	w = e.get("/buy")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Study Chair")

	w = e.get("/rent")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No listings yet.")

	assert.Equal(t, http.StatusBadRequest, e.get("/buy?limit=500").Code)

	assert.Equal(t, http.StatusOK, e.get("/static/style.css").Code)

	hb := e.do(httptest.NewRequest(http.MethodHead, "/api/heartbeat", nil))
	assert.Equal(t, http.StatusOK, hb.Code)
}

func TestVerifyRateLimited(t *testing.T) {
	e := setup(t)
	viper.Set("security.rate_limit", 1)

	// The limiter is built with the router
	r, err := NewRouter(e.d)
	require.NoError(t, err)
	e.r = r

	codes := map[int]int{}
	for range 4 {
		codes[e.verify(model.KindSell, url.Values{"email": {"a@bue.edu.eg"}, "otp": {"123456"}}).Code]++
	}

	assert.Equal(t, 2, codes[http.StatusBadRequest])
	assert.Equal(t, 2, codes[http.StatusTooManyRequests])
}

func TestSubmitRateLimited(t *testing.T) {
	e := setup(t)
	viper.Set("security.rate_limit", 1)

	r, err := NewRouter(e.d)
	require.NoError(t, err)
	e.r = r

	codes := map[int]int{}
	for i := range 4 {
		codes[e.submit(t, model.KindSell, sellForm(fmt.Sprintf("s%d@bue.edu.eg", i), "Lamp", "10"), nil).Code]++
	}

	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 2, codes[http.StatusTooManyRequests])
	assert.EqualValues(t, 2, e.count(t))
	assert.Len(t, e.mailer.sent, 2)
}

func TestListingCreatedAtIsSet(t *testing.T) {
	e := setup(t)

	before := time.Now().UnixMilli()
	require.Equal(t, http.StatusOK, e.submit(t, model.KindSell, sellForm("a@bue.edu.eg", "Lamp", "10"), nil).Code)

	assert.GreaterOrEqual(t, e.listing(t, "a@bue.edu.eg").CreatedAt, before)
}
