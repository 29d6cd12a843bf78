package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nytax/internal/fixture"
	"nytax/internal/handler"
	"nytax/internal/model"
	"nytax/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type api struct {
	t      *testing.T
	env    *fixture.Env
	router *gin.Engine
}

func newAPI(t *testing.T) *api {
	env := fixture.New(t)
	s := env.Services
	router := handler.NewRouter(handler.RouterConfig{
		Resolver:       s.Resolver,
		Rates:          s.Rates,
		Tax:            s.Tax,
		Orders:         s.Orders,
		Imports:        s.Imports,
		Jurisdictions:  s.Jurisdictions,
		Audit:          s.Audit,
		Auth:           s.Auth,
		Calendar:       env.Calendar,
		JWTSecret:      []byte("test-secret"),
		ImportMaxBytes: 1 << 10,
		Gatherer:       env.Registry,
	})
	return &api{t: t, env: env, router: router}
}

func token(t *testing.T, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Code       string          `json:"code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

func (a *api) do(method, path, role string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return a.send(req, role)
}

func (a *api) send(req *http.Request, role string) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, role))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix([]byte(w.Header().Get("Content-Type")), []byte("application/json")) {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func TestComputeTaxEndpoint(t *testing.T) {
	a := newAPI(t)
	body := map[string]interface{}{"lat": fixture.NYC.Lat, "lon": fixture.NYC.Lon, "subtotal": "100.00", "timestamp": "2024-06-01T12:00:00Z"}

	w, res := a.do(http.MethodPost, "/api/tax/compute", model.RoleAnalyst, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		CompositeTaxRate        string             `json:"composite_tax_rate"`
		CompositeTaxRatePercent string             `json:"composite_tax_rate_percent"`
		TaxAmount               string             `json:"tax_amount"`
		TotalAmount             string             `json:"total_amount"`
		Breakdown               map[string]*string `json:"breakdown"`
		JurisdictionsApplied    []struct {
			Name string `json:"name"`
		} `json:"jurisdictions_applied"`
	}
	decode(t, res.Data, &out)
	assert.Equal(t, "0.08875", out.CompositeTaxRate)
	assert.Equal(t, "8.875", out.CompositeTaxRatePercent)
	assert.Equal(t, "8.88", out.TaxAmount)
	assert.Equal(t, "108.88", out.TotalAmount)
	assert.Nil(t, out.Breakdown["special_rate"])
	assert.Len(t, out.JurisdictionsApplied, 3)

	_, total, err := a.env.Services.Orders.ListOrders(context.Background(), service.SearchOrdersRequest{})
	require.NoError(t, err)
	assert.Zero(t, total, "compute does not persist")
}

func TestComputeTaxErrorsMapToStatus(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"outside the state", map[string]interface{}{"lat": fixture.LosAngeles.Lat, "lon": fixture.LosAngeles.Lon, "subtotal": 10}, http.StatusUnprocessableEntity, "out_of_coverage"},
		{"before any rate", map[string]interface{}{"lat": fixture.NYC.Lat, "lon": fixture.NYC.Lon, "subtotal": 10, "timestamp": "2019-01-01"}, http.StatusUnprocessableEntity, "no_effective_rate"},
		{"three decimals", map[string]interface{}{"lat": fixture.NYC.Lat, "lon": fixture.NYC.Lon, "subtotal": "1.005"}, http.StatusBadRequest, "validation_error"},
		{"missing lon", map[string]interface{}{"lat": fixture.NYC.Lat, "subtotal": 10}, http.StatusBadRequest, "validation_error"},
		{"latitude out of range", map[string]interface{}{"lat": 120, "lon": 0, "subtotal": 10}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, res := a.do(http.MethodPost, "/api/tax/compute", model.RoleAdmin, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, res.Code)
			assert.Equal(t, "error", res.Status)
		})
	}
}

func TestRoutesRequireRoles(t *testing.T) {
	a := newAPI(t)
	kings := a.env.ID(t, "36047").String()

	w, res := a.do(http.MethodPost, "/api/tax/compute", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", res.Code)

	w, res = a.do(http.MethodPost, "/api/jurisdictions/"+kings+"/rates", model.RoleAnalyst,
		map[string]string{"new_rate": "4.5", "effective_date": "2024-06-01"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", res.Code)

	w, _ = a.do(http.MethodGet, "/api/audit-logs", model.RoleAnalyst, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/jurisdictions", nil)
	req.Header.Set("Authorization", "Token abc")
	w, _ = a.send(req, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateEndpoints(t *testing.T) {
	a := newAPI(t)
	kings := a.env.ID(t, "36047").String()

	w, res := a.do(http.MethodPost, "/api/jurisdictions/"+kings+"/rates", model.RoleAdmin,
		map[string]interface{}{"new_rate": 4.5, "effective_date": "2024-06-01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var set struct {
		ID             string `json:"id"`
		Kind           string `json:"kind"`
		NewRatePercent string `json:"new_rate_percent"`
		Revertible     bool   `json:"revertible"`
	}
	decode(t, res.Data, &set)
	assert.Equal(t, model.MutationSet, set.Kind)
	assert.Equal(t, "4.5", set.NewRatePercent)
	assert.True(t, set.Revertible)

	w, res = a.do(http.MethodGet, "/api/jurisdictions/"+kings+"/rates/at?timestamp=2024-05-31", model.RoleAnalyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var iv struct {
		RatePercent string  `json:"rate_percent"`
		ValidTo     *string `json:"valid_to"`
	}
	decode(t, res.Data, &iv)
	assert.Equal(t, "4", iv.RatePercent)
	require.NotNil(t, iv.ValidTo)
	assert.Equal(t, "2024-06-01", *iv.ValidTo)

	w, res = a.do(http.MethodPost, "/api/jurisdictions/"+kings+"/rates", model.RoleAdmin,
		map[string]interface{}{"new_rate": 5, "effective_date": "2024-06-01"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "rate_conflict", res.Code)

	w, _ = a.do(http.MethodPost, "/api/rate-mutations/"+set.ID+"/revert", model.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, res = a.do(http.MethodPost, "/api/jurisdictions/"+kings+"/rates/revert", model.RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_revertible", res.Code)

	w, res = a.do(http.MethodGet, "/api/jurisdictions/"+kings+"/mutations?limit=2", model.RoleAnalyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []struct {
			Status string `json:"status"`
		} `json:"items"`
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	decode(t, res.Data, &page)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "revert", page.Items[0].Status)
	assert.Equal(t, "reverted", page.Items[1].Status)

	w, res = a.do(http.MethodGet, "/api/jurisdictions/not-a-uuid/rates", model.RoleAnalyst, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", res.Code)

	w, res = a.do(http.MethodGet, "/api/jurisdictions/"+uuid.NewString()+"/rates", model.RoleAnalyst, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", res.Code)
}

func TestResolveEndpoint(t *testing.T) {
	a := newAPI(t)

	w, res := a.do(http.MethodGet, "/api/jurisdictions/resolve?lat=42.65&lon=-73.75", model.RoleAnalyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		State   *struct{ Name string }  `json:"state"`
		City    *struct{ Name string }  `json:"city"`
		Special []struct{ Name string } `json:"special"`
	}
	decode(t, res.Data, &out)
	require.NotNil(t, out.State)
	assert.Equal(t, "New York State", out.State.Name)
	assert.Nil(t, out.City)
	require.Len(t, out.Special, 1)
	assert.Equal(t, "Albany Transit District", out.Special[0].Name)

	w, _ = a.do(http.MethodGet, "/api/jurisdictions/resolve?lat=north&lon=1", model.RoleAnalyst, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res = a.do(http.MethodGet, "/api/jurisdictions?type=county", model.RoleAnalyst, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var counties []struct{ Code string }
	decode(t, res.Data, &counties)
	assert.Len(t, counties, 3)
}

func TestOrderEndpoints(t *testing.T) {
	a := newAPI(t)

	w, _ := a.do(http.MethodPost, "/api/orders", model.RoleAnalyst,
		map[string]interface{}{"lat": fixture.Rural.Lat, "lon": fixture.Rural.Lon, "subtotal": "10.00"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, res := a.do(http.MethodPost, "/api/orders", model.RoleAdmin,
		map[string]interface{}{"lat": fixture.Rural.Lat, "lon": fixture.Rural.Lon, "subtotal": "10.00", "timestamp": "2024-06-01"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID        string `json:"id"`
		Source    string `json:"source"`
		TaxAmount string `json:"tax_amount"`
	}
	decode(t, res.Data, &created)
	assert.Equal(t, model.OrderSourceManual, created.Source)
	assert.Equal(t, "0.40", created.TaxAmount)

	w, _ = a.do(http.MethodGet, "/api/orders/"+created.ID, model.RoleAnalyst, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/search", nil)
	w, res = a.send(req, model.RoleAnalyst)
	require.Equal(t, http.StatusOK, w.Code, "an empty body lists everything")
	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, res.Data, &page)
	assert.EqualValues(t, 1, page.Total)

	w, res = a.do(http.MethodPost, "/api/orders/search", model.RoleAnalyst,
		map[string]interface{}{"filters": []interface{}{map[string]string{"type": "geo"}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", res.Code)

	w, res = a.do(http.MethodPost, "/api/orders/totals", model.RoleAnalyst,
		map[string]interface{}{"filters": []interface{}{map[string]string{"type": "source", "value": "manual"}}})
	require.Equal(t, http.StatusOK, w.Code)
	var totals struct {
		Count          int64  `json:"count"`
		TotalAmountSum string `json:"total_amount_sum"`
	}
	decode(t, res.Data, &totals)
	assert.EqualValues(t, 1, totals.Count)
	assert.Equal(t, "10.4", totals.TotalAmountSum)
}

func upload(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportEndpoints(t *testing.T) {
	a := newAPI(t)
	csv := "lat,lon,subtotal,timestamp\n40.7128,-74.0060,100.00,2024-06-01\n34.05,-118.24,5.00,2024-06-01\n"

	w, res := a.send(upload(t, "orders.csv", csv), model.RoleAdmin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var imported struct {
		ImportID     string `json:"import_id"`
		RowsImported int    `json:"rows_imported"`
		RowsFailed   int    `json:"rows_failed"`
	}
	decode(t, res.Data, &imported)
	assert.Equal(t, 1, imported.RowsImported)
	assert.Equal(t, 1, imported.RowsFailed)

	w, res = a.send(upload(t, "again.csv", csv), model.RoleAdmin)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_import", res.Code)
	var dup struct {
		ImportID string `json:"import_id"`
	}
	decode(t, res.Data, &dup)
	assert.Equal(t, imported.ImportID, dup.ImportID)

	w, _ = a.send(upload(t, "big.csv", string(bytes.Repeat([]byte("x"), 2<<10))), model.RoleAdmin)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w, _ = a.send(upload(t, "orders.csv", csv), model.RoleAnalyst)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(http.MethodGet, "/api/imports/"+imported.ImportID, model.RoleAnalyst, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, res = a.do(http.MethodDelete, "/api/imports/"+imported.ImportID, model.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rb struct {
		OrdersRemoved int64 `json:"orders_removed"`
	}
	decode(t, res.Data, &rb)
	assert.EqualValues(t, 1, rb.OrdersRemoved)

	w, _ = a.do(http.MethodDelete, "/api/imports/"+imported.ImportID, model.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, res = a.do(http.MethodGet, "/api/audit-logs", model.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var audit struct {
		Items []struct {
			Action string `json:"action"`
		} `json:"items"`
	}
	decode(t, res.Data, &audit)
	require.NotEmpty(t, audit.Items)
	assert.Equal(t, model.ActionRollbackImport, audit.Items[0].Action)
}

func TestLoginEndpoint(t *testing.T) {
	a := newAPI(t)

	w, _ := a.do(http.MethodPost, "/api/users", model.RoleAdmin,
		map[string]string{"username": "ana", "email": "ana@example.com", "password": "correct horse", "role": "analyst"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = a.do(http.MethodPost, "/api/users", model.RoleAdmin,
		map[string]string{"username": "bob", "email": "bob@example.com", "password": "correct horse", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, res := a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ana@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusOK, w.Code)
	var tok struct {
		Token string `json:"token"`
	}
	decode(t, res.Data, &tok)

	req := httptest.NewRequest(http.MethodGet, "/api/jurisdictions", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w, res = a.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ana@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", res.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPI(t)
	a.do(http.MethodPost, "/api/tax/compute", model.RoleAdmin,
		map[string]interface{}{"lat": fixture.NYC.Lat, "lon": fixture.NYC.Lon, "subtotal": "1.00"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `nytax_tax_computations_total{outcome="ok"} 1`)
}
