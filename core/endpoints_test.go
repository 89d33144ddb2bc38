package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sm "quantlab/models"
)

func testServer(t *testing.T) (*httptest.Server, *fakeRunRecorder) {
	t.Helper()
	sc, runs := testServiceContext(t, &fakePriceSource{table: mockTable(t, 150)})
	server := httptest.NewServer(NewRouter(sc, []string{"http://localhost:3000"}))
	t.Cleanup(server.Close)
	return server, runs
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse[T any](t *testing.T, resp *http.Response) sm.ServiceResponse[T] {
	t.Helper()
	var res sm.ServiceResponse[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func TestEndpoints_Ping(t *testing.T) {
	server, _ := testServer(t)

	resp, err := http.Get(server.URL + "/api/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"message":"pong"}`, string(body))
}

func TestEndpoints_Performance(t *testing.T) {
	server, runs := testServer(t)

	resp := postJSON(t, server.URL+"/api/analytics/performance", `{"symbols":["aaa"],"benchmark":"spy","rollingWindow":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decodeResponse[sm.PerformanceResponse](t, resp)
	require.NotNil(t, res.Data)
	assert.Empty(t, res.Error)
	assert.Equal(t, "SPY", res.Data.Benchmark)
	require.Len(t, res.Data.Results, 1)
	assert.Equal(t, "AAA", res.Data.Results[0].Symbol, "symbols are upper cased")
	assert.Len(t, runs.success, 1)
}

func TestEndpoints_ValidationErrors(t *testing.T) {
	server, runs := testServer(t)

	cases := []struct {
		name string
		path string
		body string
		code string
	}{
		{"bad json", "/api/analytics/performance", `{"symbols":`, codeInvalidRequest},
		{"no symbols", "/api/analytics/performance", `{"symbols":[]}`, codeValidation},
		{"bad ticker", "/api/analytics/performance", `{"symbols":["AA$"]}`, codeValidation},
		{"bad frequency", "/api/analytics/performance", `{"symbols":["AAA"],"periodsPerYear":7}`, codeValidation},
		{"one asset", "/api/portfolio/allocate", `{"symbols":["AAA"]}`, codeValidation},
		{"bad method", "/api/portfolio/allocate", `{"symbols":["AAA","BBB"],"method":"kelly"}`, codeValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, server.URL+tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			res := decodeResponse[any](t, resp)
			assert.Equal(t, tc.code, res.Code)
			assert.NotEmpty(t, res.Error)
		})
	}
	assert.Empty(t, runs.inserted, "invalid requests never start a run")
}

func TestEndpoints_Allocate(t *testing.T) {
	server, _ := testServer(t)

	resp := postJSON(t, server.URL+"/api/portfolio/allocate", `{"symbols":["AAA","BBB","SPY"],"method":"risk_parity"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decodeResponse[sm.AllocationResponse](t, resp)
	require.NotNil(t, res.Data)
	var sum float64
	for _, w := range res.Data.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestEndpoints_DomainErrorsAreUnprocessable(t *testing.T) {
	flat := make([]float64, 40)
	sc, _ := testServiceContext(t, &fakePriceSource{table: priceTableFromReturns(t, map[string][]float64{"AAA": flat, "BBB": flat})})
	server := httptest.NewServer(NewRouter(sc, nil))
	defer server.Close()

	resp := postJSON(t, server.URL+"/api/portfolio/allocate", `{"symbols":["AAA","BBB"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, codeInsufficientAsset, decodeResponse[any](t, resp).Code)
}

func TestEndpoints_EquityCurveAndDrawdown(t *testing.T) {
	server, _ := testServer(t)

	for _, path := range []string{"equity-curve", "drawdown"} {
		resp, err := http.Get(fmt.Sprintf("%s/api/analytics/%s?symbol=aaa", server.URL, path))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		res := decodeResponse[sm.ChartSeries](t, resp)
		resp.Body.Close()
		assert.Len(t, res.Data.X, 150, path)
		assert.Len(t, res.Data.Y, 150, path)
	}

	resp, err := http.Get(server.URL + "/api/analytics/equity-curve")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "symbol is required")
}

func TestEndpoints_EquityCurvePNG(t *testing.T) {
	server, _ := testServer(t)

	resp, err := http.Get(server.URL + "/api/analytics/equity-curve.png?symbol=AAA")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, pngMagic))
}

func TestEndpoints_CORSAndMetrics(t *testing.T) {
	server, _ := testServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/analytics/performance", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(server.URL + "/api/ping")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `quantlab_http_requests_total{method="GET",route="/api/ping",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", ErrInsufficientData), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", ErrAlignment), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", ErrInsufficientAssets), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", ErrOptimization), http.StatusInternalServerError},
		{fmt.Errorf("x: %w", ErrInvalidParameter), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestNewValidator_TickerRuleIsRegistered(t *testing.T) {
	v := NewValidator()

	for _, ok := range []string{"AAPL", "BRK.B", "RDS-A", "X"} {
		assert.NoError(t, v.Var(ok, "ticker"), ok)
	}
	for _, bad := range []string{"aapl", "A$B", "", "ABCDEFGHIJK"} {
		assert.Error(t, v.Var(bad, "ticker"), bad)
	}
	assert.NotPanics(t, func() { NewValidator() })
}
