package renteon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRemote 启动一个模拟远端，/token 固定返回令牌，其余路径交给 handler
func newRemote(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			atomic.AddInt32(&tokenCalls, 1)
			_, _ = w.Write([]byte(`{"access_token":"tok"}`))
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	return NewClient(server.URL, testCreds, 5*time.Second, WithHTTPClient(server.Client())), &tokenCalls
}

func TestParseAvailability_AmbiguousIdentifiers(t *testing.T) {
	body := []byte(`[
		{"CarCategoryId": 42, "Amount": 300, "DepositAmount": 500},
		{"CategoryId": 7, "Amount": 120.5, "Deposit": 250},
		{"Id": 9, "Amount": 90},
		{"Name": "no id at all", "Amount": 10},
		{"CarCategoryId": 42, "Amount": 999}
	]`)

	items, err := parseAvailability(body)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, AvailableCategory{CategoryID: 42, Amount: 300, Deposit: 500}, items[0])
	assert.Equal(t, AvailableCategory{CategoryID: 7, Amount: 120.5, Deposit: 250}, items[1])
	assert.Equal(t, AvailableCategory{CategoryID: 9, Amount: 90, Deposit: 0}, items[2])
}

func TestParseAvailability_PrefersCarCategoryIdOverId(t *testing.T) {
	items, err := parseAvailability([]byte(`[{"Id": 1000, "CarCategoryId": 42, "Amount": 1}]`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(42), items[0].CategoryID)
}

func TestParseAvailability_WrappedAndInvalid(t *testing.T) {
	items, err := parseAvailability([]byte(`{"Items": [{"CategoryId": 3, "Amount": 10}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(3), items[0].CategoryID)

	items, err = parseAvailability([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = parseAvailability([]byte(`not json`))
	assert.Error(t, err)

	_, err = parseAvailability([]byte(`{"Message": "nothing"}`))
	assert.Error(t, err)
}

func TestSession_CheckAvailability_SendsRequestShape(t *testing.T) {
	var got map[string]interface{}
	client, _ := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bookings/availability", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"CarCategoryId": 42, "Amount": 300, "DepositAmount": 500}]`))
	})

	items, err := client.NewSession().CheckAvailability(context.Background(), AvailabilityRequest{
		DateOut:            "2024-06-01T10:00:00",
		DateIn:             "2024-06-04T10:00:00",
		OfficeOutID:        54,
		OfficeInID:         54,
		BookAsCommissioner: true,
		PricelistID:        3,
		Currency:           "EUR",
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "2024-06-01T10:00:00", got["DateOut"])
	assert.Equal(t, float64(54), got["OfficeOutId"])
	assert.Equal(t, true, got["BookAsCommissioner"])
	assert.Equal(t, "EUR", got["Currency"])
}

func TestSession_Calculate(t *testing.T) {
	client, _ := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(17), req["CarCategoryId"])
		_, _ = w.Write([]byte(`{
			"Total": 210,
			"Services": [
				{"Name": "CDW", "ServiceTypeName": "Insurance", "ServicePrice": {"Amount": 10, "AmountTotal": 30, "Currency": "EUR", "IsOneTimePayment": false}, "IsMandatory": true, "InsuranceDepositAmount": 800},
				{"Name": "SCDW", "ServiceTypeName": "Insurance", "ServicePrice": {"Amount": 20, "AmountTotal": 60}, "InsuranceDepositAmount": 300}
			]
		}`))
	})

	calc, err := client.NewSession().Calculate(context.Background(), CalculateRequest{CarCategoryID: 17})
	require.NoError(t, err)
	assert.Equal(t, 210.0, calc.Total)
	require.Len(t, calc.Services, 2)
	assert.Equal(t, 30.0, calc.Services[0].ServicePrice.AmountTotal)
	assert.Equal(t, 800.0, calc.DepositAmount())
}

func TestSession_NonSuccessIsRemoteUnavailable(t *testing.T) {
	client, _ := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"Message":"category not bookable"}`))
	})

	_, err := client.NewSession().Calculate(context.Background(), CalculateRequest{CarCategoryID: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
	assert.False(t, IsAuthError(err))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
}

func TestSession_UnauthorizedIsAuthError(t *testing.T) {
	client, tokenCalls := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	session := client.NewSession()
	_, err := session.ListCategories(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	// 令牌被丢弃，下一次调用重新认证
	_, _ = session.ListCategories(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(tokenCalls))
}

func TestSession_ReusesOneTokenAcrossCalls(t *testing.T) {
	client, tokenCalls := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	session := client.NewSession()
	for i := 0; i < 3; i++ {
		_, err := session.ListOffices(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls))

	// 新会话重新认证
	_, err := client.NewSession().ListEquipments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(tokenCalls))
}

func TestSession_ListCategories(t *testing.T) {
	client, _ := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/carCategories", r.URL.Path)
		_, _ = w.Write([]byte(`[{
			"Id": 5, "Name": "Economy", "SIPP": "ECMR",
			"Groups": [{"TypeName": "Insurance group", "Name": "A"}, {"TypeName": "Size", "Name": "Small"}],
			"CarModels": [{"Id": 501, "Name": "Skoda Fabia", "CarMakeName": "Skoda", "Year": 2022}],
			"CarTransmissionType": 1, "PassengerCapacity": 5, "NumberOfDoors": 4
		}]`))
	})

	categories, err := client.NewSession().ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)

	c := categories[0]
	assert.Equal(t, int64(5), c.ID)
	assert.Equal(t, "A", c.InsuranceGroupName())
	assert.Equal(t, FlexString("1"), c.CarTransmissionType)
	require.Len(t, c.CarModels, 1)
	assert.Equal(t, "Skoda", c.CarModels[0].CarMakeName)
}

func TestSession_CreateAndCancelBooking(t *testing.T) {
	var cancelled string
	client, _ := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bookings":
			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "ref-1", req["ExternalReference"])
			_, _ = w.Write([]byte(`{"Id": 98765, "Number": "BK-1"}`))
		case "/bookings/98765/cancel":
			cancelled = "98765"
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	session := client.NewSession()
	result, err := session.CreateBooking(context.Background(), BookingRequest{ExternalReference: "ref-1"})
	require.NoError(t, err)
	assert.Equal(t, "98765", result.ID)
	assert.Equal(t, "BK-1", result.Number)

	require.NoError(t, session.CancelBooking(context.Background(), result.ID))
	assert.Equal(t, "98765", cancelled)
}

func TestRequestHook(t *testing.T) {
	var endpoints []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, testCreds, time.Second, WithRequestHook(func(endpoint string, statusCode int, _ time.Duration) {
		endpoints = append(endpoints, endpoint)
		assert.Equal(t, http.StatusNoContent, statusCode)
	}))
	require.NoError(t, client.NewSession().CancelBooking(context.Background(), "123"))
	assert.Equal(t, []string{"POST /bookings/:id/cancel"}, endpoints)
}
