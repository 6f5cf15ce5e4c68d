package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func restClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewREST(server.URL, "test-key")
	require.NoError(t, err)

	return client
}

func TestNewRESTRequiresKey(t *testing.T) {
	_, err := NewREST("", "")
	require.Error(t, err)
}

func TestSearchOffersFiltersAndSorts(t *testing.T) {
	client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bundles", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"offers": [
			{"id": 1, "gpu_name": "RTX 4090", "gpu_total_ram": 24, "dph_total": 0.50, "reliability2": 99.0, "rentable": true},
			{"id": 2, "gpu_name": "RTX 3090", "gpu_total_ram": 24, "dph_total": 0.20, "reliability2": 97.0, "rentable": true},
			{"id": 3, "gpu_name": "RTX 3090", "gpu_total_ram": 24, "dph_total": 0.10, "reliability2": 96.0, "rentable": false},
			{"id": 4, "gpu_name": "A100", "gpu_total_ram": 80, "dph_total": 0.30, "reliability2": 99.9, "is_bid": true, "rentable": true}
		]}`)
	})

	offers, err := client.SearchOffers(context.Background(), Filter{MinVRAMGb: 24})

	require.NoError(t, err)
	// 3 is not rentable and 4 is spot; 2 is cheaper than 1.
	require.Len(t, offers, 2)
	require.Equal(t, 2, offers[0].ID)
	require.Equal(t, 1, offers[1].ID)
}

func TestCreateInstanceFollowsContract(t *testing.T) {
	client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/asks/7/":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "pytorch/pytorch:latest", payload["image"])
			require.Equal(t, "ssh", payload["runtype"])

			fmt.Fprint(w, `{"success": true, "new_contract": 4242}`)
		case r.Method == http.MethodGet && r.URL.Path == "/instances/4242/":
			fmt.Fprint(w, `{"instances": [{"id": 4242, "ask_contract_id": 7, "gpu_name": "RTX 4090", "actual_status": "loading", "dph_total": 0.40}]}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	instance, err := client.CreateInstance(context.Background(), 7, InstanceSpec{Image: "pytorch/pytorch:latest", DiskSizeGb: 20})

	require.NoError(t, err)
	require.Equal(t, 4242, instance.ID)
	require.Equal(t, 7, instance.OfferID)
	require.Equal(t, StatusProvisioning, instance.Status)
}

func TestCreateInstanceClassifiesRefusals(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(error) bool
	}{
		{name: "offer taken", body: `{"success": false, "error": "no_such_ask"}`, check: IsOfferUnavailable},
		{name: "offer unavailable", body: `{"success": false, "error": "ask_unavailable"}`, check: IsOfferUnavailable},
		{name: "no credit", body: `{"success": false, "error": "insufficient_credit", "msg": "balance too low"}`, check: IsInsufficientCredit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})

			_, err := client.CreateInstance(context.Background(), 1, InstanceSpec{})
			require.Error(t, err)
			require.True(t, tt.check(err))
		})
	}
}

func TestStatusCodeClassification(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		check func(error) bool
	}{
		{name: "unauthorized", code: http.StatusUnauthorized, check: IsConnectivity},
		{name: "forbidden", code: http.StatusForbidden, check: IsConnectivity},
		{name: "payment required", code: http.StatusPaymentRequired, check: IsInsufficientCredit},
		{name: "not found", code: http.StatusNotFound, check: IsNotFound},
		{name: "server error", code: http.StatusInternalServerError, check: IsConnectivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})

			_, err := client.GetInstance(context.Background(), 1)
			require.Error(t, err)
			require.True(t, tt.check(err))
		})
	}
}

func TestDestroyInstanceGoneIsSuccess(t *testing.T) {
	client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	ok, err := client.DestroyInstance(context.Background(), 99)

	require.NoError(t, err)
	require.True(t, ok)
}

func TestDestroyInstanceEmptyBodyIsSuccess(t *testing.T) {
	client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ok, err := client.DestroyInstance(context.Background(), 99)

	require.NoError(t, err)
	require.True(t, ok)
}

func TestDestroyInstanceProviderRefusal(t *testing.T) {
	client := restClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success": false, "error": "instance_locked"}`)
	})

	ok, err := client.DestroyInstance(context.Background(), 99)

	require.Error(t, err)
	require.False(t, ok)
}

func TestConnectionRefusedIsConnectivity(t *testing.T) {
	client, err := NewREST("http://127.0.0.1:1", "test-key")
	require.NoError(t, err)

	_, err = client.SearchOffers(context.Background(), Filter{})
	require.True(t, IsConnectivity(err))
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusRunning, parseStatus("running"))
	require.Equal(t, StatusStopped, parseStatus("exited"))
	require.Equal(t, StatusStopped, parseStatus("stopped"))
	require.Equal(t, StatusDestroyed, parseStatus("destroyed"))
	require.Equal(t, StatusProvisioning, parseStatus("loading"))
	require.Equal(t, StatusProvisioning, parseStatus(""))
}
