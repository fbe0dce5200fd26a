package driveapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenExchanger_ExchangeRefreshToken_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck

		if body["refresh_token"] != "rt-1" {
			t.Errorf("expected refresh_token=rt-1, got %q", body["refresh_token"])
		}

		json.NewEncoder(w).Encode(tokenExchangeResponse{ //nolint:errcheck
			TokenType:    "Bearer",
			AccessToken:  "at-new",
			RefreshToken: "rt-2",
			ExpiresIn:    3600,
		})
	}))
	defer srv.Close()

	ex := NewTokenExchanger(srv.Client())

	at, expiresIn, nextRT, err := ex.ExchangeRefreshToken(context.Background(), srv.URL, "rt-1")
	if err != nil {
		t.Fatalf("ExchangeRefreshToken: %v", err)
	}

	if at != "at-new" || nextRT != "rt-2" || expiresIn != time.Hour {
		t.Errorf("unexpected exchange result: token=%s expiresIn=%s nextRT=%s", at, expiresIn, nextRT)
	}
}

func TestTokenExchanger_ExchangeRefreshToken_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(apiErrorBody{Code: "PermissionDenied"}) //nolint:errcheck
	}))
	defer srv.Close()

	ex := NewTokenExchanger(srv.Client())

	_, _, _, err := ex.ExchangeRefreshToken(context.Background(), srv.URL, "rt-1")
	if err == nil {
		t.Fatal("expected an error for a non-2xx token refresh response")
	}
}
