package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestClient_Verify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/verify" {
			t.Errorf("Expected path /api/v1/verify, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body["contractIdentifier"] != "src/A.sol:A" {
			t.Errorf("contractIdentifier = %v", body["contractIdentifier"])
		}
		if _, ok := body["stdJsonInput"].(map[string]any); !ok {
			t.Errorf("stdJsonInput not sent as an object: %v", body["stdJsonInput"])
		}

		w.Write([]byte(`{"id":"0192","stored":true,"verification":{
			"address":"` + testAddress + `","chainId":1,
			"status":{"runtimeMatch":"perfect","creationMatch":null},
			"compilation":{"language":"Solidity","compilerVersion":"0.8.19+commit.7dd6d404","fullyQualifiedName":"src/A.sol:A"}}}`))
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.Verify(context.Background(), VerifyRequest{
		ChainID:            1,
		Address:            testAddress,
		CompilerVersion:    "0.8.19+commit.7dd6d404",
		ContractIdentifier: "src/A.sol:A",
		StdJSONInput:       json.RawMessage(`{"language":"Solidity","sources":{}}`),
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if !resp.Stored {
		t.Error("Verify().Stored = false, want true")
	}
	if resp.Verification.Status.RuntimeMatch == nil || *resp.Verification.Status.RuntimeMatch != "perfect" {
		t.Errorf("RuntimeMatch = %v, want perfect", resp.Verification.Status.RuntimeMatch)
	}
	if resp.Verification.Status.CreationMatch != nil {
		t.Errorf("CreationMatch = %v, want nil", *resp.Verification.Status.CreationMatch)
	}
	if resp.Verification.Compilation.FullyQualifiedName != "src/A.sol:A" {
		t.Errorf("FullyQualifiedName = %s", resp.Verification.Compilation.FullyQualifiedName)
	}
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/verify/10/"+testAddress {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "0192",
			"chainId":      10,
			"address":      testAddress,
			"runtimeMatch": "partial",
			"verification": map[string]any{"address": testAddress},
		})
	}))
	defer server.Close()

	got, err := New(server.URL).Get(context.Background(), 10, testAddress)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RuntimeMatch != "partial" {
		t.Errorf("RuntimeMatch = %s, want partial", got.RuntimeMatch)
	}
	if len(got.Verification) == 0 {
		t.Error("Verification export missing")
	}
}

func TestClient_List(t *testing.T) {
	tests := []struct {
		name      string
		opts      ListOptions
		wantQuery string
	}{
		{"no options", ListOptions{}, ""},
		{"all options", ListOptions{ChainID: 5, Match: "perfect", Limit: 10, Cursor: "abc"}, "chainId=5&cursor=abc&limit=10&match=perfect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/verified" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.URL.RawQuery != tt.wantQuery {
					t.Errorf("query = %q, want %q", r.URL.RawQuery, tt.wantQuery)
				}
				w.Write([]byte(`{"data":[{"id":"a","chainId":5}],"hasMore":true,"nextCursor":"a"}`))
			}))
			defer server.Close()

			resp, err := New(server.URL+"/").List(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(resp.Data) != 1 || !resp.HasMore || resp.NextCursor != "a" {
				t.Errorf("List() = %+v", resp)
			}
		})
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"structured", http.StatusUnprocessableEntity, `{"error":{"code":"no_match","message":"no match"}}`, "no_match"},
		{"unstructured", http.StatusBadGateway, `upstream down`, "http_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL).Verify(context.Background(), VerifyRequest{})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", apiErr.Code, tt.wantCode)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
		})
	}
}
