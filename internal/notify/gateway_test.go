package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPGateway_Send(t *testing.T) {
	var got gatewaySendReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(gatewaySendResp{Status: "queued"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "test-key")
	if err := g.Send(context.Background(), "+905551234567", "code: 123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "+905551234567" || got.Message != "code: 123456" {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestHTTPGateway_SendGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewaySendResp{Error: "invalid msisdn"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "")
	if err := g.Send(context.Background(), "bogus", "hi"); err == nil {
		t.Fatalf("expected gateway error")
	}
}

func TestRegistry_RoutesByChannel(t *testing.T) {
	reg := NewRegistry()
	sent := 0
	reg.Register("SMS", func(ctx context.Context) (Provider, error) {
		return &LogProvider{Log: func(string, ...any) { sent++ }}, nil
	})

	p, err := reg.Get(context.Background(), "sms")
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if err := p.Send(context.Background(), "x", "y"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent != 1 {
		t.Fatalf("provider not invoked")
	}

	if _, err := reg.Get(context.Background(), "carrier-pigeon"); err == nil {
		t.Fatalf("expected unknown channel error")
	}
}
