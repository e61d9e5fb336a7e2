package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPBacktest(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Handler()

	rec := postJSON(t, h, "/api/backtest", BacktestRequest{Strategy: "lots", Candles: rising()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var body struct {
		Success bool `json:"success"`
		Results struct {
			NetProfit   float64 `json:"net_profit"`
			TotalTrades int     `json:"total_trades"`
		} `json:"results"`
		Logs  []string `json:"logs"`
		RunID string   `json:"run_id"`
		State string   `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || !approx(body.Results.NetProfit, 493) || body.Results.TotalTrades != 1 || body.State != "done" {
		t.Errorf("body = %+v", body)
	}
	if body.Logs == nil {
		t.Error("logs should encode as an array")
	}

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/runs/"+body.RunID, nil))
	if get.Code != http.StatusOK || !strings.Contains(get.Body.String(), body.RunID) {
		t.Errorf("GET run: status = %d, body = %s", get.Code, get.Body)
	}
}

func TestHTTPErrors(t *testing.T) {
	f := newFixture(t)
	h := f.svc.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown strategy", "POST", "/api/backtest", `{"strategy":"nope","candles":[]}`, http.StatusUnprocessableEntity, CodeInvalidStrategy},
		{"malformed body", "POST", "/api/backtest", `{"strategy":`, http.StatusBadRequest, CodeInvalidParams},
		{"missing data", "POST", "/api/backtest", `{"strategy":"lots","source":{"symbol":"EURUSD","timeframe":"D1"}}`, http.StatusNotFound, CodeDataNotFound},
		{"lex error", "POST", "/api/parse", `{"source":"string s = \"open"}`, http.StatusUnprocessableEntity, CodeInvalidStrategy},
		{"missing run", "GET", "/api/runs/missing", "", http.StatusNotFound, CodeNotFound},
		{"bad limit", "GET", "/api/runs?limit=x", "", http.StatusBadRequest, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Success || body.Code != tt.code || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestHTTPStrategiesAndCORS(t *testing.T) {
	h := NewService(Options{Registry: testRegistry()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))
	var body struct {
		Strategies []struct {
			Name string `json:"name"`
		} `json:"strategies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Strategies) != 2 || body.Strategies[0].Name != "bad-init" || body.Strategies[1].Name != "lots" {
		t.Errorf("strategies = %+v", body.Strategies)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	opt := httptest.NewRecorder()
	h.ServeHTTP(opt, httptest.NewRequest(http.MethodOptions, "/api/backtest", nil))
	if opt.Code != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d", opt.Code)
	}
}

func TestHTTPSweep(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(t, f.svc.Handler(), "/api/sweep", map[string]any{
		"strategy": "lots",
		"grid":     map[string][]any{"volume": {1, 2}},
		"candles":  rising(),
	})
	var resp SweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !resp.Success || len(resp.Runs) != 2 || resp.Best != 1 {
		t.Errorf("status = %d, resp = %+v", rec.Code, resp)
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	svc.RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCRun(t *testing.T) {
	f := newFixture(t)
	conn := dialBufconn(t, f.svc)
	ctx := context.Background()

	in, err := ToStruct(BacktestRequest{Strategy: "lots", Candles: rising()})
	if err != nil {
		t.Fatal(err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+GRPCServiceName+"/Run", in, out); err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Success bool `json:"success"`
		Results struct {
			NetProfit float64 `json:"net_profit"`
		} `json:"results"`
	}
	if err := FromStruct(out, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || !approx(resp.Results.NetProfit, 493) {
		t.Errorf("resp = %+v", resp)
	}

	bad, _ := ToStruct(BacktestRequest{Strategy: "nope", Candles: rising()})
	err = conn.Invoke(ctx, "/"+GRPCServiceName+"/Run", bad, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument || !strings.Contains(err.Error(), CodeInvalidStrategy) {
		t.Errorf("err = %v", err)
	}
}

func TestGRPCParseAndStrategies(t *testing.T) {
	conn := dialBufconn(t, NewService(Options{Registry: testRegistry()}))
	ctx := context.Background()

	in, _ := ToStruct(ParseRequest{Source: "void OnTick() {}"})
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+GRPCServiceName+"/Parse", in, out); err != nil {
		t.Fatal(err)
	}
	var parsed ParseResponse
	if err := FromStruct(out, &parsed); err != nil {
		t.Fatal(err)
	}
	if !parsed.Success || !parsed.Handlers.OnTick || len(parsed.Functions) != 1 {
		t.Errorf("parsed = %+v", parsed)
	}

	list := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+GRPCServiceName+"/Strategies", &structpb.Struct{}, list); err != nil {
		t.Fatal(err)
	}
	if n := len(list.Fields["strategies"].GetListValue().GetValues()); n != 2 {
		t.Errorf("got %d strategies, want 2", n)
	}
}

// ---------------------------------------------------------------------------
// Server lifecycle
// ---------------------------------------------------------------------------

func TestServerServeAndShutdown(t *testing.T) {
	svc := NewService(Options{Registry: testRegistry()})
	srv := NewServer(svc, ServerOptions{HTTPAddr: "127.0.0.1:0", GRPCAddr: "127.0.0.1:0", ShutdownTimeout: time.Second})

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, httpLis, grpcLis) }()

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
