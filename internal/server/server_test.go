package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookrails/internal/booking"
	"bookrails/internal/chain"
	"bookrails/internal/config"
	"bookrails/internal/escrowstore"
	"bookrails/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	testDepositor = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
)

func testConfig() *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.Deployment.ChainID = 31337
	cfg.Deployment.Token.Decimals = 18
	cfg.Service.HTTPPort = 0
	return cfg
}

func newTestServer(t *testing.T, balanceTokens int64) (*Server, *chain.FakeTokenClient, *chain.FakeEscrowClient, *escrowstore.MemoryStore) {
	t.Helper()

	balance := booking.RequiredAmount(uint64(balanceTokens), 18)
	token := chain.NewFakeTokenClient(balance, big.NewInt(0))
	token.AutoConfirm = true
	escrow := chain.NewFakeEscrowClient()
	escrow.AutoConfirm = true
	store := escrowstore.NewMemoryStore()

	srv := NewServer(testConfig(), Deps{
		Session: &wallet.StubSession{
			Addr:          common.HexToAddress(testDepositor),
			Connected:     true,
			Authenticated: true,
		},
		Token:   token,
		Escrow:  escrow,
		Records: store,
	}, zap.NewNop())

	return srv, token, escrow, store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func openFlow(t *testing.T, srv *Server, price uint64) string {
	t.Helper()
	rec := doJSON(t, srv.httpServer.Handler, http.MethodPost, "/api/v1/flows", openFlowRequest{
		Recipient: booking.Recipient{ID: "creator-9", Name: "Ada", Address: testRecipient},
		Slots: []booking.Slot{{
			ID:              "slot-1",
			Name:            "Strategy Session",
			DurationMinutes: 30,
			Price:           price,
			Dates:           []string{"2026-09-01"},
			Times:           []string{"10:00"},
		}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open flow: %d %s", rec.Code, rec.Body.String())
	}
	var resp openFlowResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.FlowID
}

func driveToConfirm(t *testing.T, srv *Server, flowID string) {
	t.Helper()
	h := srv.httpServer.Handler
	steps := []struct {
		path string
		body interface{}
	}{
		{"/slot", selectSlotRequest{SlotID: "slot-1"}},
		{"/date", selectDateRequest{Date: "2026-09-01"}},
		{"/time", selectTimeRequest{Time: "10:00"}},
	}
	for _, step := range steps {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+step.path, step.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", step.path, rec.Code, rec.Body.String())
		}
	}
}

func TestPaidFlowEndToEnd(t *testing.T) {
	srv, token, escrow, store := newTestServer(t, 100)
	escrow.NextEscrowID = 42
	h := srv.httpServer.Handler

	flowID := openFlow(t, srv, 50)
	driveToConfirm(t, srv, flowID)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+"/pay", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pay: %d %s", rec.Code, rec.Body.String())
	}

	var view flowView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.State != string(booking.StateReceipt) {
		t.Fatalf("state = %s", view.State)
	}
	if view.Receipt == nil || view.Receipt.ID != "ESC-42" {
		t.Fatalf("receipt = %+v", view.Receipt)
	}
	if token.ApproveCalls != 1 || escrow.CreateCalls != 1 {
		t.Fatalf("calls: approve=%d create=%d", token.ApproveCalls, escrow.CreateCalls)
	}

	records, err := store.ListByDepositor(context.Background(), testDepositor, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].EscrowID != 42 {
		t.Fatalf("records: %+v", records)
	}

	cont := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+"/continue", nil)
	if cont.Code != http.StatusOK {
		t.Fatalf("continue: %d %s", cont.Code, cont.Body.String())
	}
	var receipt booking.Receipt
	if err := json.Unmarshal(cont.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.ID != "ESC-42" || receipt.Price != 50 {
		t.Fatalf("receipt: %+v", receipt)
	}

	// Flow removed after continue.
	get := doJSON(t, h, http.MethodGet, "/api/v1/flows/"+flowID, nil)
	if get.Code != http.StatusNotFound {
		t.Fatalf("get after continue: %d", get.Code)
	}
}

func TestFreeFlowEndToEnd(t *testing.T) {
	srv, token, escrow, _ := newTestServer(t, 0)
	h := srv.httpServer.Handler

	flowID := openFlow(t, srv, 0)
	driveToConfirm(t, srv, flowID)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+"/pay", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pay: %d %s", rec.Code, rec.Body.String())
	}

	var view flowView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Receipt == nil || view.Receipt.Price != 0 || view.Receipt.EscrowID != nil {
		t.Fatalf("receipt = %+v", view.Receipt)
	}
	if token.ApproveCalls != 0 || escrow.CreateCalls != 0 {
		t.Fatal("free flow touched the chain")
	}
}

func TestPayRejectedWithInsufficientBalance(t *testing.T) {
	srv, _, escrow, _ := newTestServer(t, 30)
	h := srv.httpServer.Handler

	flowID := openFlow(t, srv, 50)
	driveToConfirm(t, srv, flowID)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+"/pay", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pay: %d %s", rec.Code, rec.Body.String())
	}
	if escrow.CreateCalls != 0 {
		t.Fatal("deposit submitted despite insufficient balance")
	}
}

func TestPayBeforeConfirmConflicts(t *testing.T) {
	srv, _, _, _ := newTestServer(t, 100)
	h := srv.httpServer.Handler

	flowID := openFlow(t, srv, 50)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+"/pay", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pay: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCloseRemovesFlow(t *testing.T) {
	srv, _, _, _ := newTestServer(t, 100)
	h := srv.httpServer.Handler

	flowID := openFlow(t, srv, 50)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/flows/"+flowID+"/close", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("close: %d", rec.Code)
	}
	get := doJSON(t, h, http.MethodGet, "/api/v1/flows/"+flowID, nil)
	if get.Code != http.StatusNotFound {
		t.Fatalf("get after close: %d", get.Code)
	}
}

func TestHealthHealthyWithoutCheckers(t *testing.T) {
	srv, _, _, _ := newTestServer(t, 100)
	h := srv.httpServer.Handler

	rec := doJSON(t, h, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("status = %s", resp.Status)
	}
}

func TestListEscrowsRequiresDepositor(t *testing.T) {
	srv, _, _, _ := newTestServer(t, 100)
	h := srv.httpServer.Handler

	rec := doJSON(t, h, http.MethodGet, "/api/v1/escrows", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("list: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/v1/escrows?depositor=%s", testDepositor), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
}
