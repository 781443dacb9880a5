package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/halolabs/reflector/pkg/indexer"
	reflectortesting "github.com/halolabs/reflector/utils/pkg/testing"
)

type emptyLedgerRPC struct{}

func (emptyLedgerRPC) GetSignaturesPage(context.Context, solana.PublicKey, solana.Signature, int) ([]*solanarpc.TransactionSignature, error) {
	return nil, nil
}

func (emptyLedgerRPC) GetTransaction(context.Context, solana.Signature) (*solanarpc.GetTransactionResult, error) {
	return nil, nil
}

type noopEventStore struct{}

func (noopEventStore) GetCursor(context.Context, string) (*indexer.Cursor, error) { return nil, nil }
func (noopEventStore) UpsertCursor(context.Context, indexer.Cursor) error         { return nil }
func (noopEventStore) CommitTransaction(context.Context, []indexer.RewardEvent) (int, error) {
	return 0, nil
}

type mockTotalsReader struct {
	getWalletTotalsFunc func(ctx context.Context, wallet string) (*indexer.WalletTotals, error)
}

func (m *mockTotalsReader) GetWalletTotals(ctx context.Context, wallet string) (*indexer.WalletTotals, error) {
	if m.getWalletTotalsFunc != nil {
		return m.getWalletTotalsFunc(ctx, wallet)
	}
	return nil, nil
}

func testServer(t *testing.T, totals TotalsReader) (*Server, *indexer.View) {
	t.Helper()

	view, err := indexer.NewView(indexer.ViewConfig{
		Logger:          reflectortesting.NewLogger(),
		RPC:             emptyLedgerRPC{},
		Store:           noopEventStore{},
		SourceWallet:    solana.NewWallet().PublicKey(),
		RefreshInterval: time.Minute,
	})
	require.NoError(t, err)

	srv, err := New(Config{
		Logger:     reflectortesting.NewLogger(),
		ListenAddr: "127.0.0.1:0",
		VersionInfo: VersionInfo{
			Version: "test",
			Commit:  "abc123",
			Date:    "2026-01-01",
		},
		View:   view,
		Totals: totals,
	})
	require.NoError(t, err)
	return srv, view
}

func TestReflector_Server_Readyz_TracksIndexerView(t *testing.T) {
	t.Parallel()

	srv, view := testServer(t, &mockTotalsReader{})

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, view.RunOnce(t.Context()))

	rec = httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReflector_Server_Healthz(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &mockTotalsReader{})

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())
}

func TestReflector_Server_Version(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &mockTotalsReader{})

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "test", info.Version)
	require.Equal(t, "abc123", info.Commit)
}

func TestReflector_Server_Rewards_InvalidWallet(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &mockTotalsReader{})

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rewards/not-base58!", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReflector_Server_Rewards_UnknownWallet(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &mockTotalsReader{})

	wallet := solana.NewWallet().PublicKey().String()
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rewards/"+wallet, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReflector_Server_Rewards_ReturnsTotals(t *testing.T) {
	t.Parallel()

	wallet := solana.NewWallet().PublicKey().String()
	now := time.Now().UTC().Truncate(time.Second)
	totals := &mockTotalsReader{
		getWalletTotalsFunc: func(_ context.Context, w string) (*indexer.WalletTotals, error) {
			require.Equal(t, wallet, w)
			return &indexer.WalletTotals{
				Wallet:       wallet,
				SolTotalRaw:  123_456_789,
				USDCTotalRaw: 42,
				LastUpdated:  now,
				Tokens: []indexer.TokenTotal{
					{Wallet: wallet, TokenMint: "mint1", TokenSymbol: "HALO", TotalRaw: 77, Decimals: 6},
				},
			}, nil
		},
	}
	srv, _ := testServer(t, totals)

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rewards/"+wallet, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rewardsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, wallet, resp.Wallet)
	require.Equal(t, uint64(123_456_789), resp.SolTotalRaw)
	require.Equal(t, uint64(42), resp.USDCTotalRaw)
	require.Len(t, resp.Tokens, 1)
	require.Equal(t, "HALO", resp.Tokens[0].Symbol)
	require.Equal(t, uint64(77), resp.Tokens[0].TotalRaw)
}
