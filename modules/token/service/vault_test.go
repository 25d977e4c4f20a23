package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"calendar-sync/core/errors"
	"calendar-sync/internal/testutil"
	connEntity "calendar-sync/modules/connection/entity"
	"calendar-sync/modules/provider"
	"calendar-sync/modules/provider/providertest"
)

var testKey = bytes.Repeat([]byte{7}, 32)

type vaultFixture struct {
	vault   *Vault
	stores  *testutil.Stores
	adapter *providertest.Fake
	conn    *connEntity.Connection
}

func newVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()
	cipher, err := NewCipher(testKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	stores := testutil.NewStores()
	adapter := providertest.New(provider.Google)
	conn := stores.Connections.Add(&connEntity.Connection{
		Provider: provider.Google,
		Status:   connEntity.StatusActive,
		Enabled:  true,
	})
	return &vaultFixture{
		vault:   NewVault(stores.Tokens, stores.Connections, cipher, provider.NewRegistry(adapter)),
		stores:  stores,
		adapter: adapter,
		conn:    conn,
	}
}

func (f *vaultFixture) store(t *testing.T, access, refresh string, expiry time.Time) {
	t.Helper()
	err := f.vault.Store(context.Background(), f.conn.ID, &provider.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       expiry,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
}

func TestStoreEncryptsAtRest(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "secret-access", "secret-refresh", time.Now().Add(time.Hour))

	row := f.stores.Tokens.Rows[f.conn.ID]
	if bytes.Contains(row.AccessToken, []byte("secret-access")) || bytes.Contains(row.RefreshToken, []byte("secret-refresh")) {
		t.Fatalf("expected ciphertext at rest, found plaintext")
	}

	token, err := f.vault.GetValidToken(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token != "secret-access" {
		t.Errorf("expected secret-access, got %q", token)
	}
}

func TestStoreKeepsRefreshTokenWhenOmitted(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "a1", "r1", time.Now().Add(time.Hour))
	f.store(t, "a2", "", time.Now().Add(time.Hour))

	creds, err := f.vault.Credentials(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.AccessToken != "a2" || creds.RefreshToken != "r1" {
		t.Fatalf("expected a2/r1, got %s/%s", creds.AccessToken, creds.RefreshToken)
	}
}

func TestTokenCopiedToAnotherConnectionFailsToOpen(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "a1", "r1", time.Now().Add(time.Hour))

	other := f.stores.Connections.Add(&connEntity.Connection{Provider: provider.Google, Status: connEntity.StatusActive, Enabled: true})
	row := *f.stores.Tokens.Rows[f.conn.ID]
	row.ConnectionID = other.ID
	f.stores.Tokens.Rows[other.ID] = &row

	if _, err := f.vault.GetValidToken(context.Background(), other.ID); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("expected ErrCiphertext, got %v", err)
	}
}

func TestFreshTokenIsNotRefreshed(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "a1", "r1", time.Now().Add(time.Hour))

	if _, err := f.vault.GetValidToken(context.Background(), f.conn.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.adapter.RefreshCalls != 0 {
		t.Fatalf("expected no refresh, got %d", f.adapter.RefreshCalls)
	}
}

func TestTokenInsideBufferRefreshesAndPersistsBeforeReturning(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "old", "r1", time.Now().Add(5*time.Minute))
	f.adapter.RefreshToken = &provider.Token{AccessToken: "new", Expiry: time.Now().Add(time.Hour)}

	token, err := f.vault.GetValidToken(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if token != "new" {
		t.Fatalf("expected new, got %q", token)
	}
	if f.stores.Tokens.UpsertCalls != 2 {
		t.Fatalf("expected refreshed token persisted, got %d upserts", f.stores.Tokens.UpsertCalls)
	}

	creds, err := f.vault.Credentials(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.AccessToken != "new" || creds.RefreshToken != "r1" {
		t.Errorf("expected new/r1 after refresh, got %s/%s", creds.AccessToken, creds.RefreshToken)
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "old", "r1", time.Now().Add(time.Minute))

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	errs := make([]error, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.vault.GetValidToken(context.Background(), f.conn.ID)
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "refreshed-1" {
			t.Fatalf("caller %d: expected refreshed-1, got %q", i, tokens[i])
		}
	}
	if f.adapter.RefreshCalls != 1 {
		t.Fatalf("expected exactly one refresh, got %d", f.adapter.RefreshCalls)
	}
}

// gatedAdapter holds Refresh until released and fails it if its context
// was cancelled meanwhile.
type gatedAdapter struct {
	*providertest.Fake
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedAdapter) Refresh(ctx context.Context, creds provider.Credentials) (*provider.Token, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Fake.Refresh(ctx, creds)
}

func TestSharedRefreshOutlivesCancelledCaller(t *testing.T) {
	f := newVaultFixture(t)
	gate := &gatedAdapter{Fake: f.adapter, entered: make(chan struct{}), release: make(chan struct{})}
	cipher, _ := NewCipher(testKey)
	f.vault = NewVault(f.stores.Tokens, f.stores.Connections, cipher, provider.NewRegistry(gate))
	f.store(t, "old", "r1", time.Now().Add(time.Minute))

	first, cancel := context.WithCancel(context.Background())
	type result struct {
		token string
		err   error
	}
	firstDone := make(chan result, 1)
	go func() {
		token, err := f.vault.GetValidToken(first, f.conn.ID)
		firstDone <- result{token, err}
	}()
	<-gate.entered

	secondDone := make(chan result, 1)
	go func() {
		token, err := f.vault.GetValidToken(context.Background(), f.conn.ID)
		secondDone <- result{token, err}
	}()
	cancel()
	close(gate.release)

	for name, done := range map[string]chan result{"first": firstDone, "second": secondDone} {
		res := <-done
		if res.err != nil {
			t.Fatalf("%s caller: expected refresh to survive cancellation, got %v", name, res.err)
		}
		if res.token != "refreshed-1" {
			t.Fatalf("%s caller: expected refreshed-1, got %q", name, res.token)
		}
	}
	if f.adapter.RefreshCalls != 1 {
		t.Fatalf("expected exactly one refresh, got %d", f.adapter.RefreshCalls)
	}
	if row := f.stores.Tokens.Rows[f.conn.ID]; row == nil || f.stores.Tokens.UpsertCalls != 2 {
		t.Fatalf("expected refreshed token persisted, got %d upserts", f.stores.Tokens.UpsertCalls)
	}
}

func TestRevokedGrantMarksConnectionExpired(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "old", "r1", time.Now().Add(time.Minute))
	f.adapter.RefreshErr = provider.ErrAuthExpired

	_, err := f.vault.GetValidToken(context.Background(), f.conn.ID)
	if !errors.Is(err, provider.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	conn, _ := f.stores.Connections.GetByID(context.Background(), f.conn.ID)
	if conn.Status != connEntity.StatusTokenExpired {
		t.Fatalf("expected token-expired, got %s", conn.Status)
	}
}

func TestTransientRefreshFailureLeavesStatus(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "old", "r1", time.Now().Add(time.Minute))
	f.adapter.RefreshErr = &provider.UnavailableError{Provider: provider.Google, StatusCode: 503}

	if _, err := f.vault.GetValidToken(context.Background(), f.conn.ID); err == nil {
		t.Fatalf("expected error")
	}
	conn, _ := f.stores.Connections.GetByID(context.Background(), f.conn.ID)
	if conn.Status != connEntity.StatusActive {
		t.Fatalf("expected active, got %s", conn.Status)
	}
}

func TestMissingTokenIsAuthExpired(t *testing.T) {
	f := newVaultFixture(t)
	if _, err := f.vault.Credentials(context.Background(), f.conn); !errors.Is(err, provider.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestPasswordCredentialsNeverExpire(t *testing.T) {
	f := newVaultFixture(t)
	f.conn.ServerURL = "https://dav.example.com"
	f.conn.Username = "ann"
	f.store(t, "hunter2", "", time.Time{})

	creds, err := f.vault.Credentials(context.Background(), f.conn)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.AccessToken != "hunter2" || creds.ServerURL != "https://dav.example.com" || creds.Username != "ann" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	expiring, _ := f.vault.ListExpiring(context.Background(), 24*time.Hour)
	if len(expiring) != 0 {
		t.Fatalf("expected password rows never to expire, got %v", expiring)
	}
}

func TestListExpiring(t *testing.T) {
	f := newVaultFixture(t)
	f.store(t, "a", "r", time.Now().Add(10*time.Minute))

	ids, err := f.vault.ListExpiring(context.Background(), 15*time.Minute)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != f.conn.ID {
		t.Fatalf("expected [%s], got %v", f.conn.ID, ids)
	}
}
