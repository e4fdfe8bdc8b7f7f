package application_test

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// mockTokenStore is an in-memory TokenStore double.
type mockTokenStore struct {
	mu      sync.Mutex
	cred    *model.Credential
	loadErr error
	saveErr error
	saves   []model.Credential
	purges  int
}

func (m *mockTokenStore) Save(_ context.Context, cred model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if !cred.Valid() {
		return errors.New("invalid credential data")
	}
	c := cred
	m.cred = &c
	m.saves = append(m.saves, cred)
	return nil
}

func (m *mockTokenStore) Load(context.Context) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *mockTokenStore) Purge(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	m.purges++
	return nil
}

func (m *mockTokenStore) purgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purges
}

func (m *mockTokenStore) stored() *model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil
	}
	c := *m.cred
	return &c
}

func (m *mockTokenStore) savedCredentials() []model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Credential(nil), m.saves...)
}

// refreshResult scripts one upstream refresh outcome.
type refreshResult struct {
	cred model.Credential
	err  error
}

// mockOAuthClient scripts upstream refresh responses and counts calls.
// When block is non-nil the first refresh signals started and then waits
// for release, so tests can pile concurrent callers onto one flight.
type mockOAuthClient struct {
	mu      sync.Mutex
	results []refreshResult
	calls   int
	started chan struct{}
	release chan struct{}
}

func (m *mockOAuthClient) Refresh(context.Context, string) (model.Credential, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	var res refreshResult
	if len(m.results) > 0 {
		if call < len(m.results) {
			res = m.results[call]
		} else {
			res = m.results[len(m.results)-1]
		}
	}
	started := m.started
	release := m.release
	m.mu.Unlock()

	if call == 0 && started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return res.cred, res.err
}

func (m *mockOAuthClient) Exchange(context.Context, string) (model.Credential, error) {
	return model.Credential{}, errors.New("not implemented")
}

func (m *mockOAuthClient) AuthCodeURL(string) string { return "https://provider.example/auth" }

func (m *mockOAuthClient) HTTPClient(context.Context, model.Credential, func(model.Credential)) *http.Client {
	return &http.Client{}
}

func (m *mockOAuthClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
