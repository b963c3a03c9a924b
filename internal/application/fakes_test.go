package application_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/b24bridge/internal/application"
	"github.com/ericfisherdev/b24bridge/internal/domain/model"
)

// --- Fake ports ---

type fakeStore struct {
	mu      sync.Mutex
	portals map[string]model.Portal
	saves   []model.Portal
	finds   int
	saveErr error
	findErr error
}

func newFakeStore(portals ...model.Portal) *fakeStore {
	s := &fakeStore{portals: map[string]model.Portal{}}
	for _, p := range portals {
		s.portals[p.MemberID] = p
	}
	return s
}

func (s *fakeStore) find(match func(model.Portal) bool) (*model.Portal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, p := range s.portals {
		if match(p) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindByMemberID(_ context.Context, memberID string) (*model.Portal, error) {
	return s.find(func(p model.Portal) bool { return p.MemberID == memberID })
}

func (s *fakeStore) FindByDomain(_ context.Context, domain string) (*model.Portal, error) {
	return s.find(func(p model.Portal) bool { return p.Domain == domain })
}

func (s *fakeStore) FindByAppToken(_ context.Context, token string) (*model.Portal, error) {
	return s.find(func(p model.Portal) bool { return p.AppToken == token })
}

func (s *fakeStore) Save(_ context.Context, p model.Portal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if p.MemberID == "" {
		return errors.New("member id is required")
	}
	s.saves = append(s.saves, p)
	s.portals[p.MemberID] = p
	return nil
}

type fakeOAuth struct {
	calls []string
	grant model.TokenGrant
	err   error
}

func (o *fakeOAuth) Refresh(_ context.Context, refreshToken string) (model.TokenGrant, error) {
	o.calls = append(o.calls, refreshToken)
	return o.grant, o.err
}

type recordedRequest struct {
	Endpoint string
	Body     map[string]any
}

// fakeTransport answers POSTs through respond and records a JSON snapshot of
// every request body.
type fakeTransport struct {
	requests []recordedRequest
	respond  func(n int, req recordedRequest) (string, error)
}

func (f *fakeTransport) PostJSON(_ context.Context, endpoint string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}

	req := recordedRequest{Endpoint: endpoint, Body: snapshot}
	f.requests = append(f.requests, req)

	out, err := f.respond(len(f.requests)-1, req)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (f *fakeTransport) GetJSON(context.Context, string, url.Values) ([]byte, error) {
	return nil, errors.New("unexpected GET")
}

// replies returns a respond func serving bodies in order.
func replies(bodies ...string) func(int, recordedRequest) (string, error) {
	return func(n int, _ recordedRequest) (string, error) {
		if n >= len(bodies) {
			return "", fmt.Errorf("unexpected request %d", n)
		}
		return bodies[n], nil
	}
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func freshPortal() model.Portal {
	return model.Portal{
		MemberID:     "m1",
		Domain:       "portal.example",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    testNow.Add(time.Hour).UnixMilli(),
		Active:       true,
	}
}

type harness struct {
	client    *application.Client
	transport *fakeTransport
	oauth     *fakeOAuth
	store     *fakeStore
}

func newHarness(t *testing.T, logger *slog.Logger, respond func(int, recordedRequest) (string, error)) *harness {
	t.Helper()

	if logger == nil {
		logger = discardLogger()
	}
	h := &harness{
		transport: &fakeTransport{respond: respond},
		oauth: &fakeOAuth{grant: model.TokenGrant{
			AccessToken:  "a2",
			RefreshToken: "r2",
			ExpiresIn:    3600,
		}},
		store: newFakeStore(),
	}
	portals := application.NewPortalService(h.store, logger)
	tokens := application.NewTokenManager(h.oauth, portals, logger).WithClock(fixedClock)
	h.client = application.NewClient(h.transport, tokens, logger)
	return h
}

func countLines(t *testing.T, logs, msg string) int {
	t.Helper()
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == msg {
			n++
		}
	}
	return n
}

// listPage renders a bare-array list response of ids from..to inclusive.
func listPage(from, to int) string {
	items := make([]string, 0, to-from+1)
	for id := from; id <= to; id++ {
		items = append(items, fmt.Sprintf(`{"ID":"%d","TITLE":"deal %d"}`, id, id))
	}
	return `{"result":[` + strings.Join(items, ",") + `],"total":0}`
}

// itemsPage renders a crm.item.list response of ids from..to inclusive.
func itemsPage(from, to int) string {
	items := make([]string, 0, to-from+1)
	for id := from; id <= to; id++ {
		items = append(items, fmt.Sprintf(`{"id":%d}`, id))
	}
	return `{"result":{"items":[` + strings.Join(items, ",") + `]}}`
}
