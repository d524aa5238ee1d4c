package guardian

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
)

type fakeLedger struct {
	info model.UserInfo
	err  error
}

func (f *fakeLedger) Height(context.Context) (uint64, error) { return 0, nil }

func (f *fakeLedger) StatusChanges(context.Context, uint64, uint64) ([]model.StatusChangeEvent, error) {
	return nil, nil
}

func (f *fakeLedger) UserInfo(context.Context, string) (model.UserInfo, error) {
	return f.info, f.err
}

type fakeDirectory struct {
	emails map[string]string
}

func (f *fakeDirectory) GuardianEmail(_ context.Context, guardian string) (string, error) {
	email, ok := f.emails[guardian]
	if !ok {
		return "", store.ErrNotFound
	}
	return email, nil
}

type recordingNotifier struct {
	sent []model.GuardianNotification
	errs map[string]error // keyed by email
}

func (r *recordingNotifier) NotifyGuardian(_ context.Context, n model.GuardianNotification) error {
	if err := r.errs[n.Email]; err != nil {
		return err
	}
	r.sent = append(r.sent, n)
	return nil
}

const lastSeen = int64(1_700_000_000)

func TestNotifiesGuardiansWithEmails(t *testing.T) {
	lc := &fakeLedger{info: model.UserInfo{
		Status:    model.StatusPendingVerification,
		LastSeen:  lastSeen,
		Guardians: [3]string{"0xg1", "0xg2", ""},
	}}
	dir := &fakeDirectory{emails: map[string]string{
		"0xg1": "g1@example.com",
		"0xg2": "g2@example.com",
	}}
	notifier := &recordingNotifier{}
	c := NewCoordinator(lc, dir, notifier, 72, nil)

	sent, err := c.HandlePendingVerification(context.Background(), "0xsubject")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, notifier.sent, 2)

	wantDeadline := time.Unix(lastSeen, 0).UTC().Add(72 * time.Hour)
	assert.Equal(t, wantDeadline, notifier.sent[0].GraceDeadline)
	assert.Equal(t, "0xsubject", notifier.sent[0].Subject)
}

func TestMissingEmailIsSkippedNotFatal(t *testing.T) {
	lc := &fakeLedger{info: model.UserInfo{
		LastSeen:  lastSeen,
		Guardians: [3]string{"0xg1", "0xg2", "0xg3"},
	}}
	dir := &fakeDirectory{emails: map[string]string{"0xg2": "g2@example.com"}}
	notifier := &recordingNotifier{}
	c := NewCoordinator(lc, dir, notifier, 72, nil)

	sent, err := c.HandlePendingVerification(context.Background(), "0xsubject")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "g2@example.com", notifier.sent[0].Email)
}

func TestSendFailureDoesNotAbortRemaining(t *testing.T) {
	lc := &fakeLedger{info: model.UserInfo{
		LastSeen:  lastSeen,
		Guardians: [3]string{"0xg1", "0xg2", ""},
	}}
	dir := &fakeDirectory{emails: map[string]string{
		"0xg1": "g1@example.com",
		"0xg2": "g2@example.com",
	}}
	notifier := &recordingNotifier{errs: map[string]error{
		"g1@example.com": errors.New("smtp on fire"),
	}}
	c := NewCoordinator(lc, dir, notifier, 72, nil)

	sent, err := c.HandlePendingVerification(context.Background(), "0xsubject")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, "g2@example.com", notifier.sent[0].Email)
}

func TestLedgerErrorPropagates(t *testing.T) {
	lc := &fakeLedger{err: errors.New("rpc down")}
	c := NewCoordinator(lc, &fakeDirectory{}, &recordingNotifier{}, 72, nil)

	_, err := c.HandlePendingVerification(context.Background(), "0xsubject")
	assert.Error(t, err)
}

func TestEmailNotifierPostsToAPI(t *testing.T) {
	var gotAuth string
	var gotBody emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, jsonDecode(r, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewEmailNotifier(srv.URL, "test-key", "noreply@charon.estate")
	err := n.NotifyGuardian(context.Background(), model.GuardianNotification{
		Subject:       "0xsubject",
		Guardian:      "0xg1",
		Email:         "g1@example.com",
		GraceDeadline: time.Unix(lastSeen, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, []string{"g1@example.com"}, gotBody.To)
	assert.Contains(t, gotBody.HTML, "0xsubject")
}

func TestEmailNotifierSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewEmailNotifier(srv.URL, "k", "noreply@charon.estate")
	err := n.NotifyGuardian(context.Background(), model.GuardianNotification{Email: "g@example.com"})
	assert.ErrorContains(t, err, "429")
}

func jsonDecode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
