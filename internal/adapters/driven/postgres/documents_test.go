package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

func TestNextRev(t *testing.T) {
	first := nextRev("")
	assert.True(t, strings.HasPrefix(first, "1-"), first)

	second := nextRev(first)
	assert.True(t, strings.HasPrefix(second, "2-"), second)
	assert.NotEqual(t, nextRev(first), second, "revisions carry a random suffix")

	assert.True(t, strings.HasPrefix(nextRev("41-abc"), "42-"))
	assert.True(t, strings.HasPrefix(nextRev("garbage"), "1-"))
}

func TestSplitBody_Account(t *testing.T) {
	body := map[string]any{
		"_id":          "acc-1",
		"_rev":         "3-x",
		"account_type": "bank",
		"auth":         map[string]string{"login": "alice", "password": "pw"},
	}
	id, stored, secret, err := splitBody(domain.DoctypeAccounts, body)
	require.NoError(t, err)

	assert.Equal(t, "acc-1", id)
	assert.JSONEq(t, `{"account_type":"bank"}`, string(stored))
	assert.JSONEq(t, `{"login":"alice","password":"pw"}`, string(secret))
}

func TestSplitBody_OtherDoctypesKeepAuth(t *testing.T) {
	_, stored, secret, err := splitBody(domain.DoctypeTriggers, map[string]any{"auth": "x", "type": "@cron"})
	require.NoError(t, err)
	assert.Nil(t, secret)
	assert.JSONEq(t, `{"auth":"x","type":"@cron"}`, string(stored))
}

func TestSplitBody_RejectsNonObjects(t *testing.T) {
	_, _, _, err := splitBody(domain.DoctypeJobs, []string{"a"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSelectorJSON(t *testing.T) {
	raw, err := selectorJSON(driven.Selector{
		"worker":            "konnector",
		"message.konnector": "bank",
		"message.account":   "acc-1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"worker":"konnector","message":{"konnector":"bank","account":"acc-1"}}`, string(raw))

	raw, err = selectorJSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestWithClearSecret(t *testing.T) {
	merged := withClearSecret([]byte(`{"account_type":"bank"}`), json.RawMessage(`{"login":"alice"}`))
	assert.JSONEq(t, `{"account_type":"bank","auth":{"login":"alice"}}`, string(merged))

	body := []byte(`{"a":1}`)
	assert.Equal(t, body, withClearSecret(body, nil))
}

func TestAssemble_DecryptsSecret(t *testing.T) {
	enc, err := NewSecretEncryptorFromSecret("key")
	require.NoError(t, err)
	store := &DocumentStore{secrets: enc}

	blob, clearSecret, err := store.sealSecret(domain.DoctypeAccounts, "acc-1", json.RawMessage(`{"login":"alice"}`))
	require.NoError(t, err)
	assert.Nil(t, clearSecret)
	require.NotEmpty(t, blob)

	doc, err := store.assemble(domain.DoctypeAccounts, "acc-1", "1-a", []byte(`{"account_type":"bank"}`), blob, time.Now())
	require.NoError(t, err)
	assert.JSONEq(t, `{"account_type":"bank","auth":{"login":"alice"}}`, string(doc.Body))

	_, err = (&DocumentStore{}).assemble(domain.DoctypeAccounts, "acc-1", "1-a", []byte(`{}`), blob, time.Now())
	assert.Error(t, err, "an encrypted secret without key cannot be read")
}

func TestSealSecret_ClearWithoutKey(t *testing.T) {
	blob, clear, err := (&DocumentStore{}).sealSecret(domain.DoctypeAccounts, "acc-1", json.RawMessage(`{"login":"a"}`))
	require.NoError(t, err)
	assert.Nil(t, blob)
	assert.JSONEq(t, `{"login":"a"}`, string(clear))
}

func newTestNotifier() *Notifier {
	return &Notifier{
		logger:      slog.Default(),
		subscribers: make(map[string]map[chan domain.DocumentEvent]struct{}),
		done:        make(chan struct{}),
	}
}

func TestNotifier_FansOutByDoctype(t *testing.T) {
	n := newTestNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs1, err := n.Subscribe(ctx, domain.DoctypeJobs)
	require.NoError(t, err)
	jobs2, _ := n.Subscribe(ctx, domain.DoctypeJobs)
	triggers, _ := n.Subscribe(ctx, domain.DoctypeTriggers)

	n.handle(ctx, `{"event":"UPDATED","doc":{"_id":"j1","_type":"io.cozy.jobs","body":{"state":"done"}}}`)

	for _, ch := range []<-chan domain.DocumentEvent{jobs1, jobs2} {
		select {
		case ev := <-ch:
			assert.Equal(t, domain.EventUpdated, ev.Kind)
			assert.Equal(t, "j1", ev.Document.ID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	select {
	case ev := <-triggers:
		t.Fatalf("unexpected trigger event %+v", ev)
	default:
	}
}

func TestNotifier_FetchesPartialBodies(t *testing.T) {
	n := newTestNotifier()
	n.fetch = func(ctx context.Context, doctype, id string) (*domain.Document, error) {
		return &domain.Document{ID: id, Doctype: doctype, Body: json.RawMessage(`{"state":"running"}`)}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := n.Subscribe(ctx, domain.DoctypeJobs)

	n.handle(ctx, `{"event":"CREATED","doc":{"_id":"j1","_type":"io.cozy.jobs"},"partial":true}`)

	ev := <-ch
	assert.JSONEq(t, `{"state":"running"}`, string(ev.Document.Body))
}

func TestNotifier_IgnoresInvalidPayloads(t *testing.T) {
	n := newTestNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := n.Subscribe(ctx, domain.DoctypeJobs)

	n.handle(ctx, `not json`)
	n.handle(ctx, `{"event":"CREATED"}`)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestNotifier_SubscriptionEndsWithContext(t *testing.T) {
	n := newTestNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := n.Subscribe(ctx, domain.DoctypeJobs)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
}
