package resources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/wondertwin-ai/clerkflow/pkg/fapi"
)

// rehydrator is implemented by every resource: it replaces in-memory state
// with the server's view.
type rehydrator interface {
	fromJSON(data json.RawMessage) error
}

// baseResource carries what every resource shares: its Core, its collection
// path and its server id. Resources are used from one goroutine at a time;
// the in-flight flag only rejects overlapping mutations.
type baseResource struct {
	core     *Core
	pathRoot string
	id       string
	inflight atomic.Bool
}

// ID returns the server-assigned id, or "" for a resource not yet created.
func (b *baseResource) ID() string { return b.id }

// IsNew reports whether the resource has not been created on the server.
func (b *baseResource) IsNew() bool { return b.id == "" }

func (b *baseResource) path(action string) string {
	if b.IsNew() {
		return b.pathRoot
	}
	p := withTrailingSlash(b.pathRoot) + url.PathEscape(b.id)
	if action == "" {
		return p
	}
	return withTrailingSlash(p) + url.PathEscape(action)
}

func withTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func (b *baseResource) fetch(ctx context.Context, self rehydrator, opts fetchOptions) error {
	if b.IsNew() {
		return ErrResourceNotCreated
	}
	payload, err := b.core.request(ctx, fapi.RequestInit{
		Method: http.MethodGet,
		Path:   b.path(""),
	}, opts)
	if err != nil {
		return err
	}
	return rehydrate(self, payload)
}

type mutation struct {
	method string
	// path overrides the computed resource path.
	path   string
	action string
	body   any
	// discard skips rehydration, used for deletes.
	discard bool
}

func (b *baseResource) mutate(ctx context.Context, self rehydrator, m mutation) error {
	if m.method == "" {
		m.method = http.MethodPost
	}
	if m.path == "" {
		if b.IsNew() && (m.action != "" || m.method != http.MethodPost) {
			return ErrResourceNotCreated
		}
		m.path = b.path(m.action)
	}

	if !b.inflight.CompareAndSwap(false, true) {
		return ErrMutationInFlight
	}
	defer b.inflight.Store(false)

	payload, err := b.core.request(ctx, fapi.RequestInit{
		Method: m.method,
		Path:   m.path,
		Body:   m.body,
	}, fetchOptions{})
	if err != nil {
		return err
	}
	if m.discard {
		return nil
	}
	return rehydrate(self, payload)
}

// rehydrate applies the primary resource of payload. A nil payload, as left by
// 3xx responses, leaves the resource untouched.
func rehydrate(self rehydrator, payload *fapi.ResponseJSON) error {
	data := payload.Resource()
	if data == nil {
		return nil
	}
	return self.fromJSON(data)
}
