package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/netmon/internal/host"
)

const (
	bodyFetchTimeout = 10 * time.Second
	bodyWaitTimeout  = 30 * time.Second
)

// ErrNoBody is returned for responses the browser keeps no body for, such
// as redirects.
var ErrNoBody = errors.New("response has no body")

// wireKey identifies a request on the wire. Chrome reuses the RequestID
// across redirect hops.
type wireKey struct {
	target target.ID
	id     network.RequestID
}

// requestKey is the host identity handed to the monitor; hop separates the
// legs of a redirect chain.
type requestKey struct {
	wireKey
	hop int
}

// pendingRequest implements host.Request for one request hop. failure is
// written before done is closed and read only after.
type pendingRequest struct {
	key          requestKey
	tab          *tab
	req          *network.Request
	resourceType string

	dispatched chan struct{} // OnRequest handlers have returned
	done       chan struct{} // loading finished, failed or redirected
	failure    string
}

func newPendingRequest(t *tab, ev *network.EventRequestWillBeSent, hop int) *pendingRequest {
	return &pendingRequest{
		key:          requestKey{wireKey: wireKey{target: t.id, id: ev.RequestID}, hop: hop},
		tab:          t,
		req:          ev.Request,
		resourceType: string(ev.Type),
		dispatched:   make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *pendingRequest) Identity() any         { return p.key }
func (p *pendingRequest) URL() string           { return p.req.URL + p.req.URLFragment }
func (p *pendingRequest) Method() string        { return p.req.Method }
func (p *pendingRequest) ResourceType() string  { return p.resourceType }
func (p *pendingRequest) FailureReason() string { return p.failure }

func (p *pendingRequest) Headers(context.Context) (map[string]string, error) {
	return headerMapToStringMap(p.req.Headers), nil
}

// PostData decodes the inlined post data entries. Chrome omits them for
// large or streamed bodies; that is reported as an error.
func (p *pendingRequest) PostData(context.Context) (string, error) {
	if !p.req.HasPostData {
		return "", host.ErrNoPostData
	}
	if len(p.req.PostDataEntries) == 0 {
		return "", errors.New("post data not inlined in request event")
	}
	var decoded []byte
	for _, entry := range p.req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		part, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			decoded = append(decoded, entry.Bytes...)
			continue
		}
		decoded = append(decoded, part...)
	}
	return string(decoded), nil
}

// response implements host.Response. req is nil when the request started
// before the tab was attached.
type response struct {
	req       *pendingRequest
	tab       *tab
	requestID network.RequestID
	resp      *network.Response
	noBody    bool
}

func (r *response) Request() host.Request {
	if r.req == nil {
		return nil
	}
	return r.req
}

func (r *response) URL() string        { return r.resp.URL }
func (r *response) Status() int        { return int(r.resp.Status) }
func (r *response) StatusText() string { return r.resp.StatusText }

// Headers falls back to the reported MIME type when the response carries
// no Content-Type header.
func (r *response) Headers(context.Context) (map[string]string, error) {
	headers := headerMapToStringMap(r.resp.Headers)
	if r.resp.MimeType == "" {
		return headers, nil
	}
	for k := range headers {
		if strings.EqualFold(k, "content-type") {
			return headers, nil
		}
	}
	headers["Content-Type"] = r.resp.MimeType
	return headers, nil
}

// Body waits for the load to finish, then fetches the body over CDP.
func (r *response) Body(ctx context.Context) ([]byte, error) {
	if r.noBody {
		return nil, ErrNoBody
	}
	if r.req != nil {
		wait := time.NewTimer(bodyWaitTimeout)
		defer wait.Stop()
		select {
		case <-r.req.done:
		case <-wait.C:
			return nil, fmt.Errorf("response did not finish loading within %s", bodyWaitTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if r.req.failure != "" {
			return nil, fmt.Errorf("loading failed: %s", r.req.failure)
		}
	}
	return r.tab.responseBody(ctx, r.requestID)
}

// responseBody runs GetResponseBody on the tab's chromedp context, bounded
// by bodyFetchTimeout and cancelled with ctx.
func (t *tab) responseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	bodyCtx, bodyCancel := context.WithTimeout(t.ctx, bodyFetchTimeout)
	defer bodyCancel()
	stop := context.AfterFunc(ctx, bodyCancel)
	defer stop()

	var body []byte
	err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	return body, nil
}

func headerMapToStringMap(headers network.Headers) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		switch val := v.(type) {
		case string:
			result[k] = val
		case nil:
		default:
			result[k] = fmt.Sprint(val)
		}
	}
	return result
}
