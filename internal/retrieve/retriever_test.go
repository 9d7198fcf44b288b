package retrieve

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/Tamillat/wget/internal/config"
	"github.com/Tamillat/wget/internal/proxy"
	"github.com/Tamillat/wget/pkg/types"
)

// fakeHTTPLoop replays scripted outcomes keyed by canonical URL and records
// the order of fetches it saw.
type fakeHTTPLoop struct {
	outcomes map[string]types.Outcome
	errs     map[string]error
	fetched  []string
	proxied  []string
}

func (f *fakeHTTPLoop) Fetch(_ context.Context, u *url.URL, proxyURL *url.URL, _ string) (types.Outcome, error) {
	key := Canonical(u)
	f.fetched = append(f.fetched, key)
	if proxyURL != nil {
		f.proxied = append(f.proxied, proxyURL.String())
	}
	return f.outcomes[key], f.errs[key]
}

type fakeFTPLoop struct {
	outcome    types.Outcome
	err        error
	fetched    []string
	recurseLog []bool
}

func (f *fakeFTPLoop) Fetch(_ context.Context, u *url.URL, recurse bool) (types.Outcome, error) {
	f.fetched = append(f.fetched, Canonical(u))
	f.recurseLog = append(f.recurseLog, recurse)
	return f.outcome, f.err
}

type recordingRegistry struct {
	downloads map[string]string
	html      map[string]string
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{downloads: map[string]string{}, html: map[string]string{}}
}

func (r *recordingRegistry) RegisterDownload(u, p string) { r.downloads[u] = p }
func (r *recordingRegistry) RegisterHTML(u, p string)     { r.html[u] = p }

func ok(local string, isHTML bool) types.Outcome {
	return types.Outcome{
		Status:    types.StatusOK,
		LocalFile: local,
		Flags:     types.DocFlags{Succeeded: true, IsHTML: isHTML},
	}
}

func redirect(to string) types.Outcome {
	return types.Outcome{Status: types.StatusNewLocation, NewLocation: to}
}

func TestRetrieveDirect(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://example.com/file.txt": ok("file.txt", false),
	}}
	reg := newRecordingRegistry()
	r := New(httpLoop, &fakeFTPLoop{}, nil, reg, false, "", nil)

	res, err := r.Retrieve(context.Background(), "http://example.com/file.txt", "")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.LocalFile != "file.txt" || !res.Flags.Succeeded {
		t.Errorf("Retrieve() = %+v, want successful file.txt", res)
	}
	if res.FinalURL != "http://example.com/file.txt" {
		t.Errorf("FinalURL = %q", res.FinalURL)
	}
	if reg.downloads["http://example.com/file.txt"] != "file.txt" {
		t.Error("successful download not registered")
	}
	if len(reg.html) != 0 {
		t.Error("non-HTML download registered as HTML")
	}
	if got := r.Completed(); got != 1 {
		t.Errorf("Completed() = %d, want 1", got)
	}
}

func TestRetrieveFollowsRedirectChain(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://a.example/start": redirect("http://b.example/mid"),
		"http://b.example/mid":   redirect("http://c.example/end"),
		"http://c.example/end":   ok("end", true),
	}}
	reg := newRecordingRegistry()
	r := New(httpLoop, &fakeFTPLoop{}, nil, reg, false, "", nil)

	res, err := r.Retrieve(context.Background(), "http://a.example/start", "")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.FinalURL != "http://c.example/end" {
		t.Errorf("FinalURL = %q, want the post-redirect URL", res.FinalURL)
	}
	if !res.Flags.IsHTML {
		t.Error("IsHTML flag lost across redirects")
	}
	// Registration uses the final URL, not the one the user asked for.
	if reg.html["http://c.example/end"] != "end" {
		t.Errorf("html registrations = %v", reg.html)
	}
	if len(httpLoop.fetched) != 3 {
		t.Errorf("fetched %d times, want 3: %v", len(httpLoop.fetched), httpLoop.fetched)
	}
}

func TestRetrieveRelativeRedirect(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://h.example/a/b": redirect("c"),
		"http://h.example/a/c": ok("c", false),
	}}
	r := New(httpLoop, &fakeFTPLoop{}, nil, nil, false, "", nil)

	res, err := r.Retrieve(context.Background(), "http://h.example/a/b", "")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if res.FinalURL != "http://h.example/a/c" {
		t.Errorf("FinalURL = %q, want relative target resolved against current URL", res.FinalURL)
	}
}

func TestRetrieveDetectsRedirectCycle(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://a.example/": redirect("http://b.example/"),
		"http://b.example/": redirect("http://a.example/"),
	}}
	r := New(httpLoop, &fakeFTPLoop{}, nil, nil, false, "", nil)

	_, err := r.Retrieve(context.Background(), "http://a.example/", "")
	if !errors.Is(err, types.ErrRedirectCycle) {
		t.Fatalf("Retrieve() error = %v, want ErrRedirectCycle", err)
	}
	// A bounces to B, B bounces back, and the cycle is caught before a
	// third request goes out.
	if len(httpLoop.fetched) != 2 {
		t.Errorf("fetched %d times, want 2: %v", len(httpLoop.fetched), httpLoop.fetched)
	}
}

func TestRetrieveSelfRedirect(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://a.example/loop": redirect("http://a.example/loop"),
	}}
	r := New(httpLoop, &fakeFTPLoop{}, nil, nil, false, "", nil)

	_, err := r.Retrieve(context.Background(), "http://a.example/loop", "")
	if !errors.Is(err, types.ErrRedirectCycle) {
		t.Fatalf("Retrieve() error = %v, want ErrRedirectCycle", err)
	}
	if len(httpLoop.fetched) != 1 {
		t.Errorf("fetched %d times, want the cycle caught after the first response", len(httpLoop.fetched))
	}
}

func TestRetrieveCycleThroughPathArtifacts(t *testing.T) {
	// The redirect target normalises to the starting URL even though its
	// textual form differs.
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://a.example/dir/page": redirect("http://a.example:80/dir/sub/../page"),
	}}
	r := New(httpLoop, &fakeFTPLoop{}, nil, nil, false, "", nil)

	_, err := r.Retrieve(context.Background(), "http://a.example/dir/page", "")
	if !errors.Is(err, types.ErrRedirectCycle) {
		t.Fatalf("Retrieve() error = %v, want cycle despite dot-segment and default-port noise", err)
	}
}

func TestRetrieveRedirectWithoutLocation(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://a.example/": {Status: types.StatusNewLocation},
	}}
	r := New(httpLoop, &fakeFTPLoop{}, nil, nil, false, "", nil)

	_, err := r.Retrieve(context.Background(), "http://a.example/", "")
	if !errors.Is(err, types.ErrWrongResponse) {
		t.Fatalf("Retrieve() error = %v, want ErrWrongResponse", err)
	}
}

func TestRetrieveBadURL(t *testing.T) {
	r := New(&fakeHTTPLoop{}, &fakeFTPLoop{}, nil, nil, false, "", nil)
	for _, raw := range []string{"", "not a url", "/relative/only", "mailto:user@example.com"} {
		if _, err := r.Retrieve(context.Background(), raw, ""); !errors.Is(err, types.ErrURLParse) {
			t.Errorf("Retrieve(%q) error = %v, want ErrURLParse", raw, err)
		}
	}
}

func TestRetrieveDispatchesFTP(t *testing.T) {
	ftpLoop := &fakeFTPLoop{outcome: ok("file.bin", false)}
	r := New(&fakeHTTPLoop{}, ftpLoop, nil, nil, true, "", nil)

	if _, err := r.Retrieve(context.Background(), "ftp://ftp.example.com/file.bin", ""); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(ftpLoop.fetched) != 1 {
		t.Fatalf("ftp loop fetched %d times, want 1", len(ftpLoop.fetched))
	}
	if !ftpLoop.recurseLog[0] {
		t.Error("direct FTP dispatch with recursion enabled should advertise recursion")
	}
}

func TestRetrieveRedirectToFTPSuppressesRecursion(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://a.example/pub": redirect("ftp://ftp.example.com/pub/"),
	}}
	ftpLoop := &fakeFTPLoop{outcome: ok("pub", false)}
	r := New(httpLoop, ftpLoop, nil, nil, true, "", nil)

	if _, err := r.Retrieve(context.Background(), "http://a.example/pub", ""); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(ftpLoop.recurseLog) != 1 || ftpLoop.recurseLog[0] {
		t.Errorf("recurse flags = %v, want recursion suppressed for a redirect-reached FTP URL", ftpLoop.recurseLog)
	}
}

func TestRetrieveProxied(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"ftp://ftp.example.com/file": ok("file", false),
	}}
	ftpLoop := &fakeFTPLoop{}
	resolver := proxy.NewResolver(config.ProxyConfig{
		FTP: "http://proxy.local:3128",
	})
	r := New(httpLoop, ftpLoop, resolver, nil, false, "", nil)

	if _, err := r.Retrieve(context.Background(), "ftp://ftp.example.com/file", ""); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	// Proxied fetches always go through the request-scheme loop, even for
	// FTP targets.
	if len(ftpLoop.fetched) != 0 {
		t.Error("proxied FTP retrieval hit the FTP loop")
	}
	if len(httpLoop.proxied) != 1 || httpLoop.proxied[0] != "http://proxy.local:3128" {
		t.Errorf("proxied = %v", httpLoop.proxied)
	}
}

func TestRetrieveRejectsNonHTTPProxy(t *testing.T) {
	httpLoop := &fakeHTTPLoop{}
	resolver := proxy.NewResolver(config.ProxyConfig{
		HTTP: "socks5://proxy.local:1080",
	})
	r := New(httpLoop, &fakeFTPLoop{}, resolver, nil, false, "", nil)

	_, err := r.Retrieve(context.Background(), "http://example.com/", "")
	if !errors.Is(err, types.ErrProxyConfig) {
		t.Fatalf("Retrieve() error = %v, want ErrProxyConfig", err)
	}
	// The bad proxy must be rejected before any request is attempted.
	if len(httpLoop.fetched) != 0 {
		t.Errorf("fetched %v despite unusable proxy", httpLoop.fetched)
	}
}

func TestRetrieveNoProxyExclusion(t *testing.T) {
	httpLoop := &fakeHTTPLoop{outcomes: map[string]types.Outcome{
		"http://internal.corp.example/": ok("index.html", true),
	}}
	resolver := proxy.NewResolver(config.ProxyConfig{
		HTTP:    "http://proxy.local:3128",
		NoProxy: []string{".corp.example"},
	})
	r := New(httpLoop, &fakeFTPLoop{}, resolver, nil, false, "", nil)

	if _, err := r.Retrieve(context.Background(), "http://internal.corp.example/", ""); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(httpLoop.proxied) != 0 {
		t.Errorf("excluded host went through proxy %v", httpLoop.proxied)
	}
}

func TestRetrieveFailedFetchNotRegistered(t *testing.T) {
	httpLoop := &fakeHTTPLoop{
		outcomes: map[string]types.Outcome{
			"http://a.example/gone": {Status: types.StatusWrongCode},
		},
		errs: map[string]error{
			"http://a.example/gone": types.ErrWrongResponse,
		},
	}
	reg := newRecordingRegistry()
	r := New(httpLoop, &fakeFTPLoop{}, nil, reg, false, "", nil)

	_, err := r.Retrieve(context.Background(), "http://a.example/gone", "")
	if !errors.Is(err, types.ErrWrongResponse) {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(reg.downloads) != 0 {
		t.Error("failed retrieval was registered")
	}
	if got := r.Completed(); got != 0 {
		t.Errorf("Completed() = %d after a failure, want 0", got)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM/Path", "http://example.com/Path"},
		{"http://example.com:80/x", "http://example.com/x"},
		{"https://example.com:443/", "https://example.com/"},
		{"ftp://example.com:21/pub", "ftp://example.com/pub"},
		{"http://example.com:8080/x", "http://example.com:8080/x"},
		{"http://example.com", "http://example.com/"},
		{"http://example.com/a?b=c", "http://example.com/a?b=c"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatalf("url.Parse(%q): %v", tt.in, err)
		}
		if got := Canonical(u); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
