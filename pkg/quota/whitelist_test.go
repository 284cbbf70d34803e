package quota

import (
	"testing"

	"github.com/vnykmshr/goquota/internal/testutil"
	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
)

func TestWhitelistContains(t *testing.T) {
	w, err := NewWhitelist(
		[]string{"trusted-client"},
		[]string{"127.0.0.1", "10.0.0.0/8", "::1"},
		[]string{"get:/health", "*:/status/*"},
		false,
	)
	testutil.AssertNoError(t, err)

	tests := []struct {
		name string
		id   Identity
		want bool
	}{
		{"client id", NewIdentity("trusted-client", "1.2.3.4", "GET", "/api"), true},
		{"loopback", NewIdentity("x", "127.0.0.1", "GET", "/api"), true},
		{"private range", NewIdentity("x", "10.20.30.40", "GET", "/api"), true},
		{"ipv6 loopback", NewIdentity("x", "::1", "GET", "/api"), true},
		{"exact endpoint", NewIdentity("x", "1.2.3.4", "GET", "/health/"), true},
		{"endpoint other verb", NewIdentity("x", "1.2.3.4", "POST", "/health"), false},
		{"any verb endpoint", NewIdentity("x", "1.2.3.4", "DELETE", "/status/db"), true},
		{"not listed", NewIdentity("x", "1.2.3.4", "GET", "/api"), false},
		{"empty client id", NewIdentity("", "", "GET", "/api"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, w.Contains(tt.id), tt.want)
		})
	}
}

func TestWhitelistRegexEndpoints(t *testing.T) {
	w, err := NewWhitelist(nil, nil, []string{`get:/metrics(/.*)?`}, true)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, w.Contains(NewIdentity("c", "", "GET", "/metrics")), true)
	testutil.AssertEqual(t, w.Contains(NewIdentity("c", "", "GET", "/metrics/go")), true)
	testutil.AssertEqual(t, w.Contains(NewIdentity("c", "", "GET", "/metricsx")), false)

	_, err = NewWhitelist(nil, nil, []string{"get:/api/(["}, true)
	testutil.AssertErrorIs(t, err, gqerrors.ErrInvalidConfiguration)

	_, err = NewWhitelist(nil, nil, []string{"get:/api/(["}, false)
	testutil.AssertNoError(t, err)
}

func TestWhitelistInvalidRange(t *testing.T) {
	_, err := NewWhitelist(nil, []string{"not-an-ip"}, nil, false)
	testutil.AssertErrorIs(t, err, gqerrors.ErrInvalidConfiguration)
}

func TestWhitelistEmpty(t *testing.T) {
	var nilList *Whitelist
	testutil.AssertEqual(t, nilList.Contains(NewIdentity("c", "1.1.1.1", "GET", "/")), false)
	testutil.AssertEqual(t, nilList.Empty(), true)

	w, err := NewWhitelist(nil, nil, nil, false)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, w.Empty(), true)
}
