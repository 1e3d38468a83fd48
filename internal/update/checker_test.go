package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
)

func newTestChecker(t *testing.T, version string, handler http.HandlerFunc) *Checker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newWithBase(srv.URL, "golnet1/majordomo-bridge", version, logging.Default())
}

func TestCheckFindsNewerRelease(t *testing.T) {
	c := newTestChecker(t, "1.2.0", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/golnet1/majordomo-bridge/releases/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"tag_name":"v1.3.0","html_url":"https://example.com/rel"}`))
	})

	st := c.Check(context.Background())

	if !st.UpdateAvailable {
		t.Error("update not reported")
	}
	if st.LatestVersion != "v1.3.0" || st.ReleaseURL != "https://example.com/rel" {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Error != "" {
		t.Errorf("error = %q, want empty", st.Error)
	}
}

func TestCheckSameVersion(t *testing.T) {
	c := newTestChecker(t, "1.3.0", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tag_name":"v1.3.0"}`))
	})

	if st := c.Check(context.Background()); st.UpdateAvailable {
		t.Errorf("update reported for current version: %+v", st)
	}
}

func TestCheckDevBuildNeverUpdates(t *testing.T) {
	c := newTestChecker(t, "dev", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tag_name":"v9.9.9"}`))
	})

	if st := c.Check(context.Background()); st.UpdateAvailable {
		t.Errorf("dev build reported an update: %+v", st)
	}
}

func TestCheckFailureKeepsPreviousRelease(t *testing.T) {
	fail := false
	c := newTestChecker(t, "1.2.0", func(w http.ResponseWriter, _ *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"tag_name":"v1.3.0"}`))
	})

	c.Check(context.Background())
	fail = true
	st := c.Check(context.Background())

	if st.Error == "" {
		t.Error("failed check did not record an error")
	}
	if st.LatestVersion != "v1.3.0" || !st.UpdateAvailable {
		t.Errorf("previous release info lost: %+v", st)
	}
}

func TestStatusBeforeFirstCheck(t *testing.T) {
	c := newTestChecker(t, "1.2.0", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"tag_name":"v1.2.0"}`))
	})

	st := c.Status()
	if st.CurrentVersion != "1.2.0" || st.UpdateAvailable {
		t.Errorf("unexpected initial status: %+v", st)
	}
}
