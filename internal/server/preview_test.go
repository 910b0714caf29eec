package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/vsavkov/sitesmith/internal/store"
)

func TestPreviewSuccessPage(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "ada@example.com", store.RoleFree)
	project := ts.seedProject(t, user.ID)
	version := testVersion(project.ID, 1)
	build := testBuild(project.ID, version.ID, store.BuildSuccess)
	ts.store.builds = append(ts.store.builds, build)

	rec := ts.do(t, http.MethodGet, "/preview/"+project.ID+"/"+build.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	if !strings.Contains(body, project.Name) || !strings.Contains(body, build.ID) {
		t.Fatalf("page missing project name or build id: %s", body)
	}
	if !strings.Contains(body, "Built with SiteSmith") {
		t.Fatal("watermark footer missing")
	}

	headers := rec.Header()
	if got := headers.Get("Content-Security-Policy"); got != "frame-ancestors http://localhost:3000" {
		t.Fatalf("CSP = %q", got)
	}
	if headers.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("nosniff header missing")
	}
	if headers.Get("Referrer-Policy") != "strict-origin-when-cross-origin" {
		t.Fatal("referrer policy missing")
	}
	if ct := headers.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestPreviewWatermarkDisabled(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "pro@example.com", store.RolePro)
	project := ts.seedProject(t, user.ID)
	project.WatermarkEnabled = false
	version := testVersion(project.ID, 1)
	build := testBuild(project.ID, version.ID, store.BuildSuccess)
	ts.store.builds = append(ts.store.builds, build)

	rec := ts.do(t, http.MethodGet, "/preview/"+project.ID+"/"+build.ID, "", nil)
	if strings.Contains(rec.Body.String(), "Built with SiteSmith") {
		t.Fatal("watermark shown for a project with watermark disabled")
	}
}

func TestPreviewFailurePage(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "ada@example.com", store.RoleFree)
	project := ts.seedProject(t, user.ID)
	version := testVersion(project.ID, 1)
	build := testBuild(project.ID, version.ID, store.BuildFailed)
	build.ErrorMessage = "Cannot connect to runner service"
	build.BuildLogs = strings.Repeat("x", 6000)
	ts.store.builds = append(ts.store.builds, build)

	rec := ts.do(t, http.MethodGet, "/preview/"+project.ID+"/"+build.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Cannot connect to runner service") {
		t.Fatal("error message missing from failure page")
	}
	if !strings.Contains(body, strings.Repeat("x", 5000)) {
		t.Fatal("log excerpt missing")
	}
	if strings.Contains(body, strings.Repeat("x", 5001)) {
		t.Fatal("logs were not truncated")
	}
}

func TestPreviewOwnership(t *testing.T) {
	ts := newTestServer(t)
	owner, ownerToken := ts.seedUser(t, "owner@example.com", store.RoleFree)
	_, intruderToken := ts.seedUser(t, "intruder@example.com", store.RoleFree)
	project := ts.seedProject(t, owner.ID)
	version := testVersion(project.ID, 1)
	build := testBuild(project.ID, version.ID, store.BuildSuccess)
	ts.store.builds = append(ts.store.builds, build)

	path := "/preview/" + project.ID + "/" + build.ID

	if rec := ts.do(t, http.MethodGet, path, ownerToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, path, intruderToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("intruder status = %d, want 403", rec.Code)
	}
	// An invalid token downgrades to an anonymous view instead of failing.
	if rec := ts.do(t, http.MethodGet, path, "garbage", nil); rec.Code != http.StatusOK {
		t.Fatalf("anonymous status = %d, want 200", rec.Code)
	}
}

func TestPreviewNotFound(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "ada@example.com", store.RoleFree)
	project := ts.seedProject(t, user.ID)
	other := ts.seedProject(t, user.ID)
	version := testVersion(project.ID, 1)
	build := testBuild(project.ID, version.ID, store.BuildSuccess)
	ts.store.builds = append(ts.store.builds, build)

	cases := []struct {
		name string
		path string
	}{
		{"malformed project id", "/preview/not-a-ulid/" + build.ID},
		{"malformed build id", "/preview/" + project.ID + "/not-a-ulid"},
		{"unknown project", "/preview/" + ulid.Make().String() + "/" + build.ID},
		{"unknown build", "/preview/" + project.ID + "/" + ulid.Make().String()},
		{"build of another project", "/preview/" + other.ID + "/" + build.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tc.path, "", nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "Preview unavailable") {
				t.Fatalf("body = %s", rec.Body.String())
			}
		})
	}
}
