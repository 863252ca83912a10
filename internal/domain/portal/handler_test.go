package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labportal/portal/internal/domain/accesslog"
	"github.com/labportal/portal/internal/domain/labconfig"
	"github.com/labportal/portal/internal/domain/logo"
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/domain/results"
	"github.com/labportal/portal/internal/platform/auth"
	"github.com/labportal/portal/internal/platform/drive/drivetest"
	"github.com/labportal/portal/internal/platform/sheets/sheetstest"
)

const (
	registrySheet = "registry-sheet"
	adminToken    = "s3cret-admin"
)

type fixture struct {
	e      *echo.Echo
	drive  *drivetest.Fake
	sheets *sheetstest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sh := sheetstest.New()
	sh.SetRows(registrySheet, registry.DefaultTab, [][]string{
		registry.Header,
		{"ACME", "fld-acme", "log-acme", "", "Acme Labs", "Results"},
		{"BARE", "fld-bare", "log-bare", "logo-fixed", "", ""},
		{"BROKEN", "Lab Results Folder", "log-broken", "", "", ""},
	})

	dr := drivetest.New()
	dr.AddFolder("fld-acme", "ACME root", "")
	dr.AddFolder("p1", "P-001", "fld-acme")
	dr.AddFile("f1", "تقرير.pdf", "application/pdf", "p1", "2024-05-02T10:00:00Z", []byte("%PDF-1.4"))
	dr.AddFile("f2", "notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "p1", "2024-05-01T10:00:00Z", []byte("docx"))
	dr.AddFolder("p2", "P-002", "fld-acme")
	dr.AddFile("m1", "__PORTAL_BLOCKED__150.txt", "text/plain", "p2", "2024-05-03T10:00:00Z", nil)
	dr.AddFile("g1", "blocked.pdf", "application/pdf", "p2", "2024-05-01T10:00:00Z", []byte("%PDF"))
	dr.AddFolder("logos", "Lab Logo", "fld-acme")
	dr.AddFile("logo1", "Logo_20240101_101010.png", "image/png", "logos", "2024-01-01T10:10:10Z", []byte("png"))
	dr.AddFile("x1", "elsewhere.pdf", "application/pdf", "fld-acme", "2024-05-01T10:00:00Z", []byte("%PDF"))
	dr.AddFolder("fld-bare", "BARE root", "")
	dr.AddFile("logo-fixed", "bare.png", "image/png", "fld-bare", "2024-01-01T10:00:00Z", []byte("png"))

	provider := labconfig.NewProvider(
		registry.NewSheetStore(sh, registrySheet, registry.DefaultTab),
		nil,
		labconfig.Options{TTL: 600 * time.Second, ValidateSnapshots: true, Logger: zerolog.Nop()},
	)
	h := NewHandler(Deps{
		Labs:      provider,
		Logos:     logo.NewResolver(dr, logo.DefaultTTL, nil),
		Results:   results.NewService(dr, nil),
		AccessLog: accesslog.NewWriter(sh, accesslog.DefaultTab, zerolog.Nop(), nil),
		Admin:     auth.NewAuthenticator(auth.AdminConfig{Token: adminToken}),
		Logger:    zerolog.Nop(),
	})

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	for _, p := range RoutePrefixes {
		h.RegisterRoutes(e.Group(p))
	}
	return &fixture{e: e, drive: dr, sheets: sh}
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body ErrorResponse
	decode(t, rec, &body)
	if body.Error != code {
		t.Errorf("expected error %q, got %q", code, body.Error)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store on error, got %q", cc)
	}
}

// ── get-lab-config ──

func TestGetLabConfig(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/get-lab-config?lab=%20acme%20", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=600" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected ETag on config response")
	}

	var body LabConfigResponse
	decode(t, rec, &body)
	if body.LabKey != "ACME" || body.DriveFolderID != "fld-acme" || body.LogSheetID != "log-acme" {
		t.Errorf("unexpected record %+v", body)
	}
	if body.Title != "Acme Labs" || body.Subtitle != "Results" {
		t.Errorf("unexpected titles %q / %q", body.Title, body.Subtitle)
	}
	if body.LogoFileID != "logo1" {
		t.Errorf("expected resolved logo id, got %q", body.LogoFileID)
	}
	want := "/api/download-file?lab=ACME&fileId=logo1&logo=1&v=Logo_20240101_101010.png"
	if body.LogoURL != want {
		t.Errorf("logoUrl = %q, want %q", body.LogoURL, want)
	}
}

func TestGetLabConfig_NetlifyAlias(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/.netlify/functions/get-lab-config?lab=acme", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body LabConfigResponse
	decode(t, rec, &body)
	if !strings.HasPrefix(body.LogoURL, "/.netlify/functions/download-file?") {
		t.Errorf("logoUrl should use the request's prefix, got %q", body.LogoURL)
	}
}

func TestGetLabConfig_DefaultsAndRegistryLogo(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/get-lab-config?lab=bare", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body LabConfigResponse
	decode(t, rec, &body)
	if body.Title != DefaultTitle || body.Subtitle != DefaultSubtitle {
		t.Errorf("expected default titles, got %q / %q", body.Title, body.Subtitle)
	}
	if body.LogoFileID != "logo-fixed" {
		t.Errorf("expected registry logo id, got %q", body.LogoFileID)
	}
	if body.LogoURL != "/api/download-file?lab=BARE&fileId=logo-fixed&logo=1" {
		t.Errorf("unexpected logoUrl %q", body.LogoURL)
	}
}

func TestGetLabConfig_ConditionalRequest(t *testing.T) {
	f := newFixture(t)
	first := f.do(http.MethodGet, "/api/get-lab-config?lab=ACME", "", nil)
	etag := first.Header().Get("ETag")

	rec := f.do(http.MethodGet, "/api/get-lab-config?lab=ACME", "", map[string]string{"If-None-Match": etag})
	if rec.Code != http.StatusNotModified {
		t.Errorf("expected 304, got %d", rec.Code)
	}
}

func TestGetLabConfig_Errors(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/get-lab-config", "", nil), http.StatusBadRequest, "missing_lab")
	expectError(t, f.do(http.MethodGet, "/api/get-lab-config?lab=%20%20", "", nil), http.StatusBadRequest, "missing_lab")
	expectError(t, f.do(http.MethodGet, "/api/get-lab-config?lab=NOPE", "", nil), http.StatusNotFound, "lab_not_found")
	expectError(t, f.do(http.MethodGet, "/api/get-lab-config?lab=BROKEN", "", nil), http.StatusInternalServerError, "registry_ids_invalid")
}

// ── get-files ──

func TestGetFiles(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/get-files?lab=acme&id=P-001", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}

	var body FilesResponse
	decode(t, rec, &body)
	if body.LabKey != "ACME" || body.PatientID != "P-001" || body.FolderID != "p1" {
		t.Errorf("unexpected envelope %+v", body)
	}
	if body.Blocked {
		t.Error("did not expect blocked")
	}
	if len(body.Files) != 2 || body.Files[0].ID != "f1" || body.Files[1].ID != "f2" {
		t.Fatalf("expected f1, f2 newest first, got %+v", body.Files)
	}
	if body.Files[0].Size != int64(len("%PDF-1.4")) {
		t.Errorf("expected size, got %d", body.Files[0].Size)
	}
}

func TestGetFiles_Blocked(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/get-files?lab=ACME&id=P-002", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var raw map[string]interface{}
	decode(t, rec, &raw)
	if raw["blocked"] != true {
		t.Errorf("expected blocked:true, got %v", raw["blocked"])
	}
	if raw["amount"] != float64(150) {
		t.Errorf("expected amount 150, got %v", raw["amount"])
	}
	if raw["markerFileId"] != "m1" || raw["markerFileName"] != "__PORTAL_BLOCKED__150.txt" {
		t.Errorf("unexpected marker fields %v / %v", raw["markerFileId"], raw["markerFileName"])
	}
	files, ok := raw["files"].([]interface{})
	if !ok || len(files) != 0 {
		t.Errorf("expected files:[], got %v", raw["files"])
	}
}

func TestGetFiles_Errors(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/get-files?id=P-001", "", nil), http.StatusBadRequest, "missing_lab")
	expectError(t, f.do(http.MethodGet, "/api/get-files?lab=ACME", "", nil), http.StatusBadRequest, "missing_id")
	expectError(t, f.do(http.MethodGet, "/api/get-files?lab=NOPE&id=P-001", "", nil), http.StatusNotFound, "lab_not_found")
	expectError(t, f.do(http.MethodGet, "/api/get-files?lab=ACME&id=P-999", "", nil), http.StatusNotFound, "patient_folder_not_found")
	expectError(t, f.do(http.MethodPost, "/api/get-files?lab=ACME&id=P-001", "", nil), http.StatusMethodNotAllowed, "method_not_allowed")
}

func TestGetFiles_DriveFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.drive.ListErr = errDrive
	expectError(t, f.do(http.MethodGet, "/api/get-files?lab=ACME&id=P-001", "", nil), http.StatusInternalServerError, "server_error")
}

// ── download-file ──

func TestDownloadFile_InlinePDF(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-001&fileId=f1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	cd := rec.Header().Get(echo.HeaderContentDisposition)
	if !strings.HasPrefix(cd, "inline;") {
		t.Errorf("expected inline disposition, got %q", cd)
	}
	if !strings.Contains(cd, "filename*=UTF-8''%D8%AA%D9%82%D8%B1%D9%8A%D8%B1.pdf") {
		t.Errorf("expected RFC 5987 filename, got %q", cd)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if rec.Body.String() != "%PDF-1.4" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestDownloadFile_Disposition(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		target string
		want   string
	}{
		{"/api/download-file?lab=ACME&id=P-001&fileId=f1&download=1", "attachment;"},
		{"/api/download-file?lab=ACME&id=P-001&fileId=f1&download=true", "attachment;"},
		{"/api/download-file?lab=ACME&id=P-001&fileId=f2", "attachment;"},
	}
	for _, tc := range cases {
		rec := f.do(http.MethodGet, tc.target, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.target, rec.Code)
		}
		if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.HasPrefix(cd, tc.want) {
			t.Errorf("%s: disposition %q, want prefix %q", tc.target, cd, tc.want)
		}
	}
}

func TestDownloadFile_Blocked(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-002&fileId=g1", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body BlockedResponse
	decode(t, rec, &body)
	if body.Error != "blocked" || !body.Blocked || body.Amount != 150 || body.MarkerFileID != "m1" {
		t.Errorf("unexpected blocked payload %+v", body)
	}
	if f.drive.Opens != 0 {
		t.Errorf("blocked download must not open content, opens=%d", f.drive.Opens)
	}
}

func TestDownloadFile_NotAllowed(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-001&fileId=x1", "", nil), http.StatusForbidden, "not_allowed")
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-001&fileId=g1", "", nil), http.StatusForbidden, "not_allowed")
}

func TestDownloadFile_Errors(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/download-file?fileId=f1", "", nil), http.StatusBadRequest, "missing_lab")
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-001", "", nil), http.StatusBadRequest, "missing_fileId")
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&fileId=f1", "", nil), http.StatusBadRequest, "missing_id")
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-999&fileId=f1", "", nil), http.StatusNotFound, "patient_folder_not_found")
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&id=P-001&fileId=ghost", "", nil), http.StatusNotFound, "file_not_found")
}

func TestDownloadFile_Logo(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/download-file?lab=ACME&fileId=logo1&logo=1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != logoCacheControl {
		t.Errorf("Cache-Control = %q", cc)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.HasPrefix(cd, "inline;") {
		t.Errorf("expected inline logo, got %q", cd)
	}

	rec = f.do(http.MethodGet, "/api/download-file?lab=BARE&fileId=logo-fixed&logo=true", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("registry logo: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDownloadFile_LogoBypassIsLimitedToTheLogo(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=ACME&fileId=f1&logo=1", "", nil), http.StatusNotFound, "logo_not_found")
	expectError(t, f.do(http.MethodGet, "/api/download-file?lab=BARE&fileId=logo1&logo=1", "", nil), http.StatusNotFound, "logo_not_found")
}

// ── log-access ──

func TestLogAccess(t *testing.T) {
	f := newFixture(t)
	body := `{"lab":"acme","id":"P-001","fileId":"f1","fileName":"cbc.pdf"}`
	rec := f.do(http.MethodPost, "/api/log-access", body, map[string]string{"User-Agent": "UA-Test"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]bool
	decode(t, rec, &out)
	if !out["ok"] {
		t.Errorf("expected ok:true, got %v", out)
	}

	rows, ok := f.sheets.Rows("log-acme", accesslog.DefaultTab)
	if !ok {
		t.Fatal("expected the log tab to be created")
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %v", rows)
	}
	row := rows[1]
	if row[1] != "P-001" || row[2] != "cbc.pdf" || row[3] != "f1" || row[4] != "VIEW" || row[5] != "UA-Test" {
		t.Errorf("unexpected row %v", row)
	}
}

func TestLogAccess_LabFromQueryAndPlainTextBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/log-access?lab=ACME",
		strings.NewReader(`{"patientId":"P-001","action":"DOWNLOAD","userAgent":"beacon"}`))
	req.Header.Set(echo.HeaderContentType, "text/plain;charset=UTF-8")
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rows, _ := f.sheets.Rows("log-acme", accesslog.DefaultTab)
	last := rows[len(rows)-1]
	if last[4] != "DOWNLOAD" || last[5] != "beacon" {
		t.Errorf("unexpected row %v", last)
	}
}

func TestLogAccess_Errors(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/log-access?lab=ACME", "", nil), http.StatusMethodNotAllowed, "method_not_allowed")
	expectError(t, f.do(http.MethodPost, "/api/log-access", `{"patientId":"P-001"}`, nil), http.StatusBadRequest, "missing_lab")
	expectError(t, f.do(http.MethodPost, "/api/log-access", `{"lab":"ACME"}`, nil), http.StatusBadRequest, "missing_patientId")
	expectError(t, f.do(http.MethodPost, "/api/log-access", `not json`, nil), http.StatusBadRequest, "missing_lab")
	expectError(t, f.do(http.MethodPost, "/api/log-access", `{"lab":"NOPE","id":"P"}`, nil), http.StatusNotFound, "lab_not_found")
}

// ── register-lab ──

func TestRegisterLab_Insert(t *testing.T) {
	f := newFixture(t)
	body := `{"labKey":"beta","driveFolderId":"fld-beta","logSheetId":"log-beta","title":"Beta"}`
	rec := f.do(http.MethodPost, "/api/register-lab", body, map[string]string{auth.AdminTokenHeader: adminToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out RegisterLabResponse
	decode(t, rec, &out)
	if !out.OK || out.Result == nil || out.Result.Action != "inserted" {
		t.Errorf("unexpected response %+v", out)
	}
	if out.SnapshotUpdated {
		t.Error("no snapshot store is configured")
	}

	cfg := f.do(http.MethodGet, "/api/get-lab-config?lab=BETA", "", nil)
	if cfg.Code != http.StatusOK {
		t.Fatalf("registered lab should resolve, got %d: %s", cfg.Code, cfg.Body.String())
	}
}

func TestRegisterLab_UpdateInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodGet, "/api/get-lab-config?lab=ACME", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("warm-up failed: %d", rec.Code)
	}

	body := `{"labKey":"acme","driveFolderId":"fld-acme","logSheetId":"log-acme","title":"Acme Renamed"}`
	rec := f.do(http.MethodPost, "/api/register-lab", body, map[string]string{auth.AdminTokenHeader: adminToken})
	var out RegisterLabResponse
	decode(t, rec, &out)
	if out.Result == nil || out.Result.Action != "updated" || out.Result.Row != 2 {
		t.Fatalf("expected update of row 2, got %+v", out.Result)
	}

	var cfg LabConfigResponse
	decode(t, f.do(http.MethodGet, "/api/get-lab-config?lab=ACME", "", nil), &cfg)
	if cfg.Title != "Acme Renamed" {
		t.Errorf("expected fresh title after register, got %q", cfg.Title)
	}
}

func TestRegisterLab_Errors(t *testing.T) {
	f := newFixture(t)
	valid := `{"labKey":"beta","driveFolderId":"fld-beta","logSheetId":"log-beta"}`

	expectError(t, f.do(http.MethodGet, "/api/register-lab", "", nil), http.StatusMethodNotAllowed, "method_not_allowed")
	expectError(t, f.do(http.MethodPost, "/api/register-lab", valid, nil), http.StatusUnauthorized, "unauthorized")
	expectError(t, f.do(http.MethodPost, "/api/register-lab", valid, map[string]string{auth.AdminTokenHeader: "wrong"}), http.StatusUnauthorized, "unauthorized")
	expectError(t, f.do(http.MethodPost, "/api/register-lab", `{"labKey":"beta"}`, map[string]string{auth.AdminTokenHeader: adminToken}), http.StatusBadRequest, "bad_request")

	if _, ok := f.sheets.Rows(registrySheet, registry.DefaultTab); !ok {
		t.Fatal("registry tab vanished")
	}
	if f.sheets.Appends != 0 {
		t.Errorf("rejected requests must not write, appends=%d", f.sheets.Appends)
	}
}

// ── routing ──

func TestUnknownRouteIsJSON(t *testing.T) {
	f := newFixture(t)
	expectError(t, f.do(http.MethodGet, "/api/nope", "", nil), http.StatusNotFound, "not_found")
}
