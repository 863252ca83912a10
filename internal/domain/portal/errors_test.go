package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/domain/logo"
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/domain/results"
	"github.com/labportal/portal/internal/platform/auth"
	"github.com/labportal/portal/internal/platform/drive"
)

var errDrive = errors.New("drive: backend error")

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{lab.ErrMissingLab, http.StatusBadRequest, "missing_lab"},
		{fmt.Errorf("get: %w", lab.ErrLabNotRegistered), http.StatusNotFound, "lab_not_found"},
		{lab.ErrLabConfigIncomplete, http.StatusInternalServerError, "lab_config_incomplete"},
		{lab.ErrRegistryIDsInvalid, http.StatusInternalServerError, "registry_ids_invalid"},
		{fmt.Errorf("drive list: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{results.ErrPatientFolderNotFound, http.StatusNotFound, "patient_folder_not_found"},
		{results.ErrNotAllowed, http.StatusForbidden, "not_allowed"},
		{logo.ErrLogoNotFound, http.StatusNotFound, "logo_not_found"},
		{fmt.Errorf("%w: x", drive.ErrFileNotFound), http.StatusNotFound, "file_not_found"},
		{auth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{registry.ErrInvalidRecord, http.StatusBadRequest, "bad_request"},
		{errDrive, http.StatusInternalServerError, "server_error"},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tc.err, got.Status, got.Code, tc.status, tc.code)
		}
	}
	if msg := classify(errDrive).Message; strings.Contains(msg, "backend") {
		t.Errorf("server errors must not leak their cause, got %q", msg)
	}
}

func TestContentDisposition(t *testing.T) {
	cases := []struct {
		kind, name, want string
	}{
		{"inline", "report.pdf", `inline; filename="report.pdf"; filename*=UTF-8''report.pdf`},
		{"attachment", "a b(1)*.pdf", `attachment; filename="a b(1)*.pdf"; filename*=UTF-8''a%20b%281%29%2A.pdf`},
		{"inline", "", `inline; filename="file"; filename*=UTF-8''file`},
		{"inline", `q"x.pdf`, `inline; filename="q_x.pdf"; filename*=UTF-8''q%22x.pdf`},
		{"inline", "é.png", `inline; filename="_.png"; filename*=UTF-8''%C3%A9.png`},
	}
	for _, tc := range cases {
		if got := contentDisposition(tc.kind, tc.name); got != tc.want {
			t.Errorf("contentDisposition(%q, %q) = %q, want %q", tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestInlineType(t *testing.T) {
	for mime, want := range map[string]bool{
		"application/pdf": true,
		"image/png":       true,
		"IMAGE/JPEG":      true,
		"text/plain":      false,
		"":                false,
	} {
		if got := inlineType(mime); got != want {
			t.Errorf("inlineType(%q) = %v, want %v", mime, got, want)
		}
	}
}
