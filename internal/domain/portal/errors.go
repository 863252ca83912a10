package portal

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/domain/logo"
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/domain/results"
	"github.com/labportal/portal/internal/platform/auth"
	"github.com/labportal/portal/internal/platform/drive"
)

// apiError is a failure already mapped to its HTTP form.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Message
}

func badRequest(code, msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: code, Message: msg}
}

// classify maps domain errors onto the portal's status and error codes.
// Unknown errors become server_error without leaking their text.
func classify(err error) *apiError {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, lab.ErrMissingLab):
		return badRequest("missing_lab", "Missing lab")
	case errors.Is(err, lab.ErrLabNotRegistered):
		return &apiError{http.StatusNotFound, "lab_not_found", "LabKey not found in Registry"}
	case errors.Is(err, lab.ErrLabConfigIncomplete):
		return &apiError{http.StatusInternalServerError, "lab_config_incomplete", err.Error()}
	case errors.Is(err, lab.ErrRegistryIDsInvalid):
		return &apiError{http.StatusInternalServerError, "registry_ids_invalid", err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &apiError{http.StatusGatewayTimeout, "timeout", "request processing exceeded the allowed time limit"}
	case errors.Is(err, results.ErrPatientFolderNotFound):
		return &apiError{http.StatusNotFound, "patient_folder_not_found", "Patient folder not found"}
	case errors.Is(err, results.ErrNotAllowed):
		return &apiError{http.StatusForbidden, "not_allowed", "File is not available for this patient"}
	case errors.Is(err, logo.ErrLogoNotFound):
		return &apiError{http.StatusNotFound, "logo_not_found", "Logo not found"}
	case errors.Is(err, drive.ErrFileNotFound):
		return &apiError{http.StatusNotFound, "file_not_found", "File not found"}
	case errors.Is(err, auth.ErrUnauthorized):
		return &apiError{http.StatusUnauthorized, "unauthorized", "Invalid admin credentials"}
	case errors.Is(err, registry.ErrInvalidRecord):
		return badRequest("bad_request", registry.ErrInvalidRecord.Error())
	}
	return &apiError{http.StatusInternalServerError, "server_error", "Internal server error"}
}

// httpCodes names echo-level failures (routing, rate limiting, body limits,
// recovered panics) with the same vocabulary as the handlers.
var httpCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusTooManyRequests:       "rate_limited",
	http.StatusGatewayTimeout:        "timeout",
}

// ErrorHandler renders errors that escape a handler as {error, message}
// JSON with Cache-Control: no-store.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Error: "server_error", Message: "Internal server error"}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if code, ok := httpCodes[status]; ok {
			body.Error = code
		}
		if msg, ok := he.Message.(string); ok && status < http.StatusInternalServerError {
			body.Message = msg
		}
	} else {
		ae := classify(err)
		status = ae.Status
		body = ErrorResponse{Error: ae.Code, Message: ae.Message}
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
