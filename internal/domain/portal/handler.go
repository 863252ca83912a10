// Package portal serves the patient portal's HTTP endpoints. Every endpoint
// is a thin translation from query/body parameters to the labconfig,
// results, logo and accesslog packages.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labportal/portal/internal/domain/accesslog"
	"github.com/labportal/portal/internal/domain/lab"
	"github.com/labportal/portal/internal/domain/logo"
	"github.com/labportal/portal/internal/domain/registry"
	"github.com/labportal/portal/internal/domain/results"
	"github.com/labportal/portal/internal/platform/drive"
	"github.com/labportal/portal/internal/platform/middleware"
)

// RoutePrefixes are the mount points of the endpoints. The second keeps
// frontends built against the serverless deployment working.
var RoutePrefixes = []string{"/api", "/.netlify/functions"}

const logoCacheControl = "public, max-age=86400, immutable"

// LabResolver resolves and registers lab configuration.
type LabResolver interface {
	Resolve(ctx context.Context, labKey string) (*lab.Record, error)
	Register(ctx context.Context, rec lab.Record) (*registry.UpsertResult, bool, error)
	TTL() time.Duration
}

type LogoResolver interface {
	Resolve(ctx context.Context, labFolderID string) (*logo.Meta, error)
}

type AccessLogger interface {
	Append(ctx context.Context, spreadsheetID string, e accesslog.Entry) error
}

// AdminAuthenticator returns the caller's subject or auth.ErrUnauthorized.
type AdminAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Deps are the collaborators of a Handler. Logos may be nil.
type Deps struct {
	Labs      LabResolver
	Logos     LogoResolver
	Results   *results.Service
	AccessLog AccessLogger
	Admin     AdminAuthenticator
	Logger    zerolog.Logger
}

type Handler struct {
	labs      LabResolver
	logos     LogoResolver
	results   *results.Service
	accessLog AccessLogger
	admin     AdminAuthenticator
	logger    zerolog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		labs:      d.Labs,
		logos:     d.Logos,
		results:   d.Results,
		accessLog: d.AccessLog,
		admin:     d.Admin,
		logger:    d.Logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	read := []string{http.MethodGet, http.MethodHead}
	g.Match(read, "/get-lab-config", h.GetLabConfig, middleware.ETag())
	g.Match(read, "/get-files", h.GetFiles)
	g.Match(read, "/download-file", h.DownloadFile)

	// Method checks happen in the handlers so that a wrong method is
	// reported before authentication.
	g.Any("/log-access", h.LogAccess)
	g.Any("/register-lab", h.RegisterLab)
}

// GetLabConfig returns the display configuration of a lab.
func (h *Handler) GetLabConfig(c echo.Context) error {
	ctx := c.Request().Context()
	labKey := strings.TrimSpace(c.QueryParam("lab"))
	if labKey == "" {
		return h.fail(c, badRequest("missing_lab", "Missing lab query parameter"))
	}

	rec, err := h.labs.Resolve(ctx, labKey)
	if err != nil {
		return h.fail(c, err)
	}

	resp := LabConfigResponse{
		LabKey:        rec.LabKey,
		DriveFolderID: rec.DriveFolderID,
		LogSheetID:    rec.LogSheetID,
		LogoFileID:    rec.LogoFileID,
		Title:         orDefault(rec.Title, DefaultTitle),
		Subtitle:      orDefault(rec.Subtitle, DefaultSubtitle),
	}
	if m := h.resolveLogo(ctx, rec); m != nil {
		if resp.LogoFileID == "" {
			resp.LogoFileID = m.ID
		}
		resp.LogoURL = logoURL(routeBase(c), rec.LabKey, resp.LogoFileID, m.Name)
	} else if resp.LogoFileID != "" {
		resp.LogoURL = logoURL(routeBase(c), rec.LabKey, resp.LogoFileID, "")
	}

	ttl := int(h.labs.TTL() / time.Second)
	c.Response().Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(ttl))
	return c.JSON(http.StatusOK, resp)
}

// resolveLogo looks up the lab's Drive logo. Failures are logged and
// swallowed; the registry logo id still applies.
func (h *Handler) resolveLogo(ctx context.Context, rec *lab.Record) *logo.Meta {
	if h.logos == nil {
		return nil
	}
	m, err := h.logos.Resolve(ctx, rec.DriveFolderID)
	if err != nil {
		if !errors.Is(err, logo.ErrLogoNotFound) {
			h.logger.Warn().Err(err).Str("lab", rec.LabKey).Msg("logo resolution failed")
		}
		return nil
	}
	// A registry logo id wins; the resolved name is only a cache buster for it.
	if rec.LogoFileID != "" && m.ID != rec.LogoFileID {
		return &logo.Meta{ID: rec.LogoFileID}
	}
	return m
}

// GetFiles lists a patient's result files, or the blocked payload when a
// block marker is present.
func (h *Handler) GetFiles(c echo.Context) error {
	ctx := c.Request().Context()
	labKey := strings.TrimSpace(c.QueryParam("lab"))
	patientID := strings.TrimSpace(c.QueryParam("id"))
	if labKey == "" {
		return h.fail(c, badRequest("missing_lab", "Missing lab"))
	}
	if patientID == "" {
		return h.fail(c, badRequest("missing_id", "Missing patient id"))
	}

	rec, err := h.labs.Resolve(ctx, labKey)
	if err != nil {
		return h.fail(c, err)
	}

	listing, err := h.results.ListFiles(ctx, rec.DriveFolderID, patientID)
	if err != nil {
		return h.fail(c, err)
	}

	resp := FilesResponse{
		LabKey:    rec.LabKey,
		PatientID: patientID,
		FolderID:  listing.FolderID,
		Files:     listing.Files,
	}
	if b := listing.Blocked; b != nil {
		amount := b.Amount
		resp.Blocked = true
		resp.Amount = &amount
		resp.MarkerFileID = b.Marker.ID
		resp.MarkerFileName = b.Marker.Name
	}
	return c.JSON(http.StatusOK, resp)
}

// DownloadFile streams a result file after the block and ancestry checks,
// or a lab logo when logo=1.
func (h *Handler) DownloadFile(c echo.Context) error {
	ctx := c.Request().Context()
	labKey := strings.TrimSpace(c.QueryParam("lab"))
	patientID := strings.TrimSpace(c.QueryParam("id"))
	fileID := strings.TrimSpace(c.QueryParam("fileId"))
	isLogo := truthy(c.QueryParam("logo"))
	forceDownload := truthy(c.QueryParam("download"))

	if labKey == "" {
		return h.fail(c, badRequest("missing_lab", "Missing lab"))
	}
	if fileID == "" {
		return h.fail(c, badRequest("missing_fileId", "Missing fileId"))
	}

	rec, err := h.labs.Resolve(ctx, labKey)
	if err != nil {
		return h.fail(c, err)
	}

	if isLogo {
		if !h.isLabLogo(ctx, rec, fileID) {
			return h.fail(c, logo.ErrLogoNotFound)
		}
		meta, err := h.results.Meta(ctx, fileID)
		if err != nil {
			return h.fail(c, err)
		}
		disposition := "inline"
		if forceDownload {
			disposition = "attachment"
		}
		return h.stream(c, meta, disposition, logoCacheControl)
	}

	if patientID == "" {
		return h.fail(c, badRequest("missing_id", "Missing patient id"))
	}

	meta, err := h.results.Authorize(ctx, rec.DriveFolderID, patientID, fileID)
	if err != nil {
		return h.fail(c, err)
	}

	disposition := "attachment"
	if !forceDownload && inlineType(meta.MimeType) {
		disposition = "inline"
	}
	return h.stream(c, meta, disposition, "no-store")
}

func (h *Handler) isLabLogo(ctx context.Context, rec *lab.Record, fileID string) bool {
	if rec.LogoFileID != "" && rec.LogoFileID == fileID {
		return true
	}
	if h.logos == nil {
		return false
	}
	m, err := h.logos.Resolve(ctx, rec.DriveFolderID)
	return err == nil && m.ID == fileID
}

func (h *Handler) stream(c echo.Context, meta *drive.File, disposition, cacheControl string) error {
	body, err := h.results.Open(c.Request().Context(), meta.ID)
	if err != nil {
		return h.fail(c, err)
	}
	defer body.Close()

	mime := meta.MimeType
	if mime == "" {
		mime = echo.MIMEOctetStream
	}
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, contentDisposition(disposition, meta.Name))
	hdr.Set("Cache-Control", cacheControl)
	if meta.Size > 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(meta.Size, 10))
	}
	if c.Request().Method == http.MethodHead {
		hdr.Set(echo.HeaderContentType, mime)
		return c.NoContent(http.StatusOK)
	}
	return c.Stream(http.StatusOK, mime, body)
}

// LogAccess appends one row to the lab's access log spreadsheet.
func (h *Handler) LogAccess(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return h.fail(c, &apiError{http.StatusMethodNotAllowed, "method_not_allowed", "Use POST"})
	}

	var req LogAccessRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	labKey := strings.TrimSpace(orDefault(req.Lab, c.QueryParam("lab")))
	patientID := strings.TrimSpace(orDefault(req.PatientID, req.ID))
	if labKey == "" {
		return h.fail(c, badRequest("missing_lab", "Missing lab"))
	}
	if patientID == "" {
		return h.fail(c, badRequest("missing_patientId", "Missing patient id"))
	}

	ctx := c.Request().Context()
	rec, err := h.labs.Resolve(ctx, labKey)
	if err != nil {
		return h.fail(c, err)
	}

	entry := accesslog.Entry{
		PatientID: patientID,
		FileName:  req.FileName,
		FileID:    req.FileID,
		Action:    req.Action,
		UserAgent: orDefault(req.UserAgent, c.Request().UserAgent()),
	}
	if err := h.accessLog.Append(ctx, rec.LogSheetID, entry); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// RegisterLab upserts a lab into the registry. It requires the static admin
// token or an admin bearer token.
func (h *Handler) RegisterLab(c echo.Context) error {
	if c.Request().Method != http.MethodPost {
		return h.fail(c, &apiError{http.StatusMethodNotAllowed, "method_not_allowed", "Use POST"})
	}

	subject, err := h.admin.Authenticate(c.Request())
	if err != nil {
		return h.fail(c, err)
	}

	var req RegisterLabRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err)
	}

	res, snapshotUpdated, err := h.labs.Register(c.Request().Context(), lab.Record{
		LabKey:        req.LabKey,
		DriveFolderID: req.DriveFolderID,
		LogSheetID:    req.LogSheetID,
		LogoFileID:    req.LogoFileID,
		Title:         req.Title,
		Subtitle:      req.Subtitle,
	})
	if err != nil {
		return h.fail(c, err)
	}

	h.logger.Info().
		Str("admin", subject).
		Str("lab", lab.CanonicalKey(req.LabKey)).
		Str("action", res.Action).
		Msg("lab registered")

	return c.JSON(http.StatusOK, RegisterLabResponse{OK: true, Result: res, SnapshotUpdated: snapshotUpdated})
}

// decodeBody reads a JSON body whatever its Content-Type, since beacons
// arrive as text/plain. An empty or malformed body leaves v at its zero
// value so the required-field checks report what is missing.
func decodeBody(c echo.Context, v interface{}) error {
	body := c.Request().Body
	if body == nil || body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
	}
	return nil
}

// fail writes err as JSON. Server errors are logged with the request id.
func (h *Handler) fail(c echo.Context, err error) error {
	c.Response().Header().Set("Cache-Control", "no-store")

	var blocked *results.BlockedError
	if errors.As(err, &blocked) {
		return c.JSON(http.StatusForbidden, BlockedResponse{
			Error:          "blocked",
			Blocked:        true,
			Amount:         blocked.Amount,
			MarkerFileID:   blocked.Marker.ID,
			MarkerFileName: blocked.Marker.Name,
		})
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	ae := classify(err)
	if ae.Status >= http.StatusInternalServerError {
		rid, _ := c.Get("request_id").(string)
		h.logger.Error().Err(err).
			Str("request_id", rid).
			Str("route", c.Path()).
			Str("lab", c.QueryParam("lab")).
			Msg("request failed")
	}
	return c.JSON(ae.Status, ErrorResponse{Error: ae.Code, Message: ae.Message})
}

// routeBase returns the mount prefix of the current route, e.g. "/api".
func routeBase(c echo.Context) string {
	p := c.Path()
	if p == "" {
		p = c.Request().URL.Path
	}
	if i := strings.LastIndex(p, "/"); i > 0 {
		return p[:i]
	}
	return RoutePrefixes[0]
}

func logoURL(base, labKey, fileID, version string) string {
	u := base + "/download-file?lab=" + url.QueryEscape(labKey) +
		"&fileId=" + url.QueryEscape(fileID) + "&logo=1"
	if version != "" {
		u += "&v=" + url.QueryEscape(version)
	}
	return u
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
