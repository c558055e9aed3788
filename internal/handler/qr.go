package handler

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gowa-bridge/internal/helper"
	"gowa-bridge/internal/model"

	"github.com/labstack/echo/v4"
)

var qrPage = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.Refresh}}">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;display:flex;flex-direction:column;align-items:center;margin-top:40px;color:#222}
img{border:1px solid #ddd;padding:8px;background:#fff}
small{color:#777}
</style>
</head>
<body>
<h2>Scan with WhatsApp</h2>
<p>Open WhatsApp, go to Linked devices and scan the code below.</p>
<img src="{{.Image}}" width="{{.Size}}" height="{{.Size}}" alt="WhatsApp QR code">
{{if .ExpiresAt}}<small>Expires at {{.ExpiresAt}}. The page refreshes automatically.</small>{{end}}
</body>
</html>
`))

type qrPageData struct {
	Title     string
	Image     template.URL
	Size      int
	Refresh   int
	ExpiresAt string
}

// GET /qr
func (g *Gateway) GetQR(c echo.Context) error {
	snap := g.ctrl.Snapshot()

	if snap.State == model.StateAuthenticated {
		return SuccessResponse(c, http.StatusOK, "Already authenticated", map[string]interface{}{
			"status": "authenticated",
			"state":  snap.State,
		})
	}

	if snap.QR == nil {
		return ErrorResponseWith(c, http.StatusNotFound, "QR not available", "QR_NOT_AVAILABLE",
			"No QR code is pending. Wait for the session to initialize or re-authenticate via "+g.cfg.ReauthURL,
			map[string]interface{}{
				"state":      snap.State,
				"reauth_url": g.cfg.ReauthURL,
			})
	}

	size := helper.DefaultQRSize
	if s := c.QueryParam("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid size", "VALIDATION_ERROR", "size must be an integer")
		}
		size = helper.ClampQRSize(n)
	}

	qr := snap.QR
	switch format := strings.ToLower(c.QueryParam("format")); format {
	case helper.QRFormatPNG, helper.QRFormatWebP:
		data, contentType, err := g.qrBytes(qr, format, size)
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to render QR code", "QR_RENDER_FAILED", err.Error())
		}
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.Blob(http.StatusOK, contentType, data)

	case "json":
		png, _, err := g.qrBytes(qr, helper.QRFormatPNG, size)
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to render QR code", "QR_RENDER_FAILED", err.Error())
		}
		data := map[string]interface{}{
			"state":   snap.State,
			"qr_code": qr.Code,
			"image":   helper.QRDataURL(png),
		}
		if !qr.ExpiresAt.IsZero() {
			data["expires_at"] = qr.ExpiresAt.UTC()
		}
		return SuccessResponse(c, http.StatusOK, "", data)

	case "", "html":
		png, _, err := g.qrBytes(qr, helper.QRFormatPNG, size)
		if err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to render QR code", "QR_RENDER_FAILED", err.Error())
		}
		page := qrPageData{
			Title:   g.cfg.ServiceName,
			Image:   template.URL(helper.QRDataURL(png)),
			Size:    size,
			Refresh: g.refreshSeconds(qr),
		}
		if !qr.ExpiresAt.IsZero() {
			page.ExpiresAt = qr.ExpiresAt.Format(time.RFC3339)
		}

		var buf bytes.Buffer
		if err := qrPage.Execute(&buf, page); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to render QR page", "QR_RENDER_FAILED", err.Error())
		}
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.HTMLBlob(http.StatusOK, buf.Bytes())

	default:
		return ErrorResponse(c, http.StatusBadRequest, "Invalid format", "VALIDATION_ERROR", "format must be one of html, png, webp, json")
	}
}

// qrBytes reuses the PNG rendered at transition time when it fits the request.
func (g *Gateway) qrBytes(qr *model.PendingQR, format string, size int) ([]byte, string, error) {
	if format == helper.QRFormatPNG && size == helper.DefaultQRSize && len(qr.PNG) > 0 {
		return qr.PNG, "image/png", nil
	}
	return helper.EncodeQR(qr.Code, format, size)
}

func (g *Gateway) refreshSeconds(qr *model.PendingQR) int {
	if qr.ExpiresAt.IsZero() {
		return 10
	}
	left := int(qr.ExpiresAt.Sub(g.now()).Seconds()) + 1
	if left < 2 {
		return 2
	}
	if left > 60 {
		return 60
	}
	return left
}
