package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jmtorr3/blog/internal/mediaservice"
	"github.com/jmtorr3/blog/internal/models"
)

var extByMIME = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

var errBlockedAddress = errors.New("address not allowed")

type uploadResult struct {
	ID    string         `json:"id"`
	URL   string         `json:"url"`
	Block map[string]any `json:"block"`
}

// payload is downloaded or decoded file content with the MIME type its
// source declared.
type payload struct {
	data []byte
	mime string
}

func (s *Server) uploadMedia(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := req.RequireString("username")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	owner, err := s.db.AccountByUsername(ctx, username)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unknown user: %s", username)), nil
	}

	p, err := load(ctx, source, s.media.MaxUpload())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filename := req.GetString("filename", "")
	if filename == "" {
		filename = nameFor(source, p.mime)
	}
	kind, err := models.KindFromFilename(filename)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := sniff(p.data, kind, path.Ext(filename)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	m, _, err := s.media.Upload(ctx, owner, mediaservice.UploadInput{
		Filename: filename,
		Body:     bytes.NewReader(p.data),
		AltText:  req.GetString("alt_text", ""),
		PostSlug: req.GetString("post_slug", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	u := s.media.URL(m)
	block := map[string]any{"id": uuid.NewString(), "type": string(kind), "src": u}
	out, err := json.Marshal(uploadResult{ID: m.ID.String(), URL: u, Block: block})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// load reads content from a base64 data URI or an http(s) URL.
func load(ctx context.Context, source string, limit int64) (payload, error) {
	if rest, ok := strings.CutPrefix(source, "data:"); ok {
		return parseDataURI(rest, limit)
	}
	return fetch(ctx, source, limit)
}

// parseDataURI decodes the part of a data URI after "data:". Only base64
// payloads of a known media type are accepted.
func parseDataURI(rest string, limit int64) (payload, error) {
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return payload{}, errors.New("invalid data URI: missing comma separator")
	}
	params := strings.Split(meta, ";")
	if params[len(params)-1] != "base64" {
		return payload{}, errors.New("only base64 data URIs are supported")
	}
	mime := strings.ToLower(params[0])
	if _, ok := extByMIME[mime]; !ok {
		return payload{}, fmt.Errorf("unsupported MIME type in data URI: %q", mime)
	}
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > limit+3 {
		return payload{}, fmt.Errorf("file too large: exceeds %d bytes", limit)
	}

	enc := base64.StdEncoding
	if !strings.HasSuffix(encoded, "=") && len(encoded)%4 != 0 {
		enc = base64.RawStdEncoding
	}
	data, err := enc.DecodeString(encoded)
	if err != nil {
		return payload{}, fmt.Errorf("invalid base64 data: %w", err)
	}
	if int64(len(data)) > limit {
		return payload{}, fmt.Errorf("file too large: exceeds %d bytes", limit)
	}
	return payload{data: data, mime: mime}, nil
}

// fetch downloads source. Connections to loopback, private, link-local and
// unspecified addresses are refused at dial time, so redirects and DNS
// answers cannot reach them either.
func fetch(ctx context.Context, source string, limit int64) (payload, error) {
	u, err := url.Parse(source)
	if err != nil {
		return payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return payload{}, fmt.Errorf("unsupported scheme: %q (only http/https)", u.Scheme)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: refuseInternal}
	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{DialContext: dialer.DialContext},
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects (max 5)")
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return payload{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return payload{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return payload{}, fmt.Errorf("file too large: %d bytes exceeds %d", resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return payload{}, fmt.Errorf("read body failed: %w", err)
	}
	if int64(len(data)) > limit {
		return payload{}, fmt.Errorf("file too large: exceeds %d bytes", limit)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return payload{data: data, mime: strings.TrimSpace(strings.ToLower(mime))}, nil
}

// refuseInternal is a net.Dialer Control hook; address is the resolved ip:port.
func refuseInternal(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || blockedIP(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast()
}

// nameFor picks a stored file name: the URL's basename when it has an
// extension, otherwise a random name with the extension of mime.
func nameFor(source, mime string) string {
	if !strings.HasPrefix(source, "data:") {
		if u, err := url.Parse(source); err == nil {
			if base := path.Base(u.Path); path.Ext(base) != "" {
				return base
			}
		}
	}
	ext := extByMIME[mime]
	if ext == "" {
		ext = ".bin"
	}
	return uuid.NewString() + ext
}

// sniff checks that content looks like the declared kind and, for images,
// the declared format.
func sniff(data []byte, kind models.MediaKind, ext string) error {
	detected, _, _ := strings.Cut(http.DetectContentType(data), ";")
	ext = strings.ToLower(ext)

	if kind == models.MediaVideo {
		// QuickTime containers are not recognised by the sniffer.
		if ext == ".mov" || strings.HasPrefix(detected, "video/") {
			return nil
		}
		return fmt.Errorf("content does not appear to be a video (detected: %s)", detected)
	}

	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if extByMIME[detected] != ext {
		return fmt.Errorf("content does not match extension %s (detected: %s)", ext, detected)
	}
	return nil
}
