package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/draglass/internal/apperr"
	"github.com/starford/draglass/internal/parser"
)

const (
	maxImageSize         = 10 << 20 // 10 MB
	defaultImportFolder  = "attachments"
	importRedirectLimit  = 5
	importRequestTimeout = 30 * time.Second
)

var (
	imageExtByMIME = map[string]string{
		"image/png":     ".png",
		"image/jpeg":    ".jpg",
		"image/gif":     ".gif",
		"image/webp":    ".webp",
		"image/svg+xml": ".svg",
		"image/bmp":     ".bmp",
	}

	unsafeNameRe = regexp.MustCompile(`[^\p{L}\p{N}._ -]`)
)

type importResult struct {
	Path  string `json:"path"`
	Embed string `json:"embed"`
}

// importImage copies a remote or data-URI image into the vault so the live
// preview can display it, and returns the embed markup for it.
func (s *Server) importImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	folder := strings.Trim(req.GetString("folder", defaultImportFolder), "/")
	name := req.GetString("filename", "")

	var (
		data []byte
		ext  string
	)
	if strings.HasPrefix(raw, "data:") {
		data, ext, err = decodeDataURI(raw)
	} else {
		data, ext, err = s.download(ctx, raw)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if name == "" {
		name = nameFromURL(raw)
	}
	name = cleanFileName(name)
	if path.Ext(name) == "" {
		if ext == "" {
			return mcp.NewToolResultError("cannot determine image type; pass a filename with an extension"), nil
		}
		name += ext
	}
	if err := checkImageBytes(data, path.Ext(name)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rel := name
	if folder != "" {
		rel = folder + "/" + name
	}
	if parser.IsIgnoredPath(rel) {
		return mcp.NewToolResultError(fmt.Sprintf("cannot write to ignored path %s", rel)), nil
	}
	if err := s.store.CreateAsset(rel, data); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return mcp.NewToolResultError(fmt.Sprintf("file already exists: %s", rel)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("mcp: image imported", slog.String("path", rel), slog.Int("bytes", len(data)))

	out, _ := json.Marshal(importResult{Path: rel, Embed: "![[/" + rel + "]]"})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a base64 data:[<mediatype>];base64,<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", errors.New("invalid data URI: missing comma separator")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("only base64 data URIs are supported")
	}
	mime, _, _ := strings.Cut(strings.TrimSuffix(meta, ";base64"), ";")
	ext, ok := imageExtByMIME[strings.ToLower(mime)]
	if !ok {
		return nil, "", fmt.Errorf("unsupported image type in data URI: %s", mime)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	if len(data) > maxImageSize {
		return nil, "", fmt.Errorf("image too large: %d bytes (max %d)", len(data), maxImageSize)
	}
	return data, ext, nil
}

// download fetches an http(s) image, refusing loopback and metadata hosts.
func (s *Server) download(ctx context.Context, raw string) ([]byte, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %s (only http, https and data)", u.Scheme)
	}
	if err := s.checkHost(u.Hostname()); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, importRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	client := &http.Client{
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= importRedirectLimit {
				return fmt.Errorf("too many redirects (max %d)", importRedirectLimit)
			}
			return s.checkHost(r.URL.Hostname())
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, "", fmt.Errorf("image too large: exceeds %d bytes", maxImageSize)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, imageExtByMIME[strings.TrimSpace(mime)], nil
}

// checkHost rejects loopback and cloud metadata addresses unless the server
// was built with WithLoopbackImports.
func (s *Server) checkHost(host string) error {
	if s.allowLoopback {
		return nil
	}
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			// Let the HTTP client report DNS failures.
			return nil
		}
		ip = ips[0]
	}
	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

func nameFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "data" {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return uuid.NewString()
}

// cleanFileName keeps letters, digits, dots, dashes, underscores and spaces.
func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimLeft(unsafeNameRe.ReplaceAllString(name, "_"), ".")
	if strings.TrimSpace(name) == "" {
		return uuid.NewString()
	}
	return name
}

// checkImageBytes verifies that data looks like the image type ext names.
func checkImageBytes(data []byte, ext string) error {
	ext = strings.ToLower(ext)
	if ext == ".svg" {
		head := data[:min(len(data), 1024)]
		if !bytes.Contains(head, []byte("<svg")) {
			return errors.New("content is not an SVG image")
		}
		return nil
	}
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	detected, _, _ := strings.Cut(http.DetectContentType(data), ";")
	got, ok := imageExtByMIME[detected]
	if !ok {
		return fmt.Errorf("content is not a supported image (detected %s)", detected)
	}
	if got != ext {
		return fmt.Errorf("content does not match extension %s (detected %s)", ext, detected)
	}
	return nil
}
