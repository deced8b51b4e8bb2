package handler

import (
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ulsgks/webserv/internal/config"
	"github.com/ulsgks/webserv/internal/httpmsg"
	"github.com/ulsgks/webserv/internal/logging"
)

func servePost(req *httpmsg.Request, loc *config.LocationBlock) (*httpmsg.Response, *httpmsg.Error) {
	if loc.MaxBodySize > 0 && int64(len(req.Body)) > loc.MaxBodySize {
		return nil, httpmsg.NewError(http.StatusRequestEntityTooLarge, "request body exceeds location limit")
	}
	contentType := req.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return handleMultipartUpload(req, loc, contentType)
	}
	// application/x-www-form-urlencoded, or a lenient fallback for absent
	// and unknown types.
	return handleFormSubmission(req, loc)
}

func handleMultipartUpload(req *httpmsg.Request, loc *config.LocationBlock, contentType string) (*httpmsg.Response, *httpmsg.Error) {
	boundary := extractBoundary(contentType)
	if boundary == "" {
		return nil, httpmsg.NewError(http.StatusBadRequest, "multipart body without boundary")
	}
	if loc.UploadStore == "" {
		return nil, httpmsg.NewError(http.StatusForbidden, "uploads are not enabled here")
	}

	var saved []string
	for _, part := range strings.Split(string(req.Body), "--"+boundary) {
		headerBlock, body, found := strings.Cut(part, "\r\n\r\n")
		if !found {
			continue
		}
		filename := extractFilename(headerBlock)
		if filename == "" {
			continue
		}
		body = strings.TrimSuffix(body, "\r\n")
		dest := filepath.Join(loc.UploadStore, filename)
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return nil, httpmsg.NewError(http.StatusConflict, filename+" already exists")
			}
			return nil, httpmsg.NewError(http.StatusInternalServerError, "cannot store upload: "+err.Error())
		}
		if _, err := f.Write([]byte(body)); err != nil {
			f.Close()
			return nil, httpmsg.NewError(http.StatusInternalServerError, "short write storing upload")
		}
		f.Close()
		logging.Infof("stored upload %s (%d bytes)", dest, len(body))
		saved = append(saved, filename)
	}

	resp := httpmsg.NewResponse()
	resp.Status = http.StatusCreated
	var b strings.Builder
	b.WriteString("<html><body><h1>Upload complete</h1><ul>\n")
	for _, name := range saved {
		fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(name))
	}
	b.WriteString("</ul></body></html>\n")
	resp.SetBody([]byte(b.String()), "text/html")
	return resp, nil
}

func extractBoundary(contentType string) string {
	for _, param := range strings.Split(contentType, ";") {
		param = strings.TrimSpace(param)
		if value, found := strings.CutPrefix(param, "boundary="); found {
			return strings.Trim(value, "\"")
		}
	}
	return ""
}

func extractFilename(headerBlock string) string {
	const marker = "filename=\""
	i := strings.Index(headerBlock, marker)
	if i < 0 {
		return ""
	}
	rest := headerBlock[i+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	// Keep only the base name; clients may send full paths.
	return filepath.Base(rest[:end])
}

func handleFormSubmission(req *httpmsg.Request, loc *config.LocationBlock) (*httpmsg.Response, *httpmsg.Error) {
	fields := parseFormBody(string(req.Body))

	status := http.StatusOK
	if loc.UploadStore != "" {
		name := fmt.Sprintf("form_submission_%d.txt", time.Now().Unix())
		dest := filepath.Join(loc.UploadStore, name)
		var b strings.Builder
		for _, key := range sortedKeys(fields) {
			fmt.Fprintf(&b, "%s=%s\n", key, fields[key])
		}
		if err := os.WriteFile(dest, []byte(b.String()), 0o644); err != nil {
			return nil, httpmsg.NewError(http.StatusInternalServerError, "cannot persist form data: "+err.Error())
		}
		logging.Infof("stored form submission %s", dest)
		status = http.StatusCreated
	}

	resp := httpmsg.NewResponse()
	resp.Status = status
	var b strings.Builder
	b.WriteString("<html><body><h1>Form received</h1><table>\n")
	for _, key := range sortedKeys(fields) {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(key), html.EscapeString(fields[key]))
	}
	b.WriteString("</table></body></html>\n")
	resp.SetBody([]byte(b.String()), "text/html")
	return resp, nil
}

func parseFormBody(body string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		out[httpmsg.PercentDecode(key, true)] = httpmsg.PercentDecode(value, true)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
