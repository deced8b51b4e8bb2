package httpmsg

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ServerSoftware identifies this server in the Server header and in the CGI
// environment.
const ServerSoftware = "webserv/1.0"

// TimeFormat is RFC 1123 with the zone fixed to GMT; times must be UTC.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Response is an outbound HTTP/1.1 message.
type Response struct {
	Status int
	Header *Header
	Body   []byte
}

// NewResponse returns a 200 response carrying Date and Server.
func NewResponse() *Response {
	r := &Response{Status: http.StatusOK, Header: NewHeader()}
	r.Header.Set("Date", time.Now().UTC().Format(TimeFormat))
	r.Header.Set("Server", ServerSoftware)
	return r
}

// SetBody assigns the body and keeps Content-Length in sync.
func (r *Response) SetBody(body []byte, contentType string) {
	r.Body = body
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
}

func reasonPhrase(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Unknown"
}

// Bytes serializes the response into its wire form.
func (r *Response) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, reasonPhrase(r.Status))
	for _, f := range r.Header.Fields() {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	out := make([]byte, 0, b.Len()+len(r.Body))
	out = append(out, b.String()...)
	out = append(out, r.Body...)
	return out
}

// RedirectResponse builds a 3xx response with a minimal HTML linkback body.
func RedirectResponse(status int, location string) *Response {
	r := NewResponse()
	r.Status = status
	r.Header.Set("Location", location)
	body := fmt.Sprintf("<html><body><h1>%d %s</h1><p>Moved to <a href=\"%s\">%s</a></p></body></html>\n",
		status, reasonPhrase(status), location, location)
	r.SetBody([]byte(body), "text/html")
	return r
}

// ErrorResponse builds the default error page for a status. A non-empty
// stylesheet path is linked from the page head.
func ErrorResponse(status int, stylesheet string) *Response {
	r := NewResponse()
	r.Status = status
	reason := reasonPhrase(status)
	var b strings.Builder
	b.WriteString("<html><head><title>")
	fmt.Fprintf(&b, "%d %s", status, reason)
	b.WriteString("</title>")
	if stylesheet != "" {
		fmt.Fprintf(&b, "<link rel=\"stylesheet\" href=\"%s\">", stylesheet)
	}
	fmt.Fprintf(&b, "</head><body><h1>%d %s</h1><hr><p>%s</p></body></html>\n",
		status, reason, ServerSoftware)
	r.SetBody([]byte(b.String()), "text/html")
	return r
}
