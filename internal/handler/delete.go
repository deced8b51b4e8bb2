package handler

import (
	"net/http"
	"os"

	"github.com/ulsgks/webserv/internal/httpmsg"
	"github.com/ulsgks/webserv/internal/logging"
)

func serveDelete(fsPath string) (*httpmsg.Response, *httpmsg.Error) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, statError(err, fsPath)
	}
	if !info.Mode().IsRegular() {
		return nil, httpmsg.NewError(http.StatusForbidden, "only regular files can be deleted")
	}
	if err := os.Remove(fsPath); err != nil {
		return nil, statError(err, fsPath)
	}
	logging.Infof("deleted %s", fsPath)

	resp := httpmsg.NewResponse()
	resp.SetBody([]byte("<html><body><h1>Deleted</h1></body></html>\n"), "text/html")
	return resp, nil
}
