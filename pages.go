package cloudauth

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/mwapstack/cloudauth/security"
)

// The callback lands in a popup or new tab opened by the application. The
// result pages hand the outcome back to the opener via postMessage and then
// close themselves; when there is no opener (direct navigation) the page just
// renders the message.
//
// Tokens never appear here: the success payload carries identifiers only, and
// the error payload carries the generic public message.

const successPageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Authorization Complete</title>
  <style>
    body { font-family: -apple-system, system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f5f7fa; }
    .card { background: #fff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); padding: 2.5rem 3rem; text-align: center; }
    h1 { font-size: 1.25rem; color: #1a7f37; }
    p { color: #555; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Authorization complete</h1>
    <p>You can close this window.</p>
  </div>
  <script>
    (function() {
      if (window.opener) {
        window.opener.postMessage({
          type: "oauth_success",
          tenantId: {{.TenantID}},
          integrationId: {{.IntegrationID}}
        }, "*");
        window.setTimeout(function() { window.close(); }, 500);
      }
    })();
  </script>
</body>
</html>
`

const errorPageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Authorization Failed</title>
  <style>
    body { font-family: -apple-system, system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f5f7fa; }
    .card { background: #fff; border-radius: 8px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); padding: 2.5rem 3rem; text-align: center; }
    h1 { font-size: 1.25rem; color: #b42318; }
    p { color: #555; }
  </style>
</head>
<body>
  <div class="card">
    <h1>Authorization failed</h1>
    <p>{{.Message}}</p>
  </div>
  <script>
    (function() {
      if (window.opener) {
        window.opener.postMessage({
          type: "oauth_error",
          message: {{.Message}},
          code: {{.Code}}
        }, "*");
        window.setTimeout(function() { window.close(); }, 2000);
      }
    })();
  </script>
</body>
</html>
`

var (
	successPageTmpl = template.Must(template.New("oauth-success").Parse(successPageTemplate))
	errorPageTmpl   = template.Must(template.New("oauth-error").Parse(errorPageTemplate))
)

type successPageData struct {
	TenantID      string
	IntegrationID string
}

type errorPageData struct {
	Message string
	Code    string
}

// serveResultPage renders the terminal flow result as HTML. Template
// execution goes to a buffer first so a failure never produces a partial
// response body.
func serveResultPage(w http.ResponseWriter, logger *slog.Logger, result *FlowResult) {
	if !result.Succeeded {
		serveErrorPage(w, logger, http.StatusBadRequest, result.Reason, result.PublicMessage)
		return
	}

	var buf bytes.Buffer
	err := successPageTmpl.Execute(&buf, successPageData{
		TenantID:      result.TenantID,
		IntegrationID: result.IntegrationID,
	})
	if err != nil {
		logger.Error("failed to execute callback result template", "error", err)
		servePlainFallback(w)
		return
	}

	security.SetCallbackPageHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// serveErrorPage renders the oauth_error presentation page with the given
// status. The callback endpoint always answers with a page, never JSON, so
// non-flow failures (e.g. rate limiting) also land here.
func serveErrorPage(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	var buf bytes.Buffer
	err := errorPageTmpl.Execute(&buf, errorPageData{
		Message: message,
		Code:    code,
	})
	if err != nil {
		logger.Error("failed to execute callback result template", "error", err)
		servePlainFallback(w)
		return
	}

	security.SetCallbackPageHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func servePlainFallback(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Authorization flow finished. Please return to the application."))
}
