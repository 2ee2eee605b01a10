package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-resty/resty/v2"
)

// headers whose values carry credentials, they are written as [redacted]
var redactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
	"X-Xsrf-Token",
}

type exchange struct {
	method     string
	url        string
	reqHeaders http.Header
	reqBody    string

	status      string
	finalUrl    string
	resHeaders  http.Header
	resBody     string
	elapsedTime string
}

func newExchange(res *resty.Response) exchange {
	ex := exchange{
		method:      res.Request.Method,
		url:         res.Request.URL,
		finalUrl:    res.Request.URL,
		status:      res.Status(),
		resHeaders:  res.Header(),
		resBody:     res.String(),
		elapsedTime: res.Time().String(),
	}
	if res.Request.RawRequest != nil {
		ex.reqHeaders = res.Request.RawRequest.Header
		ex.reqBody = readRequestBody(res.Request.RawRequest)
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		ex.finalUrl = res.RawResponse.Request.URL.String()
	}
	return ex
}

func readRequestBody(req *http.Request) string {
	if req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("<failed to get request body: %v>", err)
	}
	defer body.Close()
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<failed to read request body: %v>", err)
	}
	return string(contents)
}

// writeHeaders writes headers sorted by key so dumps of the same exchange
// diff cleanly.
func writeHeaders(out *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		redact := slices.Contains(redactedHeaders, http.CanonicalHeaderKey(k))
		for _, v := range headers[k] {
			if redact {
				v = "[redacted]"
			}
			fmt.Fprintf(out, "%s: %s\n", k, v)
		}
	}
}

func (ex exchange) String() string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", ex.method, ex.url)
	writeHeaders(&out, ex.reqHeaders)
	if ex.reqBody != "" {
		fmt.Fprintf(&out, "\n%s\n", ex.reqBody)
	}

	out.WriteString("\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%s %s (%s)\n\n", ex.status, ex.finalUrl, ex.elapsedTime)
	writeHeaders(&out, ex.resHeaders)
	if ex.resBody != "" {
		fmt.Fprintf(&out, "\n%s\n", ex.resBody)
	}

	return out.String()
}

func formatHttpMessage(res *resty.Response) string {
	return newExchange(res).String()
}
