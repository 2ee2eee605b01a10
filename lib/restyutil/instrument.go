package restyutil

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type InstrumentOutput interface {
	Write(id string, contents string)
}

// InstrumentClient dumps every completed request/response pair made by
// client into output, ids are prefixed with `prefix` and count up from 1.
// `output` can be nil, if it is, then the function is a no-op.
func InstrumentClient(client *resty.Client, prefix string, output InstrumentOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		id := nextId(prefix, &idcounter)
		output.Write(id, formatHttpMessage(res))
		slog.DebugContext(
			res.Request.Context(), "dumped http message",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"status", res.StatusCode(),
			"message_id", id,
		)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		id := nextId(prefix, &idcounter)
		output.Write(id, fmt.Sprintf("---- REQUEST ----\n\n%s %s\n\n---- ERROR ----\n\n%s", req.Method, req.URL, err.Error()))
	})
}

func nextId(prefix string, counter *uint64) string {
	n := atomic.AddUint64(counter, 1)
	if prefix == "" {
		return fmt.Sprintf("%04d", n)
	}
	return fmt.Sprintf("%s-%04d", strings.ReplaceAll(prefix, "/", "_"), n)
}
