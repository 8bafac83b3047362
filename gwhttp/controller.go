package gwhttp

import (
	"context"
	"net/http"

	"github.com/gordian-engine/gwatch/gwatchdog"
)

// ControllerClient is a [gwatchdog.Controller]
// that asks an external service whether to keep waiting.
//
// It posts a [NotRespondingRequest] as JSON to URL
// and expects a [NotRespondingResponse] with status 200.
// Any transport or decoding failure is returned as an error,
// which the watchdog treats as permission to terminate.
type ControllerClient struct {
	URL string

	// HTTP defaults to [http.DefaultClient].
	HTTP *http.Client
}

var _ gwatchdog.Controller = ControllerClient{}

func (c ControllerClient) SystemNotResponding(ctx context.Context, subject string) (int, error) {
	var resp NotRespondingResponse
	err := Client{BaseURL: c.URL, HTTP: c.HTTP}.do(
		ctx, http.MethodPost, "", NotRespondingRequest{Subject: subject}, http.StatusOK, &resp,
	)
	if err != nil {
		return 0, err
	}
	return resp.Result, nil
}
