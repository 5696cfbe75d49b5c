package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/56quarters/donut/models"
)

type DohResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// statusForKind is the only place error kinds become HTTP statuses
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindBadRequest:
		return http.StatusBadRequest
	case models.KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewDohResponse encodes the upstream answer for the client that sent
// query, restoring the client's message ID.
func NewDohResponse(query *models.DnsQuery, response *models.DnsResponse, contentType string) (DohResponse, error) {
	var body []byte
	var err error

	switch contentType {
	case models.ContentTypeDnsJson:
		body, err = models.NewJsonResponse(response).Marshal()
	default:
		contentType = models.ContentTypeDnsMessage
		body, err = response.AsReplyTo(query.Id()).Pack()
		if err != nil {
			err = models.NewError(models.KindInternal, "failed to pack reply", err)
		}
	}

	if err != nil {
		return DohResponse{}, err
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", fmt.Sprintf("max-age=%d", response.MinAnswerTtl()))

	return DohResponse{
		Status: http.StatusOK,
		Header: header,
		Body:   body,
	}, nil
}

// NewErrorResponse carries only the status text, never err's detail
func NewErrorResponse(err error) DohResponse {
	kind := models.KindOf(err)
	status := statusForKind(kind)

	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Content-Type-Options", "nosniff")
	if kind == models.KindMethodNotAllowed {
		header.Set("Allow", "GET, POST")
	}

	return DohResponse{
		Status: status,
		Header: header,
		Body:   []byte(http.StatusText(status) + "\n"),
	}
}

func (r DohResponse) WriteTo(w http.ResponseWriter) error {
	for key, values := range r.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.Status)

	_, err := w.Write(r.Body)
	return err
}
