package server

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/56quarters/donut/models"
)

// DohRequest is one decoded DoH request. The set of implementations is
// closed: WireGet, WirePost and JsonGet.
type DohRequest interface {
	// Query validates the request and builds the DNS query it carries
	Query(maxSize int) (*models.DnsQuery, error)
	// Content type the answer must be written with
	ResponseType() string

	dohRequest()
}

type WireGet struct {
	Param string
}

type WirePost struct {
	ContentType string
	Body        []byte
}

type JsonGet struct {
	Name string
	Type string
	Cd   bool
	Do   bool
}

func badRequest(msg string, err error) error {
	return models.NewError(models.KindBadRequest, msg, err)
}

// NewDohRequest decides once, from the method and parameters, which kind
// of request r is. POST bodies are read here, never more than maxSize+1
// bytes.
func NewDohRequest(r *http.Request, maxSize int) (DohRequest, error) {
	switch r.Method {
	case http.MethodGet:
		params := r.URL.Query()
		if params.Has("dns") || !params.Has("name") {
			return WireGet{Param: params.Get("dns")}, nil
		}

		return JsonGet{
			Name: params.Get("name"),
			Type: params.Get("type"),
			Cd:   paramBool(params.Get("cd")),
			Do:   paramBool(params.Get("do")),
		}, nil
	case http.MethodPost:
		contentType := r.Header.Get("Content-Type")
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || !strings.EqualFold(mediaType, models.ContentTypeDnsMessage) {
			return nil, badRequest(fmt.Sprintf("unsupported content type '%s'", contentType), err)
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxSize)+1))
		if err != nil {
			return nil, badRequest("failed to read request body", err)
		}

		return WirePost{ContentType: mediaType, Body: body}, nil
	default:
		return nil, models.NewError(models.KindMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method), nil)
	}
}

func paramBool(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func (req WireGet) Query(maxSize int) (*models.DnsQuery, error) {
	if req.Param == "" {
		return nil, badRequest("missing dns parameter", nil)
	}

	if len(req.Param) > base64.RawURLEncoding.EncodedLen(maxSize) {
		return nil, badRequest(fmt.Sprintf("dns parameter of %d characters is too long", len(req.Param)), nil)
	}

	msg, err := base64.RawURLEncoding.DecodeString(req.Param)
	if err != nil {
		return nil, badRequest("dns parameter is not unpadded base64url", err)
	}

	return models.NewDnsQueryFromBytes(msg, maxSize)
}

func (req WireGet) ResponseType() string { return models.ContentTypeDnsMessage }
func (req WireGet) dohRequest()          {}

func (req WirePost) Query(maxSize int) (*models.DnsQuery, error) {
	if len(req.Body) == 0 {
		return nil, badRequest("empty request body", nil)
	}

	return models.NewDnsQueryFromBytes(req.Body, maxSize)
}

func (req WirePost) ResponseType() string { return models.ContentTypeDnsMessage }
func (req WirePost) dohRequest()          {}

func (req JsonGet) Query(_ int) (*models.DnsQuery, error) {
	return models.NewDnsQueryFromParams(req.Name, req.Type, req.Cd, req.Do)
}

func (req JsonGet) ResponseType() string { return models.ContentTypeDnsJson }
func (req JsonGet) dohRequest()          {}
