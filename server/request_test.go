package server

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/56quarters/donut/models"
	"github.com/miekg/dns"
)

func packedTestQuery(t *testing.T, name string, id uint16) []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeA)
	msg.Id = id

	packed, err := msg.Pack()
	if err != nil {
		t.Fatalf("unexpected error while packing dns query: %v", err)
	}
	return packed
}

func TestDecodeRequest(t *testing.T) {
	valid := packedTestQuery(t, "example.com.", 1234)
	encoded := base64.RawURLEncoding.EncodeToString(valid)
	padded := base64.URLEncoding.EncodeToString(valid)
	if !strings.HasSuffix(padded, "=") {
		// 29 bytes always encode with padding
		t.Fatalf("test query does not need padding: %s", padded)
	}

	type test struct {
		name        string
		method      string
		target      string
		contentType string
		body        []byte
		kind        models.ErrorKind
		expectErr   bool
	}

	tests := []test{
		{name: "get", method: http.MethodGet, target: "/dns-query?dns=" + encoded},
		{name: "get missing param", method: http.MethodGet, target: "/dns-query", kind: models.KindBadRequest, expectErr: true},
		{name: "get empty param", method: http.MethodGet, target: "/dns-query?dns=", kind: models.KindBadRequest, expectErr: true},
		{name: "get padded param", method: http.MethodGet, target: "/dns-query?dns=" + padded, kind: models.KindBadRequest, expectErr: true},
		{name: "get standard base64", method: http.MethodGet, target: "/dns-query?dns=" + strings.Repeat("+/", 20), kind: models.KindBadRequest, expectErr: true},
		{name: "get oversized param", method: http.MethodGet, target: "/dns-query?dns=" + strings.Repeat("A", 700), kind: models.KindBadRequest, expectErr: true},
		{name: "get garbage message", method: http.MethodGet, target: "/dns-query?dns=" + base64.RawURLEncoding.EncodeToString([]byte("garbage!")), kind: models.KindBadRequest, expectErr: true},
		{name: "post", method: http.MethodPost, target: "/dns-query", contentType: models.ContentTypeDnsMessage, body: valid},
		{name: "post content type parameters", method: http.MethodPost, target: "/dns-query", contentType: "Application/DNS-Message; charset=binary", body: valid},
		{name: "post text", method: http.MethodPost, target: "/dns-query", contentType: "text/plain", body: valid, kind: models.KindBadRequest, expectErr: true},
		{name: "post no content type", method: http.MethodPost, target: "/dns-query", body: valid, kind: models.KindBadRequest, expectErr: true},
		{name: "post empty", method: http.MethodPost, target: "/dns-query", contentType: models.ContentTypeDnsMessage, kind: models.KindBadRequest, expectErr: true},
		{name: "post oversized", method: http.MethodPost, target: "/dns-query", contentType: models.ContentTypeDnsMessage, body: bytes.Repeat([]byte{1}, 513), kind: models.KindBadRequest, expectErr: true},
		{name: "put", method: http.MethodPut, target: "/dns-query", contentType: models.ContentTypeDnsMessage, body: valid, kind: models.KindMethodNotAllowed, expectErr: true},
		{name: "delete", method: http.MethodDelete, target: "/dns-query", kind: models.KindMethodNotAllowed, expectErr: true},
		{name: "json", method: http.MethodGet, target: "/dns-query?name=example.com&type=AAAA&do=1"},
		{name: "json bad type", method: http.MethodGet, target: "/dns-query?name=example.com&type=NOPE", kind: models.KindBadRequest, expectErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(test.method, test.target, bytes.NewReader(test.body))
			if test.contentType != "" {
				request.Header.Set("Content-Type", test.contentType)
			}

			var query *models.DnsQuery
			decoded, err := NewDohRequest(request, 512)
			if err == nil {
				query, err = decoded.Query(512)
			}

			if test.expectErr {
				if err == nil {
					t.Fatalf("expected an error but got query %v", query)
				}
				if models.KindOf(err) != test.kind {
					t.Errorf("error kind was %s, expected %s (%v)", models.KindOf(err), test.kind, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if query.FirstQuestion() == nil || query.FirstQuestion().Name != "example.com." {
				t.Errorf("unexpected query %v", query)
			}
		})
	}
}

func TestDecodeRequestVariants(t *testing.T) {
	get, _ := NewDohRequest(httptest.NewRequest(http.MethodGet, "/dns-query?dns=AAAA", nil), 512)
	if _, ok := get.(WireGet); !ok {
		t.Errorf("expected WireGet, got %T", get)
	}

	jsonGet, _ := NewDohRequest(httptest.NewRequest(http.MethodGet, "/dns-query?name=example.com&type=A&cd=true", nil), 512)
	decoded, ok := jsonGet.(JsonGet)
	if !ok {
		t.Fatalf("expected JsonGet, got %T", jsonGet)
	}

	if !decoded.Cd || decoded.Do {
		t.Errorf("flags were not decoded: %+v", decoded)
	}

	if decoded.ResponseType() != models.ContentTypeDnsJson {
		t.Errorf("json request answers with %s", decoded.ResponseType())
	}
}

func TestPostBodyReadIsBounded(t *testing.T) {
	body := bytes.NewReader(bytes.Repeat([]byte{1}, 10000))
	request := httptest.NewRequest(http.MethodPost, "/dns-query", body)
	request.Header.Set("Content-Type", models.ContentTypeDnsMessage)

	decoded, err := NewDohRequest(request, 512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	post := decoded.(WirePost)
	if len(post.Body) != 513 {
		t.Errorf("read %d bytes, expected 513", len(post.Body))
	}

	if body.Len() != 10000-513 {
		t.Errorf("body was read past the limit, %d bytes left", body.Len())
	}
}
