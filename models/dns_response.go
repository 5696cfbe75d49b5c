package models

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/miekg/dns"
)

// DnsResponse is an answer returned by the upstream resolver.
type DnsResponse struct {
	msg      *dns.Msg
	Resolver string
}

func NewDnsResponseFromMsg(msg *dns.Msg) (*DnsResponse, error) {
	response := DnsResponse{
		msg: cmp.Or(msg, new(dns.Msg)),
	}

	if _, err := response.msg.Pack(); err != nil {
		return nil, err // Lazy validation of the message
	}

	return &response, nil
}

// Construct a DnsResponse from a byte representation of dns.Msg
func NewDnsResponseFromBytes(msg []byte) (*DnsResponse, error) {
	dnsResp := new(dns.Msg)
	if err := dnsResp.Unpack(msg); err != nil {
		return nil, err
	}

	return NewDnsResponseFromMsg(dnsResp)
}

func (d *DnsResponse) Equal(other *DnsResponse) bool {
	if other == nil && d == nil {
		return true
	}

	if other == nil || d == nil {
		return false
	}

	packed, _ := d.msg.Pack()
	otherPacked, _ := other.msg.Pack()

	return bytes.Equal(packed, otherPacked)
}

func (d DnsResponse) Id() uint16 {
	return d.msg.Id
}

func (d DnsResponse) Truncated() bool {
	return d.msg.Truncated
}

func (d DnsResponse) IsEmpty() bool {
	return len(d.msg.Answer) == 0
}

// MinAnswerTtl is the number of seconds a downstream consumer may cache
// this response for: the smallest TTL among the answer records, or zero
// when there are none.
func (d DnsResponse) MinAnswerTtl() uint32 {
	if d.IsEmpty() {
		return 0
	}

	var ttls []uint32
	for _, answer := range d.msg.Answer {
		ttls = append(ttls, answer.Header().Ttl)
	}

	return slices.Min(ttls)
}

func (d DnsResponse) Answers() []DNSAnswer {
	answers := []DNSAnswer{}

	for _, rr := range d.msg.Answer {
		answers = append(answers, NewDnsAnswerFromRR(rr))
	}

	return answers
}

// AsReplyTo returns a copy of the upstream message carrying the message
// ID the client originally sent. Every section and flag is kept as the
// upstream produced it.
func (d *DnsResponse) AsReplyTo(clientId uint16) *dns.Msg {
	resp := d.msg.Copy()
	resp.Id = clientId
	return resp
}

func (d *DnsResponse) Pack() ([]byte, error) {
	packed, err := d.msg.Pack()
	if err != nil {
		return nil, NewError(KindInternal, "failed to pack dns response", err)
	}
	return packed, nil
}

// DNSAnswer is the presentation of a single answer record used by the
// JSON API.
type DNSAnswer struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

func NewDnsAnswerFromRR(answer dns.RR) DNSAnswer {
	dnsAnswer := DNSAnswer{
		Name: answer.Header().Name,
		Type: answer.Header().Rrtype,
		TTL:  answer.Header().Ttl,
	}

	switch rr := answer.(type) {
	case *dns.A:
		dnsAnswer.Data = rr.A.String()
	case *dns.AAAA:
		dnsAnswer.Data = rr.AAAA.String()
	case *dns.CNAME:
		dnsAnswer.Data = rr.Target
	case *dns.MX:
		dnsAnswer.Data = fmt.Sprintf("%d %s", rr.Preference, rr.Mx)
	case *dns.TXT:
		dnsAnswer.Data = fmt.Sprintf("\"%s\"", strings.Join(rr.Txt, ""))
	case *dns.NS:
		dnsAnswer.Data = rr.Ns
	case *dns.PTR:
		dnsAnswer.Data = rr.Ptr
	case *dns.SRV:
		dnsAnswer.Data = fmt.Sprintf("%d %d %d %s", rr.Priority, rr.Weight, rr.Port, rr.Target)
	case *dns.SOA:
		dnsAnswer.Data = fmt.Sprintf("%s %s %d %d %d %d %d", rr.Ns, rr.Mbox, rr.Serial, rr.Refresh, rr.Retry, rr.Expire, rr.Minttl)
	default:
		fields := []string{}
		for i := 1; i <= dns.NumField(answer); i++ {
			fields = append(fields, dns.Field(answer, i))
		}
		dnsAnswer.Data = strings.Join(fields, " ")
	}

	return dnsAnswer
}
