package models

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

type InvalidQuery struct {
	Msg string
}

func (m InvalidQuery) Error() string {
	return fmt.Sprintf("Query is invalid: %s", m.Msg)
}

// DnsQuery is a validated DNS question message. It always carries
// exactly one question.
type DnsQuery struct {
	msg dns.Msg
}

// Construct a DnsQuery from a dns.Msg
func NewDnsQueryFromMsg(msg *dns.Msg) (*DnsQuery, error) {
	if msg == nil {
		return nil, InvalidQuery{"empty message"}
	}

	if msg.Response {
		return nil, InvalidQuery{"message is a response"}
	}

	if len(msg.Question) != 1 {
		return nil, InvalidQuery{fmt.Sprintf("expected exactly one question, got %d", len(msg.Question))}
	}

	query := DnsQuery{
		msg: *msg.Copy(),
	}

	if _, err := query.msg.Pack(); err != nil {
		// This is a lazy way to validate the query is well formed
		return nil, InvalidQuery{err.Error()}
	}

	return &query, nil
}

func NewDnsQueryFromQuestion(q dns.Question) (*DnsQuery, error) {
	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.RecursionDesired = true
	msg.Question = []dns.Question{q}

	return NewDnsQueryFromMsg(msg)
}

// Construct a DnsQuery from a byte representation of dns.Msg. Input
// longer than maxSize is refused before any parsing happens.
func NewDnsQueryFromBytes(msg []byte, maxSize int) (*DnsQuery, error) {
	if len(msg) == 0 {
		return nil, InvalidQuery{"empty message"}
	}

	if maxSize > 0 && len(msg) > maxSize {
		return nil, InvalidQuery{fmt.Sprintf("message of %d bytes exceeds limit of %d", len(msg), maxSize)}
	}

	dnsReq := new(dns.Msg)
	if err := dnsReq.Unpack(msg); err != nil {
		return nil, InvalidQuery{err.Error()}
	}

	return NewDnsQueryFromMsg(dnsReq)
}

// Build a query for the JSON API from its name and type parameters
func NewDnsQueryFromParams(name string, qtype string, checkingDisabled bool, dnssecOk bool) (*DnsQuery, error) {
	if name == "" {
		return nil, InvalidQuery{"missing query name"}
	}

	if _, ok := dns.IsDomainName(name); !ok {
		return nil, InvalidQuery{fmt.Sprintf("invalid query name '%s'", name)}
	}

	rrtype, err := ParseQueryType(qtype)
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), rrtype)
	msg.CheckingDisabled = checkingDisabled
	if dnssecOk {
		msg.SetEdns0(dns.DefaultMsgSize, true)
	}

	return NewDnsQueryFromMsg(msg)
}

// ParseQueryType accepts either a numeric record type (1-65535) or a
// mnemonic such as "AAAA".
func ParseQueryType(qtype string) (uint16, error) {
	if qtype == "" {
		return 0, InvalidQuery{"missing query type"}
	}

	if code, err := strconv.ParseUint(qtype, 10, 16); err == nil {
		if code == 0 {
			return 0, InvalidQuery{"invalid query type '0'"}
		}
		return uint16(code), nil
	}

	code, ok := dns.StringToType[strings.ToUpper(qtype)]
	if !ok {
		return 0, InvalidQuery{fmt.Sprintf("invalid query type '%s'", qtype)}
	}

	return code, nil
}

func (d *DnsQuery) Equal(other *DnsQuery) bool {
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

func (d DnsQuery) Id() uint16 {
	return d.msg.Id
}

// Return the question on the query
func (d DnsQuery) FirstQuestion() *dns.Question {
	if len(d.msg.Question) < 1 {
		return nil
	}

	return &d.msg.Question[0]
}

// WithFreshId returns a copy of the query carrying a random message ID
// along with the ID the client originally chose, so the reply can be
// given back the client's ID.
func (d DnsQuery) WithFreshId() (*DnsQuery, uint16) {
	return d.WithId(dns.Id()), d.msg.Id
}

func (d DnsQuery) WithId(id uint16) *DnsQuery {
	query := DnsQuery{msg: *d.msg.Copy()}
	query.msg.Id = id
	return &query
}

func (d DnsQuery) Pack() ([]byte, error) {
	packed, err := d.msg.Pack()
	if err != nil {
		return nil, NewError(KindInternal, "failed to pack dns query", err)
	}
	return packed, nil
}

// Copy of the underlying message, safe for the caller to modify
func (d DnsQuery) PreparedMsg() *dns.Msg {
	return d.msg.Copy()
}

func (d DnsQuery) String() string {
	q := d.FirstQuestion()
	if q == nil {
		return "<empty>"
	}
	return fmt.Sprintf("%s %s %s", q.Name, dns.ClassToString[q.Qclass], dns.TypeToString[q.Qtype])
}
