// bin2dns reads a binary DNS message on stdin and prints it in a dig-like
// text format.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/56quarters/donut/models"
	"github.com/miekg/dns"
)

func formatRecords(buf *strings.Builder, records []dns.RR) {
	for _, rr := range records {
		hdr := rr.Header()
		answer := models.NewDnsAnswerFromRR(rr)
		fmt.Fprintf(buf, "%s\t\t%d\t%s\t%s\t%s\n",
			hdr.Name, hdr.Ttl, dns.ClassToString[hdr.Class], dns.TypeToString[hdr.Rrtype], answer.Data)
	}
}

func formatMessage(msg *dns.Msg) string {
	buf := strings.Builder{}

	buf.WriteString(";; QUESTION SECTION:\n")
	for _, q := range msg.Question {
		fmt.Fprintf(&buf, "; %s\t\t\t%s\t%s\n", q.Name, dns.ClassToString[q.Qclass], dns.TypeToString[q.Qtype])
	}
	buf.WriteString("\n")

	if len(msg.Answer) > 0 {
		buf.WriteString(";; ANSWER SECTION:\n")
		formatRecords(&buf, msg.Answer)
	} else {
		buf.WriteString(";; AUTHORITY SECTION:\n")
		formatRecords(&buf, msg.Ns)
	}

	return buf.String()
}

func run(stdin io.Reader, stdout io.Writer) error {
	data, err := io.ReadAll(io.LimitReader(stdin, int64(models.MaxMessageSize)+1))
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}

	if len(data) == 0 {
		return fmt.Errorf("read error: empty payload")
	}

	if len(data) > models.MaxMessageSize {
		return fmt.Errorf("read error: payload larger than %d bytes", models.MaxMessageSize)
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return fmt.Errorf("decoding error: %w", err)
	}

	_, err = fmt.Fprintln(stdout, formatMessage(msg))
	return err
}

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
