// dns2bin prints a DNS query for a name as unpadded base64url, suitable
// for the dns parameter of a DoH GET request, or as raw bytes.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/56quarters/donut/models"
)

func encodeQuery(name string, qtype string, raw bool) ([]byte, error) {
	query, err := models.NewDnsQueryFromParams(name, qtype, false, false)
	if err != nil {
		return nil, err
	}

	packed, err := query.WithId(0).Pack()
	if err != nil {
		return nil, err
	}

	if raw {
		return packed, nil
	}
	return []byte(base64.RawURLEncoding.EncodeToString(packed)), nil
}

func run(args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("dns2bin", flag.ContinueOnError)
	raw := flags.Bool("raw", false, "output raw binary instead of base64 text")
	qtype := flags.String("type", "A", "record type to look up")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() != 1 {
		return fmt.Errorf("usage: dns2bin [-raw] [-type A] name")
	}

	encoded, err := encodeQuery(flags.Arg(0), *qtype, *raw)
	if err != nil {
		return err
	}

	_, err = stdout.Write(encoded)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
