package system

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

type ResolvConf struct {
	Nameservers []string
	path        string
	// search, options and sortlist are ignored
}

// FirstUpstream returns the first nameserver as a host:port address
func (r *ResolvConf) FirstUpstream(port string) (string, error) {
	if len(r.Nameservers) < 1 {
		return "", fmt.Errorf("no nameserver found in %s", r.path)
	}

	return net.JoinHostPort(r.Nameservers[0], port), nil
}

func newResolvConfFromReader(reader io.Reader) (*ResolvConf, error) {
	resolvConf := ResolvConf{}
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}

		words := strings.Fields(line)
		if len(words) < 2 {
			continue
		}

		if words[0] == "nameserver" {
			if net.ParseIP(strings.SplitN(words[1], "%", 2)[0]) == nil {
				continue
			}
			resolvConf.Nameservers = append(resolvConf.Nameservers, words[1])
		}
	}

	return &resolvConf, scanner.Err()
}

func NewResolvConfFromPath(path string) (*ResolvConf, error) {
	conf, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer conf.Close()

	resolvConf, err := newResolvConfFromReader(conf)
	if err != nil {
		return resolvConf, err
	}

	resolvConf.path = path

	return resolvConf, nil
}
