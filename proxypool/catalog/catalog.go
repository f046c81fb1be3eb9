// Package catalog parses candidate proxy endpoints from a flat text source.
//
// One candidate per line, fields separated by ':':
//
//	host:port
//	host:port:user
//	host:port:user:pass
//
// Empty lines and lines starting with '#' are comments. Lines that do not parse
// are skipped; loading never fails because of malformed content, however long a
// line is.
//
// A password is only kept together with a username: "host:port::pass" yields an
// endpoint without credentials.
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/proxypool/model"
)

const (
	delimiter     = ":"
	commentMarker = "#"
	maxPort       = 65535
)

// ParseLine parses one proxy line. ok is false when the line must be skipped.
func ParseLine(line string) (ep model.Endpoint, ok bool) {
	fields := strings.Split(strings.TrimSpace(line), delimiter)
	if len(fields) < 2 {
		return model.Endpoint{}, false
	}

	host := strings.TrimSpace(fields[0])
	if host == "" {
		return model.Endpoint{}, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || port < 1 || port > maxPort {
		return model.Endpoint{}, false
	}

	ep = model.Endpoint{Host: host, Port: port}
	if len(fields) >= 3 {
		if user := strings.TrimSpace(fields[2]); user != "" {
			ep.Credentials = &model.Credentials{User: user}
		}
	}
	if len(fields) >= 4 && ep.Credentials != nil {
		ep.Credentials.Password = strings.TrimSpace(fields[3])
	}
	return ep, true
}

// Load reads endpoints from r in source order. Only an I/O error ends the read; it
// is returned together with everything parsed before it.
func Load(r io.Reader) ([]model.Endpoint, error) {
	l := logger.WithComponent("ProxyPool/Catalog")

	endpoints := make([]model.Endpoint, 0)
	reader := bufio.NewReader(r)
	lineNum := 0
	for {
		raw, err := reader.ReadString('\n')
		if raw != "" {
			lineNum++
			if ep, ok := parseSourceLine(raw); ok {
				endpoints = append(endpoints, ep)
			} else if !isComment(raw) {
				l.Debug().Int("line", lineNum).Msg("Skipping malformed proxy line.")
			}
		}
		if errors.Is(err, io.EOF) {
			return endpoints, nil
		}
		if err != nil {
			return endpoints, err
		}
	}
}

func isComment(raw string) bool {
	line := strings.TrimSpace(raw)
	return line == "" || strings.HasPrefix(line, commentMarker)
}

func parseSourceLine(raw string) (model.Endpoint, bool) {
	if isComment(raw) {
		return model.Endpoint{}, false
	}
	return ParseLine(raw)
}

// LoadFile loads endpoints from a file. A missing file yields an empty list;
// any other failure to read it is returned.
func LoadFile(path string) ([]model.Endpoint, error) {
	l := logger.WithComponent("ProxyPool/Catalog")

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.Info().Str("path", path).Msg("Proxy source not found, catalog is empty.")
			return []model.Endpoint{}, nil
		}
		return nil, fmt.Errorf("open proxy source: %w", err)
	}
	defer file.Close()

	endpoints, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("read proxy source %s: %w", path, err)
	}

	l.Info().Int("count", len(endpoints)).Str("path", path).Msg("Loaded proxy catalog.")
	return endpoints, nil
}

// First returns only the first valid entry, or an empty list.
func First(endpoints []model.Endpoint) []model.Endpoint {
	if len(endpoints) == 0 {
		return []model.Endpoint{}
	}
	return endpoints[:1]
}

// Limit returns at most max endpoints from the head of the list. max <= 0 means no cap.
func Limit(endpoints []model.Endpoint, max int) []model.Endpoint {
	if max > 0 && len(endpoints) > max {
		return endpoints[:max]
	}
	return endpoints
}
