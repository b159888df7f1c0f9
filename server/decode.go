package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/aloks98/deskauth"
)

// decodeBody reads the whole request body, bounded by the configured limit,
// and decodes it into dst. JSON and urlencoded forms are accepted; anything
// malformed, oversized or followed by trailing data is invalid input.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", deskauth.ErrInvalidInput, maxErr.Limit)
		}
		return fmt.Errorf("%w: reading request body: %v", deskauth.ErrInvalidInput, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: request body is empty", deskauth.ErrInvalidInput)
	}

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err = mime.ParseMediaType(ct); err != nil {
			return fmt.Errorf("%w: malformed content type", deskauth.ErrInvalidInput)
		}
	}

	switch mediaType {
	case "application/json":
		return decodeJSON(data, dst)
	case "application/x-www-form-urlencoded":
		return decodeForm(data, dst)
	default:
		return fmt.Errorf("%w: unsupported content type %q", deskauth.ErrInvalidInput, mediaType)
	}
}

func decodeJSON(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body", deskauth.ErrInvalidInput)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", deskauth.ErrInvalidInput)
	}
	return nil
}

// decodeForm maps the first value of each form field onto dst's JSON field
// names.
func decodeForm(data []byte, dst any) error {
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return fmt.Errorf("%w: malformed form body", deskauth.ErrInvalidInput)
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding form fields: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: malformed form body", deskauth.ErrInvalidInput)
	}
	return nil
}
