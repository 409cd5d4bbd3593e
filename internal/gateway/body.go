package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
)

// File is one file part of a multipart upload.
type File struct {
	Field       string
	Name        string
	ContentType string
	Content     []byte
}

// Multipart is a form-data request body. A field with several values is
// written once per value, in order.
type Multipart struct {
	Fields url.Values
	Files  []File
}

// encodeBody renders body once per call so a retry replays identical bytes.
// []byte and json.RawMessage are sent verbatim as JSON.
func encodeBody(body any) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case json.RawMessage:
		return v, contentTypeJSON, nil
	case []byte:
		return v, contentTypeJSON, nil
	case *Multipart:
		if v == nil {
			return nil, "", nil
		}
		return v.encode()
	case Multipart:
		return v.encode()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, contentTypeJSON, nil
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (m Multipart) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range m.Fields[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("failed to write form field %s: %w", k, err)
			}
		}
	}

	for _, f := range m.Files {
		field := f.Field
		if field == "" {
			field = "file"
		}
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
		header.Set("Content-Type", contentType)

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("failed to write file part %s: %w", f.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
