// Package rawhttp produces the wire dumps stored with every exchange and
// converts inbound request bodies into the JSON the note backend expects.
package rawhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/beevik/etree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/yosssi/gohtml"
)

// Prettify indents a JSON, XML or HTML body.
// Bodies in any other format are returned as an empty slice.
func Prettify(bodyBytes []byte) ([]byte, error) {
	trimmedBody := bytes.TrimSpace(bodyBytes)
	if len(trimmedBody) == 0 {
		return []byte{}, nil
	}

	if json.Valid(trimmedBody) {
		var output bytes.Buffer
		if err := json.Indent(&output, trimmedBody, "", "  "); err != nil {
			return []byte{}, fmt.Errorf("indenting JSON : %w", err)
		}
		return output.Bytes(), nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimmedBody); err == nil && doc.Root() != nil {
		doc.Indent(1)
		var output bytes.Buffer
		if _, err := doc.WriteTo(&output); err != nil {
			return []byte{}, fmt.Errorf("writing indented XML : %w", err)
		}
		return output.Bytes(), nil
	}

	contentType := mimetype.Detect(trimmedBody).String()
	if strings.Contains(contentType, "text/html") ||
		(bytes.HasPrefix(trimmedBody, []byte("<")) && !bytes.HasPrefix(trimmedBody, []byte("<?xml"))) {
		output := gohtml.FormatBytes(trimmedBody)
		if len(output) > 0 && !bytes.Equal(output, trimmedBody) {
			return output, nil
		}
	}

	return []byte{}, nil
}

// readAndRestore drains body and returns a replacement reader over the same bytes.
func readAndRestore(body io.ReadCloser) ([]byte, io.ReadCloser, error) {
	if body == nil || body == http.NoBody {
		return nil, body, nil
	}
	defer body.Close()

	bodyBytes, err := io.ReadAll(body)
	if err != nil {
		return nil, io.NopCloser(bytes.NewReader(nil)), err
	}
	return bodyBytes, io.NopCloser(bytes.NewReader(bodyBytes)), nil
}

// joinDump appends the body to the dumped head. The prettified variant is empty when the body cannot be prettified.
func joinDump(head, bodyBytes []byte) ([]byte, string) {
	fullDump := make([]byte, 0, len(head)+len(bodyBytes))
	fullDump = append(fullDump, head...)
	fullDump = append(fullDump, bodyBytes...)

	prettified, err := Prettify(bodyBytes)
	if err != nil || len(prettified) == 0 {
		return fullDump, ""
	}

	var pretty strings.Builder
	pretty.Grow(len(head) + len(prettified))
	pretty.Write(head)
	pretty.Write(prettified)
	return fullDump, pretty.String()
}

// DumpRequest returns the raw request and a prettified copy of it. The body is restored so it can still be sent.
func DumpRequest(req *http.Request) (rawDump []byte, prettyDump string, err error) {
	head, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		head, err = httputil.DumpRequest(req, false)
		if err != nil {
			return []byte{}, "", fmt.Errorf("dumping request : %w", err)
		}
	}

	bodyBytes, body, err := readAndRestore(req.Body)
	req.Body = body
	if err != nil {
		return []byte{}, "", fmt.Errorf("reading request body : %w", err)
	}

	rawDump, prettyDump = joinDump(head, bodyBytes)
	return rawDump, prettyDump, nil
}

// DumpResponse returns the raw response and a prettified copy of it. The body is restored so it can still be relayed.
func DumpResponse(res *http.Response) (rawDump []byte, prettyDump string, err error) {
	head, err := httputil.DumpResponse(res, false)
	if err != nil {
		return []byte{}, "", fmt.Errorf("dumping response : %w", err)
	}

	bodyBytes, body, err := readAndRestore(res.Body)
	res.Body = body
	if err != nil {
		return []byte{}, "", fmt.Errorf("reading response body : %w", err)
	}

	rawDump, prettyDump = joinDump(head, bodyBytes)
	return rawDump, prettyDump, nil
}
