package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is shared by every command. Mining a block can take a while.
var client = http.Client{
	Timeout: 2 * time.Minute,
}

// apiError mirrors the error document returned by the node.
type apiError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// send performs the request and writes the indented response document to out.
func send(out io.Writer, method string, url string, body any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var ae apiError
		if err := json.Unmarshal(data, &ae); err != nil || ae.Error == "" {
			return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
		}
		if len(ae.Fields) > 0 {
			return fmt.Errorf("%s: %v", ae.Error, ae.Fields)
		}
		return fmt.Errorf("%s", ae.Error)
	}

	var doc bytes.Buffer
	if err := json.Indent(&doc, data, "", "  "); err != nil {
		_, err := out.Write(data)
		return err
	}
	doc.WriteByte('\n')

	_, err = doc.WriteTo(out)
	return err
}
