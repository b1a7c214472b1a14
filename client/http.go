package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpGet performs a GET request and decodes the JSON response.
func httpGet(url string, result any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("GET", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpGetOptional performs a GET request where 404 means "not there" rather
// than failure. Returns whether the resource was found.
func httpGetOptional(url string, result any) (bool, error) {
	resp, err := http.Get(url)
	if err != nil {
		return false, fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return false, statusError("GET", url, resp)
	}

	return true, json.NewDecoder(resp.Body).Decode(result)
}

// httpGetAudit performs a GET request against the audit endpoint, which
// reports an unhealthy registry with status 409 and a full report body.
func httpGetAudit(url string, result any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return statusError("GET", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpPostJSON performs a POST request with a JSON body and decodes the
// JSON response.
func httpPostJSON(url string, body any, result any) error {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("POST", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpPostBytes performs a POST request with a raw body and decodes the
// JSON response.
func httpPostBytes(url string, body []byte, result any) error {
	resp, err := http.Post(url, "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("POST", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// statusError builds an error from an unexpected response, including the
// server's error message when the body carries one.
func statusError(method, url string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s %s: %s (status %d)", method, url, body.Error, resp.StatusCode)
	}

	return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
}
