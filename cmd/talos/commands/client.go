package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 실행 중인 봇의 제어 API와 통신하는 얇은 HTTP 클라이언트

var apiHost string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8090", "실행 중인 봇 API 주소")
}

var botClient = &http.Client{Timeout: 10 * time.Second}

// apiRequest performs a JSON request against the running bot and decodes
// the response into result (which may be nil).
func apiRequest(method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, apiHost+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := botClient.Do(req)
	if err != nil {
		return fmt.Errorf("bot unreachable at %s: %w", apiHost, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func apiGet(path string, result any) error {
	return apiRequest(http.MethodGet, path, nil, result)
}

func apiPost(path string, body, result any) error {
	return apiRequest(http.MethodPost, path, body, result)
}

func apiPut(path string, body, result any) error {
	return apiRequest(http.MethodPut, path, body, result)
}
