package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ExecuteRequest is the body of an execute call. Command stays raw so that
// an absent field can be told apart from an explicit null.
type ExecuteRequest struct {
	Command json.RawMessage `json:"command"`
}

// decodeExecuteRequest returns the command carried by data. An absent command
// is the empty command; a null body, a null command or a non-string command
// is an error.
func decodeExecuteRequest(data []byte) (string, error) {
	var req *ExecuteRequest
	err := json.Unmarshal(data, &req)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "", errors.New("request body is null")
	}
	if req.Command == nil {
		return "", nil
	}
	if bytes.Equal(bytes.TrimSpace(req.Command), []byte("null")) {
		return "", errors.New("command is null")
	}

	var command string
	err = json.Unmarshal(req.Command, &command)
	if err != nil {
		return "", fmt.Errorf("command must be a string: %w", err)
	}
	return command, nil
}
