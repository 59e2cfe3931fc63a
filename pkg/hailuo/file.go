package hailuo

import (
	"context"
	"net/http"
)

// FileService provides attachment upload operations.
type FileService struct {
	client *Client
}

// FileHandle is an upstream file reference usable in a MessageRequest.
type FileHandle struct {
	ID   string `json:"fileID"`
	Name string `json:"fileName"`
	Size int64  `json:"fileSize"`
}

// uploadPolicy is the upstream's one-shot object-storage grant.
type uploadPolicy struct {
	UploadURL string `json:"uploadURL"`
	FileKey   string `json:"fileKey"`
}

// Upload transfers an attachment to the upstream's object storage and
// registers it, returning a handle that can be attached to a chat turn.
// Three steps: request an upload policy, PUT the bytes to the policy URL,
// register the stored object.
func (s *FileService) Upload(ctx context.Context, credential, filename string, data []byte) (*FileHandle, error) {
	device, err := s.client.Devices.Acquire(ctx, credential)
	if err != nil {
		return nil, err
	}

	policyReq := struct {
		FileName string `json:"fileName"`
		FileSize int64  `json:"fileSize"`
	}{FileName: filename, FileSize: int64(len(data))}

	var policy uploadPolicy
	err = s.client.http.request(ctx, credential, device.DeviceID, device.UserID, http.MethodPost, "/v1/api/files/request_policy", policyReq, &policy)
	if err != nil {
		return nil, err
	}

	contentType := http.DetectContentType(data)
	if err := s.client.http.upload(ctx, policy.UploadURL, data, contentType); err != nil {
		return nil, err
	}

	registerReq := struct {
		FileKey  string `json:"fileKey"`
		FileName string `json:"fileName"`
		FileSize int64  `json:"fileSize"`
	}{FileKey: policy.FileKey, FileName: filename, FileSize: int64(len(data))}

	var handle FileHandle
	err = s.client.http.request(ctx, credential, device.DeviceID, device.UserID, http.MethodPost, "/v1/api/files/register", registerReq, &handle)
	if err != nil {
		return nil, err
	}
	if handle.Name == "" {
		handle.Name = filename
	}
	if handle.Size == 0 {
		handle.Size = int64(len(data))
	}
	return &handle, nil
}
